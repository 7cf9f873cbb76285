package changedetect

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-dayback/pkg/discovery"
	"github.com/paulschiretz/pgl-dayback/pkg/hashing"
	"github.com/paulschiretz/pgl-dayback/pkg/manifest"
)

// countingHasher wraps a real hasher and records how often it is used.
type countingHasher struct {
	inner *hashing.Hasher
	calls int
	err   error
}

func (h *countingHasher) HashFile(absPath string) (string, error) {
	h.calls++
	if h.err != nil {
		return "", h.err
	}
	return h.inner.HashFile(absPath)
}

func newCandidate(t *testing.T, content string, modTime time.Time) discovery.Candidate {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(p, modTime, modTime); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	return discovery.Candidate{AbsPath: p, RelPathKey: "a.txt", AbsRoot: dir, Info: info}
}

func TestDecide(t *testing.T) {
	modTime := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)
	md5Hello := "5d41402abc4b2a76b9719d911017c592"

	testCases := []struct {
		name          string
		prev          manifest.Entry
		found         bool
		wantDecision  Decision
		wantHashCalls int
	}{
		{
			name:          "New file is hashed",
			found:         false,
			wantDecision:  New,
			wantHashCalls: 1,
		},
		{
			name:          "Same size and mtime skips hashing",
			prev:          manifest.Entry{ContentHash: "stale", SizeBytes: 5, ModifiedTime: modTime.Unix()},
			found:         true,
			wantDecision:  Unchanged,
			wantHashCalls: 0,
		},
		{
			name:          "Touched file with same content",
			prev:          manifest.Entry{ContentHash: md5Hello, SizeBytes: 5, ModifiedTime: modTime.Unix() - 60},
			found:         true,
			wantDecision:  ChangedFalsePositive,
			wantHashCalls: 1,
		},
		{
			name:          "Size differs and content differs",
			prev:          manifest.Entry{ContentHash: "0123", SizeBytes: 3, ModifiedTime: modTime.Unix()},
			found:         true,
			wantDecision:  ChangedConfirmed,
			wantHashCalls: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCandidate(t, "hello", modTime)
			h := &countingHasher{inner: hashing.NewHasher(hashing.MD5)}

			res, err := NewDetector(h).Decide(c, tc.prev, tc.found)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Decision != tc.wantDecision {
				t.Errorf("expected decision %s, got %s", tc.wantDecision, res.Decision)
			}
			if h.calls != tc.wantHashCalls {
				t.Errorf("expected %d hash calls, got %d", tc.wantHashCalls, h.calls)
			}
			if tc.wantHashCalls > 0 && res.Hash != md5Hello {
				t.Errorf("expected hash %s, got %s", md5Hello, res.Hash)
			}
			if tc.wantDecision == Unchanged && res.Hash != "" {
				t.Errorf("expected no hash for unchanged file, got %s", res.Hash)
			}
		})
	}
}

func TestDecide_SubSecondMtimeIsIgnored(t *testing.T) {
	modTime := time.Date(2024, 3, 10, 8, 30, 0, 750_000_000, time.UTC)
	c := newCandidate(t, "hello", modTime)
	h := &countingHasher{inner: hashing.NewHasher(hashing.MD5)}
	prev := manifest.Entry{ContentHash: "x", SizeBytes: 5, ModifiedTime: modTime.Unix()}

	res, err := NewDetector(h).Decide(c, prev, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != Unchanged {
		t.Errorf("expected unchanged, got %s", res.Decision)
	}
}

func TestDecide_HashError(t *testing.T) {
	c := newCandidate(t, "hello", time.Now())
	h := &countingHasher{err: errors.New("permission denied")}

	if _, err := NewDetector(h).Decide(c, manifest.Entry{}, false); err == nil {
		t.Fatal("expected error when hashing fails")
	}
}

func TestDecision_String(t *testing.T) {
	testCases := map[Decision]string{
		New:                  "new",
		Unchanged:            "unchanged",
		ChangedConfirmed:     "changed",
		ChangedFalsePositive: "hash-same",
		Decision(42):         "unknown",
	}
	for d, want := range testCases {
		if got := d.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
		if d.NeedsCopy() != (d == New || d == ChangedConfirmed) {
			t.Errorf("unexpected NeedsCopy for %s", d)
		}
	}
}
