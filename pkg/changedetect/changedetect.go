// Package changedetect decides whether a discovered file must be copied.
//
// The check is layered. Size and modification time (whole seconds) are
// compared against the manifest first; the content is hashed only when that
// cheap check fails, or when the file has never been seen. A metadata change
// whose hash still matches is reported as a false positive so the caller can
// refresh the stored metadata without copying.
package changedetect

import (
	"fmt"

	"github.com/paulschiretz/pgl-dayback/pkg/discovery"
	"github.com/paulschiretz/pgl-dayback/pkg/hashing"
	"github.com/paulschiretz/pgl-dayback/pkg/manifest"
)

// Result carries the decision and, when the file was read, its content hash.
type Result struct {
	Decision Decision
	// Hash is empty for Unchanged.
	Hash string
}

// ContentHasher hashes a file by absolute path.
type ContentHasher interface {
	HashFile(absPath string) (string, error)
}

type Detector struct {
	hasher ContentHasher
}

// NewDetector creates a detector that confirms changes with hasher.
func NewDetector(hasher ContentHasher) *Detector {
	return &Detector{hasher: hasher}
}

// Decide classifies c against its previous manifest entry. found reports
// whether prev exists.
func (d *Detector) Decide(c discovery.Candidate, prev manifest.Entry, found bool) (Result, error) {
	if found && prev.SizeBytes == c.Info.Size() && prev.ModifiedTime == c.Info.ModTime().Unix() {
		return Result{Decision: Unchanged}, nil
	}

	hash, err := d.hasher.HashFile(c.AbsPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to hash %s: %w", c.RelPathKey, err)
	}

	switch {
	case !found:
		return Result{Decision: New, Hash: hash}, nil
	case hash == prev.ContentHash:
		return Result{Decision: ChangedFalsePositive, Hash: hash}, nil
	default:
		return Result{Decision: ChangedConfirmed, Hash: hash}, nil
	}
}

// Statically assert that the streaming hasher can serve the detector.
var _ ContentHasher = (*hashing.Hasher)(nil)
