package changedetect

// Decision is the outcome of comparing a discovered file with its manifest entry.
type Decision int

const (
	// New means the file has no manifest entry and is copied.
	New Decision = iota
	// Unchanged means size and mtime match the manifest; the file is not read.
	Unchanged
	// ChangedConfirmed means size or mtime differ and the content hash
	// differs too; the file is copied.
	ChangedConfirmed
	// ChangedFalsePositive means size or mtime differ but the content hash
	// matches; only the stored metadata is refreshed.
	ChangedFalsePositive
)

var decisionToString = map[Decision]string{
	New:                  "new",
	Unchanged:            "unchanged",
	ChangedConfirmed:     "changed",
	ChangedFalsePositive: "hash-same",
}

func (d Decision) String() string {
	if s, ok := decisionToString[d]; ok {
		return s
	}
	return "unknown"
}

// NeedsCopy reports whether the decision results in a copy.
func (d Decision) NeedsCopy() bool {
	return d == New || d == ChangedConfirmed
}
