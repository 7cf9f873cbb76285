package pathretention

type Plan struct {
	Enabled bool
	// MaxAgeDays is the threshold; entries strictly older are removed.
	MaxAgeDays int

	// Global Flags
	DryRun bool
}
