package pathcompression

type Plan struct {
	Enabled bool
	Format  Format
	Level   Level
	// Workers bounds how many day folders are packed at the same time.
	Workers int
	// Skip names day folders or archives that are gone, or would be gone, by
	// the time compression runs. Their days are never compressed.
	Skip []string

	// Global Flags
	DryRun bool
}
