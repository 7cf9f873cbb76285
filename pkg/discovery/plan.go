package discovery

type Plan struct {
	// Roots are the absolute source directories, in configured order.
	Roots []string
	// ExcludePatterns are matched as substrings of entry basenames.
	ExcludePatterns []string
	// AbsBackupDir is never descended into, even if it lies inside a root.
	AbsBackupDir string
}
