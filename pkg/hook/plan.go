package hook

type Plan struct {
	Enabled bool

	PreHookCommands  []string
	PostHookCommands []string

	// Env holds extra KEY=VALUE pairs passed to every hook command.
	Env []string

	// Global Flags
	DryRun bool
}
