// Package flagparse turns the command line into a Command and a map that
// holds only the flags the user explicitly set. The map is merged over the
// loaded configuration, so an unset flag never overrides a value from the
// config file.
package flagparse

import (
	"io"
	"os"
	"strings"

	"github.com/paulschiretz/pgl-dayback/pkg/buildinfo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Parse parses the provided arguments (usually os.Args[1:]). Without a
// command, backup is assumed. When only help was requested it returns None.
func Parse(args []string) (Command, map[string]any, error) {
	return parse(args, os.Stdout)
}

func parse(args []string, out io.Writer) (Command, map[string]any, error) {
	selected := None
	var flagMap map[string]any

	// Every subcommand records itself and its set flags; nothing runs here.
	capture := func(c Command) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			selected = c
			flagMap = flagsToMap(cmd.Flags())
			return nil
		}
	}

	root := &cobra.Command{
		Use:           strings.ToLower(buildinfo.Name),
		Short:         "Dated-folder backups of new and changed files, dry run unless --apply is given",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)
	root.CompletionOptions.DisableDefaultCmd = true

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy new and changed files into today's folder, then prune and compress (default)",
		Args:  cobra.NoArgs,
		RunE:  capture(Backup),
	}
	registerGlobalFlags(backupCmd.Flags())
	registerRunFlags(backupCmd.Flags())
	registerBackupFlags(backupCmd.Flags())

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove dated backups older than the retention window",
		Args:  cobra.NoArgs,
		RunE:  capture(Prune),
	}
	registerGlobalFlags(pruneCmd.Flags())
	registerRunFlags(pruneCmd.Flags())
	pruneCmd.Flags().Bool("force", false, "Bypass the confirmation prompt.")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file (kept if one already exists)",
		Args:  cobra.NoArgs,
		RunE:  capture(Init),
	}
	registerGlobalFlags(initCmd.Flags())
	registerInitFlags(initCmd.Flags())
	registerBackupFlags(initCmd.Flags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Args:  cobra.NoArgs,
		RunE:  capture(Version),
	}

	root.AddCommand(backupCmd, pruneCmd, initCmd, versionCmd)
	root.SetArgs(withDefaultCommand(args))

	if err := root.Execute(); err != nil {
		return selected, nil, err
	}
	if flagMap == nil {
		flagMap = make(map[string]any)
	}
	return selected, flagMap, nil
}

// withDefaultCommand prepends "backup" when the arguments start with a flag
// or are empty. Help requests are left for the root command.
func withDefaultCommand(args []string) []string {
	if len(args) == 0 {
		return []string{Backup.String()}
	}
	switch args[0] {
	case "-h", "--help", "help":
		return args
	}
	if strings.HasPrefix(args[0], "-") {
		return append([]string{Backup.String()}, args...)
	}
	return args
}

func registerGlobalFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to the config JSON. Defaults to the config file in the current directory.")
	fs.Bool("verbose", false, "Verbose logging (same as --log-level debug).")
	fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	fs.Bool("metrics", false, "Enable periodic progress and byte totals.")
}

func registerRunFlags(fs *pflag.FlagSet) {
	fs.Bool("apply", false, "Actually perform the actions. Without it every step is a dry run.")
	fs.Int("since", 0, "Override the retention threshold in days for this run only (0 disables pruning).")
}

func registerBackupFlags(fs *pflag.FlagSet) {
	fs.Bool("compression", false, "Compress sealed dated folders into archives.")
	fs.String("compression-format", "", "Compression format: 'zip', 'tar.gz', or 'tar.zst'.")
	fs.String("compression-level", "", "Compression level: 'default', 'fastest', 'better', 'best'.")
	fs.Int("compress-workers", 0, "Number of dated folders compressed at the same time.")
	fs.String("pre-backup-hooks", "", "Comma-separated list of commands to run before the backup.")
	fs.String("post-backup-hooks", "", "Comma-separated list of commands to run after the backup.")
}

func registerInitFlags(fs *pflag.FlagSet) {
	fs.StringArray("source", nil, "Source directory to back up. Repeat for several sources.")
	fs.String("backup-dir", "", "Directory that receives the dated backup folders.")
	fs.Int("max-age-days", 0, "Dated folders older than this many days are removed.")
	fs.String("hash-method", "", "Content hash: 'md5', 'sha1', 'sha256', 'sha512', 'xxh3', ...")
	fs.String("exclude", "", "Comma-separated list of name fragments to exclude.")
}

// flagsToMap collects the flags that were explicitly set, with typed values.
func flagsToMap(fs *pflag.FlagSet) map[string]any {
	flagMap := make(map[string]any)
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "help":
			return
		case "exclude":
			flagMap[f.Name] = ParseExcludeList(f.Value.String())
			return
		case "pre-backup-hooks", "post-backup-hooks":
			flagMap[f.Name] = ParseCmdList(f.Value.String())
			return
		}

		var value any
		var err error
		switch f.Value.Type() {
		case "bool":
			value, err = fs.GetBool(f.Name)
		case "int":
			value, err = fs.GetInt(f.Name)
		case "stringArray":
			value, err = fs.GetStringArray(f.Name)
		default:
			value = f.Value.String()
		}
		if err != nil {
			value = f.Value.String()
		}
		flagMap[f.Name] = value
	})
	return flagMap
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParseExcludeList parses a comma-separated list of name fragments.
// It removes quotes, as they are only used for grouping items with spaces.
// It treats backslashes as literal characters for Windows path compatibility.
func ParseExcludeList(s string) []string {
	return parseListInternal(s, false, false)
}

// parseListInternal is the core implementation for parsing a comma-separated list. It supports
// both single (') and double (") quotes to allow items to contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			// For commands, we also keep the backslash for the shell to interpret.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 {
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r {
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else {
				// A different quote inside a quoted section is literal.
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0:
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()
	return list
}
