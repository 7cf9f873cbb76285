package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulschiretz/pgl-dayback/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dayback/pkg/config"
	"github.com/paulschiretz/pgl-dayback/pkg/flagparse"
	"github.com/paulschiretz/pgl-dayback/pkg/hints"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
)

// RunInit handles the logic for the 'init' command. It writes a default
// configuration, with any init flags applied, to the --config path. An
// existing file is left untouched.
func RunInit(ctx context.Context, flagMap map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Create a config from defaults merged with user flags.
	runConfig := config.MergeConfigWithFlags(flagparse.Init, config.NewDefault(), flagMap)
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	path := configPath(flagMap)
	if err := config.Generate(path, runConfig); err != nil {
		if hints.Is(err, config.ErrConfigExists) {
			plog.Info("Config already exists, leaving it unchanged", "reason", err)
			return nil
		}
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	plog.Info("Edit the file to customize sources, backup_dir and max_age_days", "path", path)
	if len(runConfig.Sources) == 0 {
		plog.Warn("No sources configured yet, backups will find nothing to copy", "path", path)
	}
	plog.Info(buildinfo.Name + " config successfully initialized.")
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
