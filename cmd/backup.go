package cmd

import (
	"context"
	"time"

	"github.com/paulschiretz/pgl-dayback/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dayback/pkg/config"
	"github.com/paulschiretz/pgl-dayback/pkg/engine"
	"github.com/paulschiretz/pgl-dayback/pkg/flagparse"
	"github.com/paulschiretz/pgl-dayback/pkg/hook"
	"github.com/paulschiretz/pgl-dayback/pkg/metrics"
	"github.com/paulschiretz/pgl-dayback/pkg/mutator"
	"github.com/paulschiretz/pgl-dayback/pkg/pathcompression"
	"github.com/paulschiretz/pgl-dayback/pkg/pathretention"
	"github.com/paulschiretz/pgl-dayback/pkg/planner"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
)

// RunBackup handles the logic for the main backup execution.
func RunBackup(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Backup, flagMap)
	if err != nil {
		return err
	}

	// Get the Plan
	backupPlan, err := planner.GenerateBackupPlan(runConfig)
	if err != nil {
		return err
	}

	runner := newRunner(runConfig)

	// Execute the plan
	startTime := time.Now()
	summary, err := runner.ExecuteBackup(ctx, backupPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	if summary.Errors > 0 {
		plog.Warn(buildinfo.Name+" finished with errors.", "errors", summary.Errors, "duration", duration)
		return nil
	}
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}

// loadRunConfig loads the configuration file, merges the flags of command
// over it, validates the result and applies its log level.
func loadRunConfig(command flagparse.Command, flagMap map[string]any) (config.Config, error) {
	loadedConfig, err := config.Load(configPath(flagMap))
	if err != nil {
		return config.Config{}, err
	}

	// Merge the flag values over the loaded config to get the final run config.
	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	// Set the global log level based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	// Log the Summary
	runConfig.LogSummary()
	return runConfig, nil
}

// configPath returns the --config value or the default file name in the
// working directory.
func configPath(flagMap map[string]any) string {
	if p, ok := flagMap["config"].(string); ok && p != "" {
		return p
	}
	return config.ConfigFileName
}

// newRunner creates the runner and feeds it with our leaf workers. A dry run
// gets a mutator that never writes.
func newRunner(runConfig config.Config) *engine.Runner {
	var mut mutator.FileMutator
	if runConfig.Runtime.DryRun {
		mut = mutator.NewNoop()
	} else {
		mut = mutator.NewOS(runConfig.BufferSizeKB)
	}
	m := metrics.New(runConfig.Metrics)

	return engine.NewRunner(
		mut,
		hook.NewHookExecutor(nil),
		pathretention.NewPathRetainer(mut, m),
		pathcompression.NewPathCompressor(mut, m),
		m,
	)
}
