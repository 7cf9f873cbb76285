package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-dayback/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dayback/pkg/flagparse"
	"github.com/paulschiretz/pgl-dayback/pkg/planner"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
)

// RunPrune handles the logic for the prune command.
func RunPrune(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Prune, flagMap)
	if err != nil {
		return err
	}

	// Get the Plan
	prunePlan, err := planner.GeneratePrunePlan(runConfig)
	if err != nil {
		return err
	}

	// Deleting is permanent, so an apply run asks first unless --force is set.
	if !runConfig.Runtime.DryRun && !runConfig.Runtime.Force && prunePlan.Retention.Enabled {
		fmt.Printf("This operation will permanently delete backups in %s older than %d days.\n", prunePlan.AbsBackupDir, prunePlan.Retention.MaxAgeDays)
		if !PromptForConfirmation("Are you sure you want to continue?", false) {
			plog.Info(buildinfo.Name + " prune operation canceled.")
			return nil
		}
	}

	runner := newRunner(runConfig)

	// Execute the plan
	startTime := time.Now()
	res, err := runner.ExecutePrune(ctx, prunePlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		plog.Warn(buildinfo.Name+" prune finished with errors.", "errors", res.Failed, "duration", duration)
		return nil
	}
	plog.Info(buildinfo.Name+" prune finished successfully.", "duration", duration)
	return nil
}
