// Package hook runs the user's pre_backup and post_backup shell commands.
//
// A failing pre-backup command aborts the run before anything is written.
// Post-backup commands always run to the end; their failures are warnings.
package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/paulschiretz/pgl-dayback/pkg/hints"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

type HookExecutor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewHookExecutor creates a new HookExecutor. A nil commandContext uses
// exec.CommandContext.
func NewHookExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *HookExecutor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &HookExecutor{
		commandContext: commandContext,
	}
}

// RunPreHook runs the pre-backup commands in order and stops at the first
// failure.
func (e *HookExecutor) RunPreHook(ctx context.Context, p *Plan) error {
	if !p.Enabled {
		return ErrDisabled
	}
	if len(p.PreHookCommands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info("Running pre-backup hook commands", "count", len(p.PreHookCommands))
	for _, hookCommand := range p.PreHookCommands {
		if err := e.run(ctx, hookCommand, p); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("pre-backup command '%s' failed: %w", hookCommand, err)
		}
	}
	return nil
}

// RunPostHook runs every post-backup command. Failures are logged and do
// not stop the remaining commands.
func (e *HookExecutor) RunPostHook(ctx context.Context, p *Plan) error {
	if !p.Enabled {
		return ErrDisabled
	}
	if len(p.PostHookCommands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info("Running post-backup hook commands", "count", len(p.PostHookCommands))
	for _, hookCommand := range p.PostHookCommands {
		if err := e.run(ctx, hookCommand, p); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}

func (e *HookExecutor) run(ctx context.Context, hookCommand string, p *Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.DryRun {
		plog.Info("[DRY RUN] Executing command", "command", hookCommand)
		return nil
	}
	plog.Info("Executing command", "command", hookCommand)

	cmd := e.createCommand(ctx, hookCommand)
	cmd.Env = append(cmd.Environ(), p.Env...)

	// Hook output goes straight to our own streams.
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		// A cancelled context kills the process; report the cancellation
		// instead of the resulting exit error.
		if ctx.Err() == context.Canceled {
			return context.Canceled
		}
		return err
	}
	return nil
}
