// Package planner turns a merged configuration into the per-component plans
// the engine executes. Every enum in the configuration is parsed here, so a
// bad value stops the run before anything is touched.
package planner

import (
	"fmt"

	"github.com/paulschiretz/pgl-dayback/pkg/config"
	"github.com/paulschiretz/pgl-dayback/pkg/discovery"
	"github.com/paulschiretz/pgl-dayback/pkg/hashing"
	"github.com/paulschiretz/pgl-dayback/pkg/hook"
	"github.com/paulschiretz/pgl-dayback/pkg/pathcompression"
	"github.com/paulschiretz/pgl-dayback/pkg/pathretention"
)

// Environment variables passed to every hook command.
const (
	EnvBackupDir = "PGL_DAYBACK_BACKUP_DIR"
	EnvDay       = "PGL_DAYBACK_DAY"
	EnvDryRun    = "PGL_DAYBACK_DRY_RUN"
)

type BackupPlan struct {
	Mode    Mode
	DryRun  bool
	Metrics bool

	AbsBackupDir string
	HashMethod   hashing.Method
	BufferSizeKB int

	Discovery   *discovery.Plan
	Retention   *pathretention.Plan
	Compression *pathcompression.Plan
	Hooks       *hook.Plan
}

type PrunePlan struct {
	Mode    Mode
	DryRun  bool
	Metrics bool

	AbsBackupDir string
	BufferSizeKB int

	Retention *pathretention.Plan
}

func GenerateBackupPlan(cfg config.Config) (*BackupPlan, error) {
	if cfg.BackupDir == "" {
		return nil, fmt.Errorf("backup_dir cannot be empty")
	}

	// Global Flags
	dryRun := cfg.Runtime.DryRun
	metrics := cfg.Metrics
	mode := modeFor(dryRun)

	hashMethod, err := hashing.ParseMethod(cfg.HashMethod)
	if err != nil {
		return nil, fmt.Errorf("invalid hash_method: %w", err)
	}

	compressionFormat, err := pathcompression.ParseFormat(cfg.Compression.Format)
	if err != nil {
		return nil, err
	}

	compressionLevel, err := pathcompression.ParseLevel(cfg.Compression.Level)
	if err != nil {
		return nil, err
	}

	hookEnv := []string{
		EnvBackupDir + "=" + cfg.BackupDir,
		fmt.Sprintf("%s=%t", EnvDryRun, dryRun),
	}

	return &BackupPlan{
		Mode:    mode,
		DryRun:  dryRun,
		Metrics: metrics,

		AbsBackupDir: cfg.BackupDir,
		HashMethod:   hashMethod,
		BufferSizeKB: cfg.BufferSizeKB,

		Discovery: &discovery.Plan{
			Roots:           cfg.Sources,
			ExcludePatterns: cfg.ExcludePatterns,
			AbsBackupDir:    cfg.BackupDir,
		},
		Retention: retentionPlan(cfg),
		Compression: &pathcompression.Plan{
			Enabled: cfg.Compression.Enabled,
			Format:  compressionFormat,
			Level:   compressionLevel,
			Workers: cfg.Compression.Workers,
			// Global Flags
			DryRun: dryRun,
		},
		Hooks: &hook.Plan{
			Enabled:          len(cfg.Hooks.PreBackup) > 0 || len(cfg.Hooks.PostBackup) > 0,
			PreHookCommands:  cfg.Hooks.PreBackup,
			PostHookCommands: cfg.Hooks.PostBackup,
			Env:              hookEnv,
			// Global Flags
			DryRun: dryRun,
		},
	}, nil
}

func GeneratePrunePlan(cfg config.Config) (*PrunePlan, error) {
	if cfg.BackupDir == "" {
		return nil, fmt.Errorf("backup_dir cannot be empty")
	}
	dryRun := cfg.Runtime.DryRun
	return &PrunePlan{
		Mode:         modeFor(dryRun),
		DryRun:       dryRun,
		Metrics:      cfg.Metrics,
		AbsBackupDir: cfg.BackupDir,
		BufferSizeKB: cfg.BufferSizeKB,
		Retention:    retentionPlan(cfg),
	}, nil
}

// retentionPlan applies the --since override. A threshold of zero or less
// disables pruning.
func retentionPlan(cfg config.Config) *pathretention.Plan {
	days := cfg.RetentionDays()
	return &pathretention.Plan{
		Enabled:    days > 0,
		MaxAgeDays: days,
		// Global Flags
		DryRun: cfg.Runtime.DryRun,
	}
}

func modeFor(dryRun bool) Mode {
	if dryRun {
		return DryRun
	}
	return Apply
}
