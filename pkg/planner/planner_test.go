package planner_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/paulschiretz/pgl-dayback/pkg/config"
	"github.com/paulschiretz/pgl-dayback/pkg/hashing"
	"github.com/paulschiretz/pgl-dayback/pkg/pathcompression"
	"github.com/paulschiretz/pgl-dayback/pkg/planner"
)

func baseConfig() config.Config {
	cfg := config.NewDefault()
	cfg.Sources = []string{"/src/a", "/src/b"}
	cfg.BackupDir = "/backups"
	return cfg
}

func TestGenerateBackupPlan(t *testing.T) {
	tests := []struct {
		name        string
		configMod   func(*config.Config)
		expectError bool
		validate    func(*testing.T, *planner.BackupPlan)
	}{
		{
			name: "Defaults Are A Dry Run",
			validate: func(t *testing.T, p *planner.BackupPlan) {
				if p.Mode != planner.DryRun || !p.DryRun {
					t.Errorf("expected dry run, got mode %s", p.Mode)
				}
				if p.HashMethod != hashing.MD5 {
					t.Errorf("expected md5, got %s", p.HashMethod)
				}
				if !p.Retention.Enabled || p.Retention.MaxAgeDays != 30 || !p.Retention.DryRun {
					t.Errorf("unexpected retention plan: %+v", p.Retention)
				}
				if p.Compression.Enabled {
					t.Error("expected compression to be disabled by default")
				}
				if p.Compression.Format != pathcompression.TarZst {
					t.Errorf("expected tar.zst, got %s", p.Compression.Format)
				}
				if p.Hooks.Enabled {
					t.Error("expected hooks to be disabled without commands")
				}
				if p.Discovery.AbsBackupDir != "/backups" || len(p.Discovery.Roots) != 2 {
					t.Errorf("unexpected discovery plan: %+v", p.Discovery)
				}
			},
		},
		{
			name: "Apply",
			configMod: func(c *config.Config) {
				c.Runtime.DryRun = false
			},
			validate: func(t *testing.T, p *planner.BackupPlan) {
				if p.Mode != planner.Apply || p.DryRun || p.Retention.DryRun || p.Compression.DryRun || p.Hooks.DryRun {
					t.Errorf("expected every plan to be in apply mode: %+v", p)
				}
			},
		},
		{
			name: "Since Overrides Max Age",
			configMod: func(c *config.Config) {
				c.Runtime.SinceSet = true
				c.Runtime.SinceDays = 10
			},
			validate: func(t *testing.T, p *planner.BackupPlan) {
				if p.Retention.MaxAgeDays != 10 {
					t.Errorf("expected threshold 10, got %d", p.Retention.MaxAgeDays)
				}
			},
		},
		{
			name: "Since Zero Disables Pruning",
			configMod: func(c *config.Config) {
				c.Runtime.SinceSet = true
				c.Runtime.SinceDays = 0
			},
			validate: func(t *testing.T, p *planner.BackupPlan) {
				if p.Retention.Enabled {
					t.Error("expected retention to be disabled")
				}
			},
		},
		{
			name: "Hooks Get Environment",
			configMod: func(c *config.Config) {
				c.Hooks.PreBackup = []string{"echo pre"}
			},
			validate: func(t *testing.T, p *planner.BackupPlan) {
				if !p.Hooks.Enabled {
					t.Fatal("expected hooks to be enabled")
				}
				if !slices.Contains(p.Hooks.Env, planner.EnvBackupDir+"=/backups") {
					t.Errorf("expected backup dir in hook env, got %v", p.Hooks.Env)
				}
				if !slices.Contains(p.Hooks.Env, planner.EnvDryRun+"=true") {
					t.Errorf("expected dry run flag in hook env, got %v", p.Hooks.Env)
				}
			},
		},
		{
			name: "Hash Method Is Case Insensitive",
			configMod: func(c *config.Config) {
				c.HashMethod = "SHA-256"
			},
			validate: func(t *testing.T, p *planner.BackupPlan) {
				if p.HashMethod != hashing.SHA256 {
					t.Errorf("expected sha256, got %s", p.HashMethod)
				}
			},
		},
		{
			name:        "Unknown Hash Method",
			configMod:   func(c *config.Config) { c.HashMethod = "crc32" },
			expectError: true,
		},
		{
			name:        "Unknown Compression Format",
			configMod:   func(c *config.Config) { c.Compression.Format = "rar" },
			expectError: true,
		},
		{
			name:        "Unknown Compression Level",
			configMod:   func(c *config.Config) { c.Compression.Level = "ultra" },
			expectError: true,
		},
		{
			name:        "Empty Backup Dir",
			configMod:   func(c *config.Config) { c.BackupDir = "" },
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			if tc.configMod != nil {
				tc.configMod(&cfg)
			}
			plan, err := planner.GenerateBackupPlan(cfg)
			if tc.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.validate(t, plan)
		})
	}
}

func TestGenerateBackupPlan_UnknownHashIsTyped(t *testing.T) {
	cfg := baseConfig()
	cfg.HashMethod = "crc32"
	_, err := planner.GenerateBackupPlan(cfg)
	if !errors.Is(err, hashing.ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestGeneratePrunePlan(t *testing.T) {
	cfg := baseConfig()
	cfg.Runtime.DryRun = false
	cfg.MaxAgeDays = 5

	plan, err := planner.GeneratePrunePlan(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Mode != planner.Apply || plan.Retention.MaxAgeDays != 5 || !plan.Retention.Enabled {
		t.Errorf("unexpected prune plan: %+v %+v", plan, plan.Retention)
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []planner.Mode{planner.DryRun, planner.Apply} {
		got, err := planner.ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := planner.ParseMode("snapshot"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
