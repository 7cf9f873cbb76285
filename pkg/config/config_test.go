package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulschiretz/pgl-dayback/pkg/flagparse"
	"github.com/paulschiretz/pgl-dayback/pkg/hints"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("No Config File", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), ConfigFileName))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Fatalf("expected ErrConfigNotFound, got %v", err)
		}
		if !strings.Contains(err.Error(), "init") {
			t.Errorf("expected error to point at the init command, got %q", err)
		}
	})

	t.Run("Missing Keys Get Defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, dir, `{"sources": ["data"]}`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.MaxAgeDays != 30 {
			t.Errorf("expected default max_age_days 30, got %d", cfg.MaxAgeDays)
		}
		if cfg.HashMethod != "md5" {
			t.Errorf("expected default hash_method md5, got %s", cfg.HashMethod)
		}
		if diff := cmp.Diff([]string{"__pycache__", ".git", ".DS_Store"}, cfg.ExcludePatterns); diff != "" {
			t.Errorf("exclude_patterns mismatch (-want +got):\n%s", diff)
		}
		wantBackupDir := filepath.Join(filepath.Dir(dir), "backups")
		if cfg.BackupDir != wantBackupDir {
			t.Errorf("expected default backup_dir %s, got %s", wantBackupDir, cfg.BackupDir)
		}
		if cfg.Runtime.ConfigPath != path {
			t.Errorf("expected ConfigPath %s, got %s", path, cfg.Runtime.ConfigPath)
		}
		if !cfg.Runtime.DryRun {
			t.Error("expected dry run to be the default")
		}
	})

	t.Run("Values From File Override Defaults", func(t *testing.T) {
		dir := t.TempDir()
		absBackup := filepath.Join(t.TempDir(), "bk")
		content := `{
			"sources": ["a", "` + filepath.ToSlash(filepath.Join(dir, "b")) + `"],
			"backup_dir": "` + filepath.ToSlash(absBackup) + `",
			"max_age_days": 7,
			"hash_method": "sha256",
			"exclude_patterns": []
		}`
		cfg, err := Load(writeConfig(t, dir, content))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		wantSources := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}
		if diff := cmp.Diff(wantSources, cfg.Sources); diff != "" {
			t.Errorf("sources mismatch (-want +got):\n%s", diff)
		}
		if cfg.BackupDir != absBackup {
			t.Errorf("expected backup_dir %s, got %s", absBackup, cfg.BackupDir)
		}
		if cfg.MaxAgeDays != 7 || cfg.HashMethod != "sha256" {
			t.Errorf("unexpected values: max_age_days=%d hash_method=%s", cfg.MaxAgeDays, cfg.HashMethod)
		}
		if len(cfg.ExcludePatterns) != 0 {
			t.Errorf("expected explicit empty exclude_patterns to stay empty, got %v", cfg.ExcludePatterns)
		}
	})

	t.Run("Malformed Config File", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), `{"sources": ["a"],}`)
		_, err := Load(path)
		if err == nil {
			t.Fatal("expected an error when loading malformed config, but got nil")
		}
		if errors.Is(err, ErrConfigNotFound) {
			t.Error("malformed config must not be reported as missing")
		}
	})

	t.Run("Wrong Type", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), `{"max_age_days": "thirty"}`)
		if _, err := Load(path); err == nil {
			t.Fatal("expected an error for a string max_age_days, but got nil")
		}
	})
}

func TestGenerate(t *testing.T) {
	t.Run("Writes Loadable File", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ConfigFileName)
		cfg := NewDefault()
		cfg.Sources = []string{"docs"}

		if err := Generate(path, cfg); err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if diff := cmp.Diff([]string{filepath.Join(dir, "docs")}, loaded.Sources); diff != "" {
			t.Errorf("sources mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Runtime Is Not Serialised", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		cfg := NewDefault()
		cfg.Runtime.ConfigPath = "/should/not/appear"
		if err := Generate(path, cfg); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), "/should/not/appear") {
			t.Errorf("runtime values leaked into config file:\n%s", data)
		}
		for _, key := range []string{`"sources"`, `"backup_dir"`, `"max_age_days"`, `"hash_method"`, `"exclude_patterns"`} {
			if !strings.Contains(string(data), key) {
				t.Errorf("expected key %s in generated config", key)
			}
		}
	})

	t.Run("Existing File Is Kept", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, dir, `{"max_age_days": 3}`)

		err := Generate(path, NewDefault())
		if !hints.Is(err, ErrConfigExists) {
			t.Fatalf("expected ErrConfigExists hint, got %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != `{"max_age_days": 3}` {
			t.Errorf("existing config was modified: %s", data)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	newValidConfig := func(t *testing.T) Config {
		cfg := NewDefault()
		cfg.BackupDir = t.TempDir()
		return cfg
	}

	t.Run("Valid Config", func(t *testing.T) {
		cfg := newValidConfig(t)
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected valid config to pass validation, but got error: %v", err)
		}
	})

	t.Run("Empty Backup Dir", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.BackupDir = ""
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for empty backup_dir, but got nil")
		}
	})

	t.Run("Invalid Buffer Size", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.BufferSizeKB = 0
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for zero buffer size, but got nil")
		}
	})

	t.Run("Invalid Compression Workers", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Compression.Workers = 0
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for zero compression workers, but got nil")
		}
	})

	t.Run("Negative Since", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Runtime.SinceSet = true
		cfg.Runtime.SinceDays = -1
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for negative --since, but got nil")
		}
	})
}

func TestRetentionDays(t *testing.T) {
	cfg := NewDefault()
	if got := cfg.RetentionDays(); got != 30 {
		t.Errorf("expected 30 without override, got %d", got)
	}
	cfg.Runtime.SinceSet = true
	cfg.Runtime.SinceDays = 0
	if got := cfg.RetentionDays(); got != 0 {
		t.Errorf("expected explicit --since 0 to win, got %d", got)
	}
}

func TestMergeConfigWithFlags(t *testing.T) {
	base := NewDefault()
	base.Sources = []string{"/from/file"}

	t.Run("Backup Flags", func(t *testing.T) {
		merged := MergeConfigWithFlags(flagparse.Backup, base, map[string]any{
			"apply":   true,
			"verbose": true,
			"since":   10,
			"source":  []string{"/ignored"},
		})
		if merged.Runtime.DryRun {
			t.Error("expected --apply to disable dry run")
		}
		if merged.LogLevel != "debug" {
			t.Errorf("expected --verbose to set debug, got %s", merged.LogLevel)
		}
		if !merged.Runtime.SinceSet || merged.Runtime.SinceDays != 10 {
			t.Errorf("expected since override 10, got %+v", merged.Runtime)
		}
		if diff := cmp.Diff([]string{"/from/file"}, merged.Sources); diff != "" {
			t.Errorf("backup must not take sources from flags (-want +got):\n%s", diff)
		}
	})

	t.Run("Verbose Wins Over Log Level", func(t *testing.T) {
		merged := MergeConfigWithFlags(flagparse.Backup, base, map[string]any{
			"verbose":   true,
			"log-level": "warn",
		})
		if merged.LogLevel != "debug" {
			t.Errorf("expected debug, got %s", merged.LogLevel)
		}
	})

	t.Run("Init Flags", func(t *testing.T) {
		merged := MergeConfigWithFlags(flagparse.Init, base, map[string]any{
			"source":       []string{"a", "b"},
			"backup-dir":   "/bk",
			"max-age-days": 14,
			"hash-method":  "xxh3",
			"exclude":      []string{"node_modules"},
		})
		if diff := cmp.Diff([]string{"a", "b"}, merged.Sources); diff != "" {
			t.Errorf("sources mismatch (-want +got):\n%s", diff)
		}
		if merged.BackupDir != "/bk" || merged.MaxAgeDays != 14 || merged.HashMethod != "xxh3" {
			t.Errorf("unexpected merge result: %+v", merged)
		}
		if diff := cmp.Diff([]string{"node_modules"}, merged.ExcludePatterns); diff != "" {
			t.Errorf("exclude mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Base Is Not Modified", func(t *testing.T) {
		_ = MergeConfigWithFlags(flagparse.Backup, base, map[string]any{"apply": true, "compression": true})
		if !base.Runtime.DryRun || base.Compression.Enabled {
			t.Error("merge modified the base config")
		}
	})
}
