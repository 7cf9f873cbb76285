// Package config loads, generates and merges the pgl-dayback settings.
//
// A configuration is built in layers: NewDefault provides every value, the
// JSON file overrides what it names, and flags given on the command line
// override both. Relative paths in the file are resolved against the
// directory that holds it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-dayback/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dayback/pkg/flagparse"
	"github.com/paulschiretz/pgl-dayback/pkg/hints"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// ConfigFileName is the default name of the configuration file.
const ConfigFileName = "pgl-dayback.config.json"

// ErrConfigNotFound is returned by Load when the file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// ErrConfigExists is returned by Generate when the file is already there.
// It is a hint: init leaves the existing file alone and reports success.
var ErrConfigExists = hints.New("config file already exists")

type CompressionConfig struct {
	Enabled bool   `json:"enabled"`
	Format  string `json:"format"`
	Level   string `json:"level"`
	Workers int    `json:"workers"`
}

type HooksConfig struct {
	PreBackup  []string `json:"pre_backup,omitempty"`
	PostBackup []string `json:"post_backup,omitempty"`
}

// RuntimeConfig holds values that only live for one invocation.
type RuntimeConfig struct {
	// ConfigPath is the absolute path the configuration was loaded from.
	ConfigPath string
	DryRun     bool
	// SinceDays overrides MaxAgeDays for this run when SinceSet is true.
	SinceDays int
	SinceSet  bool
	Force     bool
}

type Config struct {
	Version         string            `json:"version"`
	Sources         []string          `json:"sources"`
	BackupDir       string            `json:"backup_dir"`
	MaxAgeDays      int               `json:"max_age_days"`
	HashMethod      string            `json:"hash_method"`
	ExcludePatterns []string          `json:"exclude_patterns"`
	LogLevel        string            `json:"log_level"`
	Metrics         bool              `json:"metrics"`
	BufferSizeKB    int               `json:"buffer_size_kb"`
	Compression     CompressionConfig `json:"compression"`
	Hooks           HooksConfig       `json:"hooks"`
	Runtime         RuntimeConfig     `json:"-"` // Never added to config file
}

// NewDefault returns a Config with every default filled in. Sources are left
// empty on purpose; the user has to name them.
func NewDefault() Config {
	return Config{
		Version:         buildinfo.Version,
		Sources:         []string{},
		BackupDir:       filepath.Join("..", "backups"), // Sibling of the folder holding the config.
		MaxAgeDays:      30,
		HashMethod:      "md5",
		ExcludePatterns: []string{"__pycache__", ".git", ".DS_Store"},
		LogLevel:        "info",
		Metrics:         false,
		BufferSizeKB:    256, // Keep it between 64KB-4MB
		Compression: CompressionConfig{
			Enabled: false,
			Format:  "tar.zst",
			Level:   "default",
			Workers: 1, // zstd and pgzip already use all cores for a single archive.
		},
		Hooks: HooksConfig{
			PreBackup:  []string{},
			PostBackup: []string{},
		},
		Runtime: RuntimeConfig{
			DryRun: true,
		},
	}
}

// Load reads the configuration at path. Keys missing from the file keep
// their defaults. A missing file yields ErrConfigNotFound, malformed JSON a
// parse error. Relative sources and backup_dir are resolved against the
// directory of the file.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for config %s: %w", path, err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s. Run '%s init' to create one", ErrConfigNotFound, absPath, strings.ToLower(buildinfo.Name))
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", absPath, err)
	}
	defer file.Close()

	plog.Debug("Loading configuration", "path", absPath)
	config := NewDefault()
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}
	config.Runtime.ConfigPath = absPath

	if err := config.ResolvePaths(); err != nil {
		return Config{}, err
	}

	// NOTE: if config.Version differs from the app version a migration step goes here.
	config.Version = buildinfo.Version
	return config, nil
}

// ResolvePaths expands '~' and makes sources and backup_dir absolute, using
// the directory of Runtime.ConfigPath as base for relative entries.
func (c *Config) ResolvePaths() error {
	baseDir := filepath.Dir(c.Runtime.ConfigPath)
	if c.Runtime.ConfigPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("could not determine working directory: %w", err)
		}
		baseDir = wd
	}

	resolved := make([]string, 0, len(c.Sources))
	for _, src := range c.Sources {
		if src == "" {
			continue
		}
		absSrc, err := util.ResolvePath(baseDir, src)
		if err != nil {
			return fmt.Errorf("could not resolve source path %q: %w", src, err)
		}
		resolved = append(resolved, absSrc)
	}
	c.Sources = resolved

	if c.BackupDir != "" {
		absBackupDir, err := util.ResolvePath(baseDir, c.BackupDir)
		if err != nil {
			return fmt.Errorf("could not resolve backup_dir %q: %w", c.BackupDir, err)
		}
		c.BackupDir = absBackupDir
	}
	return nil
}

// Generate writes cfg to path. An existing file is never overwritten; in
// that case ErrConfigExists is returned.
func Generate(path string, cfg Config) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("could not determine absolute path for config %s: %w", path, err)
	}

	jsonData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}
	jsonData = append(jsonData, '\n')

	if err := os.MkdirAll(filepath.Dir(absPath), util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(absPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigExists, absPath)
		}
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if _, err := f.Write(jsonData); err != nil {
		f.Close()
		os.Remove(absPath)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}

	plog.Info("Created config file", "path", absPath)
	return nil
}

// Validate rejects settings the run cannot work with. Enum values (hash
// method, compression format and level) are checked when the plan is built.
func (c *Config) Validate() error {
	if c.BackupDir == "" {
		return fmt.Errorf("backup_dir cannot be empty")
	}
	if c.BufferSizeKB <= 0 {
		return fmt.Errorf("buffer_size_kb must be greater than 0")
	}
	if c.Compression.Workers < 1 {
		return fmt.Errorf("compression.workers must be at least 1")
	}
	if c.Runtime.SinceSet && c.Runtime.SinceDays < 0 {
		return fmt.Errorf("--since cannot be negative")
	}
	return nil
}

// RetentionDays is the age threshold in effect for this run.
func (c *Config) RetentionDays() int {
	if c.Runtime.SinceSet {
		return c.Runtime.SinceDays
	}
	return c.MaxAgeDays
}

// LogSummary logs the effective configuration at info level.
func (c *Config) LogSummary() {
	logArgs := []any{
		"config", c.Runtime.ConfigPath,
		"backup_dir", c.BackupDir,
		"sources", strings.Join(c.Sources, ", "),
		"max_age_days", c.RetentionDays(),
		"hash_method", c.HashMethod,
		"log_level", c.LogLevel,
		"dry_run", c.Runtime.DryRun,
		"metrics", c.Metrics,
	}
	if c.Runtime.SinceSet {
		logArgs = append(logArgs, "since_override", true)
	}
	if len(c.ExcludePatterns) > 0 {
		logArgs = append(logArgs, "exclude_patterns", strings.Join(c.ExcludePatterns, ", "))
	}
	if c.Compression.Enabled {
		compressionSummary := fmt.Sprintf("enabled (f:%s l:%s w:%d)", c.Compression.Format, c.Compression.Level, c.Compression.Workers)
		logArgs = append(logArgs, "compression", compressionSummary)
	}
	if len(c.Hooks.PreBackup) > 0 {
		logArgs = append(logArgs, "pre_backup_hooks", strings.Join(c.Hooks.PreBackup, "; "))
	}
	if len(c.Hooks.PostBackup) > 0 {
		logArgs = append(logArgs, "post_backup_hooks", strings.Join(c.Hooks.PostBackup, "; "))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays the flags the user explicitly set on top of
// base. Flags that do not apply to command are ignored.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "config":
			// Consumed when locating the file.
		case "apply":
			merged.Runtime.DryRun = !value.(bool)
		case "verbose":
			if value.(bool) {
				merged.LogLevel = "debug"
			}
		case "log-level":
			if _, verbose := setFlags["verbose"]; !verbose {
				merged.LogLevel = value.(string)
			}
		case "metrics":
			merged.Metrics = value.(bool)
		case "since":
			merged.Runtime.SinceDays = value.(int)
			merged.Runtime.SinceSet = true
		case "force":
			merged.Runtime.Force = value.(bool)
		case "source":
			if command == flagparse.Init {
				merged.Sources = value.([]string)
			}
		case "backup-dir":
			if command == flagparse.Init {
				merged.BackupDir = value.(string)
			}
		case "max-age-days":
			if command == flagparse.Init {
				merged.MaxAgeDays = value.(int)
			}
		case "hash-method":
			if command == flagparse.Init {
				merged.HashMethod = value.(string)
			}
		case "exclude":
			if command == flagparse.Init {
				merged.ExcludePatterns = value.([]string)
			}
		case "compression":
			merged.Compression.Enabled = value.(bool)
		case "compression-format":
			merged.Compression.Format = value.(string)
		case "compression-level":
			merged.Compression.Level = value.(string)
		case "compress-workers":
			merged.Compression.Workers = value.(int)
		case "pre-backup-hooks":
			merged.Hooks.PreBackup = value.([]string)
		case "post-backup-hooks":
			merged.Hooks.PostBackup = value.([]string)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
