package cmd_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/paulschiretz/pgl-dayback/cmd"
	"github.com/paulschiretz/pgl-dayback/pkg/config"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
)

func TestPromptForConfirmation(t *testing.T) {
	// Helper to mock stdin/stdout and run the function
	mockPrompt := func(input string, prompt string, defaultYes bool) (bool, string) {
		// Pipe for stdin
		rIn, wIn, _ := os.Pipe()
		// Pipe for stdout
		rOut, wOut, _ := os.Pipe()

		// Save original stdin/stdout
		origStdin := os.Stdin
		origStdout := os.Stdout
		defer func() {
			os.Stdin = origStdin
			os.Stdout = origStdout
		}()

		// Redirect
		os.Stdin = rIn
		os.Stdout = wOut

		// Write input
		go func() {
			_, _ = wIn.WriteString(input)
			_ = wIn.Close()
		}()

		// Run the function
		result := cmd.PromptForConfirmation(prompt, defaultYes)

		// Close writer to read output
		_ = wOut.Close()
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)

		return result, buf.String()
	}

	tests := []struct {
		name       string
		input      string
		prompt     string
		defaultYes bool
		want       bool
		wantPrompt string
	}{
		{"Explicit Yes", "y\n", "Continue?", false, true, "Continue? [y/N]: "},
		{"Explicit No", "n\n", "Continue?", true, false, "Continue? [Y/n]: "},
		{"Default Yes (Empty)", "\n", "Sure?", true, true, "Sure? [Y/n]: "},
		{"Default No (Empty)", "\n", "Sure?", false, false, "Sure? [y/N]: "},
		{"Case Insensitive", "YES\n", "Go?", false, true, "Go? [y/N]: "},
		{"Whitespace Handling", "   y   \n", "Clean?", false, true, "Clean? [y/N]: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, output := mockPrompt(tt.input, tt.prompt, tt.defaultYes)
			if got != tt.want {
				t.Errorf("promptForConfirmation() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(output, tt.wantPrompt) {
				t.Errorf("Output = %q, want substring %q", output, tt.wantPrompt)
			}
		})
	}
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	plog.SetOutput(&buf)
	t.Cleanup(func() {
		plog.SetOutput(os.Stdout)
		plog.SetLevel(plog.LevelFromString("info"))
	})
	return &buf
}

func TestRunInit(t *testing.T) {
	t.Run("Writes Defaults With Flags", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "conf", config.ConfigFileName)
		srcDir := filepath.Join(dir, "src")
		flagMap := map[string]any{
			"config":       configPath,
			"source":       []string{srcDir},
			"max-age-days": 7,
		}

		if err := cmd.RunInit(context.Background(), flagMap); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			t.Fatalf("generated config does not load: %v", err)
		}
		if diff := cmp.Diff([]string{srcDir}, cfg.Sources); diff != "" {
			t.Errorf("unexpected sources (-want +got):\n%s", diff)
		}
		if cfg.MaxAgeDays != 7 {
			t.Errorf("expected max_age_days 7, got %d", cfg.MaxAgeDays)
		}
		if want := filepath.Join(dir, "backups"); cfg.BackupDir != want {
			t.Errorf("expected backup_dir %s, got %s", want, cfg.BackupDir)
		}
	})

	t.Run("Existing Config Is Kept", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), config.ConfigFileName)
		original := []byte(`{"max_age_days": 99}`)
		if err := os.WriteFile(configPath, original, 0644); err != nil {
			t.Fatal(err)
		}
		logBuf := captureLog(t)

		if err := cmd.RunInit(context.Background(), map[string]any{"config": configPath}); err != nil {
			t.Fatalf("expected success for an existing config, got %v", err)
		}
		data, err := os.ReadFile(configPath)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(original, data) {
			t.Errorf("existing config was modified: %s", data)
		}
		if !strings.Contains(logBuf.String(), "Config already exists") {
			t.Errorf("expected an info message, got: %s", logBuf.String())
		}
	})

	t.Run("Warns Without Sources", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), config.ConfigFileName)
		logBuf := captureLog(t)
		if err := cmd.RunInit(context.Background(), map[string]any{"config": configPath}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(logBuf.String(), "No sources configured") {
			t.Errorf("expected a warning about missing sources, got: %s", logBuf.String())
		}
	})
}
