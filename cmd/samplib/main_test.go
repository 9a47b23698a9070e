package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"samplib/internal/testsupport"
)

func runCLI(t *testing.T, args []string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeTestConfig lays out a config file, data dirs, and one source root
// under a temp directory and returns the config path and source root.
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()

	base := t.TempDir()
	sourceRoot := filepath.Join(base, "samples")
	if err := os.MkdirAll(sourceRoot, 0o755); err != nil {
		t.Fatalf("create source root: %v", err)
	}

	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q

[[sources]]
root = %q
`, filepath.Join(base, "data"), filepath.Join(base, "logs"), sourceRoot)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath, sourceRoot
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, output)
	}
}

func TestConfigInitCommand(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("expected second init to refuse overwriting")
	}
}

func TestScanCommandEnqueuesJobs(t *testing.T) {
	configPath, sourceRoot := writeTestConfig(t)
	testsupport.WriteWAV(t, filepath.Join(sourceRoot, "kick.wav"), testsupport.Sine(55, 44100, 4410), 44100)

	out, err := runCLI(t, []string{"--config", configPath, "scan"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	requireContains(t, out, "Scanned 1 source(s)")
	requireContains(t, out, "2 pending")
}

func TestStatusCommandReportsDatabase(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	out, err := runCLI(t, []string{"--config", configPath, "status"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Database:")
	requireContains(t, out, "Jobs: 0 pending")
}

func TestSimilarUnknownSample(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	if _, err := runCLI(t, []string{"--config", configPath, "similar", "src/none.wav"}); err == nil {
		t.Fatal("expected error for sample without embedding")
	}
}
