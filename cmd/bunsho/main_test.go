package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"contract"}, "contract"},
		{"multiple words", []string{"renewal", "terms"}, "renewal terms"},
		{"single quoted phrase", []string{"renewal terms"}, "renewal terms"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinArgs(tt.args); got != tt.expected {
				t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  port: 8080
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_defaultsWhenNoFile(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists at the default path")
	}
	chdir(t, t.TempDir())

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved path = %q, want empty for built-in defaults", resolved)
	}
	if cfg.Server.Port != 8080 || cfg.Chunking.ChunkSize != 200 || cfg.Retrieval.AnswerTopK != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}

	if _, _, err := loadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("explicit missing path should fail")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "--config", "/nonexistent/config.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "bunsho version dev" {
		t.Errorf("version output = %q", out)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	configPath := writeLocalConfig(t)
	_, err := run(t, "sessions", "-c", configPath, "--server", "", "-o", "yaml")
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("want output format error, got %v", err)
	}
}

// writeLocalConfig writes a config using the pure-Go driver and the mock embedder.
func writeLocalConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
storage:
  driver: sqlite
  database_path: ./bunsho.db
  blob_dir: ./blobs
embedding:
  backend: mock
  dimensions: 32
  connect_attempts: 1
chunking:
  chunk_size: 50
  chunk_overlap: 10
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return configPath
}

func TestIndexAndSearchDirect(t *testing.T) {
	configPath := writeLocalConfig(t)
	doc := filepath.Join(filepath.Dir(configPath), "handbook.txt")
	text := "Employees accrue twenty days of paid leave per calendar year."
	if err := os.WriteFile(doc, []byte(text), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "sessions", "-c", configPath, "--server", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No sessions.") {
		t.Errorf("sessions before indexing = %q", out)
	}

	out, err = run(t, "index", "-c", configPath, "--title", "HR", doc)
	if err != nil {
		t.Fatal(err)
	}
	if out != "Indexed handbook.txt as file 1 in session 1 (1 chunks)\n" {
		t.Errorf("index output = %q", out)
	}

	out, err = run(t, "search", "-c", configPath, "--server", "", "-s", "1", "-o", "compact", text)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "1\t1.0000\thandbook.txt#0\t") {
		t.Errorf("search output = %q", out)
	}

	out, err = run(t, "sessions", "-c", configPath, "--server", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1\tHR\t") {
		t.Errorf("sessions after indexing = %q", out)
	}
}

func TestSearchRequiresSession(t *testing.T) {
	configPath := writeLocalConfig(t)
	if _, err := run(t, "search", "-c", configPath, "anything"); err == nil {
		t.Error("search without --session should fail")
	}
}
