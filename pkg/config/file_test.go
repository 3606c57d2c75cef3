package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileParsesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFileYAML)
	content := `
kubeconfig: /etc/kube/config
contexts:
  - prod-eu
  - " "
data_dir: /var/lib/podspectre
interval: 5m
pending_threshold: 15m
concurrency: 3
engine: reference
require_coverage: true
exclude_namespaces:
  - kube-*
  - monitoring
clickhouse_dsn: clickhouse://default@ch:9000/default
format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	fc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if len(fc.Contexts) != 1 || fc.Contexts[0] != "prod-eu" {
		t.Fatalf("expected blank context to be dropped, got %v", fc.Contexts)
	}
	if len(fc.ExcludeNamespaces) != 2 || fc.ExcludeNamespaces[0] != "kube-*" {
		t.Fatalf("unexpected exclude_namespaces: %v", fc.ExcludeNamespaces)
	}
	if fc.Concurrency == nil || *fc.Concurrency != 3 {
		t.Fatalf("expected concurrency=3, got %v", fc.Concurrency)
	}

	cfg := DefaultConfig()
	if err := fc.Apply(cfg, nil); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cfg.ScanInterval != 5*time.Minute {
		t.Fatalf("expected interval=5m, got %s", cfg.ScanInterval)
	}
	if cfg.PendingThreshold != 15*time.Minute {
		t.Fatalf("expected pending threshold=15m, got %s", cfg.PendingThreshold)
	}
	if !cfg.RequireCoverage {
		t.Fatal("expected require_coverage to be applied")
	}
	if cfg.Engine != EngineReference || cfg.Format != "json" || cfg.DataDir != "/var/lib/podspectre" {
		t.Fatalf("unexpected applied config: %+v", cfg)
	}
}

func TestApplyKeepsExplicitFlags(t *testing.T) {
	concurrency := 9
	fc := &FileConfig{
		Interval:          "1h",
		Format:            "json",
		Concurrency:       &concurrency,
		ExcludeNamespaces: []string{"kube-system"},
	}

	cfg := DefaultConfig()
	cfg.Format = "sarif"
	explicit := map[string]bool{"format": true, "concurrency": true}
	if err := fc.Apply(cfg, func(flag string) bool { return explicit[flag] }); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if cfg.Format != "sarif" {
		t.Fatalf("expected explicit format to win, got %q", cfg.Format)
	}
	if cfg.Concurrency != 5 {
		t.Fatalf("expected explicit concurrency to win, got %d", cfg.Concurrency)
	}
	if cfg.ScanInterval != time.Hour {
		t.Fatalf("expected file interval, got %s", cfg.ScanInterval)
	}
	if !cfg.IsNamespaceExcluded("kube-system") {
		t.Fatal("expected file exclusion to apply")
	}
}

func TestApplyRejectsBadDuration(t *testing.T) {
	fc := &FileConfig{PendingThreshold: "soon"}
	if err := fc.Apply(DefaultConfig(), nil); err == nil {
		t.Fatal("expected invalid duration error")
	}
}

func TestAutoLoadFilePrefersCWD(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	cwdFile := filepath.Join(cwd, DefaultConfigFileYAML)
	homeFile := filepath.Join(home, DefaultConfigFileYAML)

	if err := os.WriteFile(cwdFile, []byte("data_dir: /cwd\n"), 0o644); err != nil {
		t.Fatalf("failed to write cwd config file: %v", err)
	}
	if err := os.WriteFile(homeFile, []byte("data_dir: /home\n"), 0o644); err != nil {
		t.Fatalf("failed to write home config file: %v", err)
	}

	t.Setenv("HOME", home)
	t.Chdir(cwd)

	fc, path, err := AutoLoadFile()
	if err != nil {
		t.Fatalf("AutoLoadFile failed: %v", err)
	}
	if fc == nil {
		t.Fatal("expected config file to be loaded")
	}
	if fc.DataDir != "/cwd" {
		t.Fatalf("expected cwd config to win, got %q", fc.DataDir)
	}
	if path != DefaultConfigFileYAML {
		t.Fatalf("expected returned path to be %q, got %q", DefaultConfigFileYAML, path)
	}
}

func TestLoadFirstExistingFileNoMatch(t *testing.T) {
	fc, path, err := LoadFirstExistingFile([]string{
		filepath.Join(t.TempDir(), "missing-1.yaml"),
		filepath.Join(t.TempDir(), "missing-2.yaml"),
	})
	if err != nil {
		t.Fatalf("expected no error when no files found, got %v", err)
	}
	if fc != nil || path != "" {
		t.Fatalf("expected nil config and empty path, got cfg=%v path=%q", fc, path)
	}
}

func TestExcludePatternMatching(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExcludeNamespaces = []string{"kube-*", " Monitoring ", ""}
	cfg.ExcludeClusters = []string{"staging-?", "[bad"}
	cfg.Normalize()

	if len(cfg.ExcludeNamespaces) != 2 {
		t.Fatalf("expected empty pattern to be dropped, got %v", cfg.ExcludeNamespaces)
	}
	if !cfg.IsNamespaceExcluded("KUBE-system") {
		t.Fatal("expected kube-system to match kube-*")
	}
	if !cfg.IsNamespaceExcluded("monitoring") {
		t.Fatal("expected trimmed pattern to match")
	}
	if cfg.IsNamespaceExcluded("default") {
		t.Fatal("did not expect default to be excluded")
	}
	if !cfg.IsClusterExcluded("staging-1") {
		t.Fatal("expected staging-1 to match staging-?")
	}
	if !cfg.IsClusterExcluded("[bad") {
		t.Fatal("expected invalid glob to fall back to exact match")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFileYAML)
	if err := os.WriteFile(path, []byte("interval: 5m\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	reloaded := make(chan *FileConfig, 4)
	w, err := NewWatcher(path, 20*time.Millisecond, func(fc *FileConfig) error {
		reloaded <- fc
		return nil
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Rewrite until the watcher has registered and fired.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case fc := <-reloaded:
			if fc.Interval == "" {
				// read between truncate and write
				continue
			}
			if fc.Interval != "7m" {
				t.Fatalf("expected reloaded interval 7m, got %q", fc.Interval)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("unexpected watcher error: %v", err)
			}
			return
		case <-tick.C:
			if err := os.WriteFile(path, []byte("interval: 7m\n"), 0o644); err != nil {
				t.Fatalf("failed to rewrite config file: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestNewWatcherValidates(t *testing.T) {
	if _, err := NewWatcher("", 0, func(*FileConfig) error { return nil }); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := NewWatcher("x.yaml", 0, nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
}
