package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckFirstRunCreatesMarkerOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", appName)

	if !CheckFirstRun(dir) {
		t.Fatal("expected first call to report first run")
	}
	if _, err := os.Stat(filepath.Join(dir, markerFileName)); err != nil {
		t.Fatalf("expected marker file to exist, got %v", err)
	}
	if CheckFirstRun(dir) {
		t.Fatal("expected second call to report not first run")
	}
}

func TestCheckFirstRunUnwritableDir(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write blocker: %v", err)
	}

	if CheckFirstRun(filepath.Join(blocker, "sub")) {
		t.Fatal("expected false when marker directory cannot be created")
	}
}
