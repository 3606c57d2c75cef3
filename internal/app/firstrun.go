package app

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	markerFileName = "first_run_completed"
	appName        = "podspectre"
)

// FirstRunHint is printed once per user to explain the day-over-day model.
const FirstRunHint = `Tip: podspectre compares today's abnormal pods with yesterday's snapshot.
The first day has nothing to compare against, so every issue is reported as new.
Run it daily, or keep "podspectre serve" running, to track ongoing and resolved issues.`

// GetAppConfigDir returns the path to the application's configuration directory.
func GetAppConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// IsFirstRun reports whether the marker in the user config directory is absent,
// creating it on the way.
func IsFirstRun() bool {
	appConfigDir, err := GetAppConfigDir()
	if err != nil {
		slog.Debug("failed to get app config directory", slog.String("error", err.Error()))
		return false
	}
	return CheckFirstRun(appConfigDir)
}

// CheckFirstRun is IsFirstRun against an explicit directory.
// Any filesystem error counts as "not first run" so the hint is never repeated on a broken setup.
func CheckFirstRun(dir string) bool {
	markerFilePath := filepath.Join(dir, markerFileName)

	_, err := os.Stat(markerFilePath)
	switch {
	case err == nil:
		slog.Debug("marker file exists, not first run", slog.String("path", markerFilePath))
		return false
	case !os.IsNotExist(err):
		slog.Error("failed to check first run marker file", slog.String("path", markerFilePath), slog.String("error", err.Error()))
		return false
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("failed to create app config directory", slog.String("path", dir), slog.String("error", err.Error()))
		return false
	}
	f, err := os.Create(markerFilePath)
	if err != nil {
		slog.Error("failed to create first run marker file", slog.String("path", markerFilePath), slog.String("error", err.Error()))
		return false
	}
	_ = f.Close()

	slog.Debug("first run detected and marker created", slog.String("path", markerFilePath))
	return true
}
