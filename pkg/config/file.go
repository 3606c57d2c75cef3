package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFileYAML is the canonical config filename.
	DefaultConfigFileYAML = ".podspectre.yaml"
	// DefaultConfigFileYML is a compatible alternate config filename.
	DefaultConfigFileYML = ".podspectre.yml"
)

// FileConfig represents values loaded from a .podspectre.yaml file.
// Durations are kept as strings so they accept the same syntax as flags.
type FileConfig struct {
	KubeConfig        string   `yaml:"kubeconfig"`
	Contexts          []string `yaml:"contexts"`
	DataDir           string   `yaml:"data_dir"`
	Interval          string   `yaml:"interval"`
	PendingThreshold  string   `yaml:"pending_threshold"`
	ClusterTimeout    string   `yaml:"cluster_timeout"`
	Concurrency       *int     `yaml:"concurrency"`
	Engine            string   `yaml:"engine"`
	RequireCoverage   *bool    `yaml:"require_coverage"`
	ExcludeNamespaces []string `yaml:"exclude_namespaces"`
	ExcludeClusters   []string `yaml:"exclude_clusters"`
	ClickHouseDSN     string   `yaml:"clickhouse_dsn"`
	Format            string   `yaml:"format"`
	DashboardDir      string   `yaml:"dashboard_dir"`
}

// Normalize trims and removes empty items from list fields.
func (fc *FileConfig) Normalize() {
	if fc == nil {
		return
	}
	fc.Contexts = normalizeList(fc.Contexts)
	fc.ExcludeNamespaces = normalizeList(fc.ExcludeNamespaces)
	fc.ExcludeClusters = normalizeList(fc.ExcludeClusters)
	fc.KubeConfig = strings.TrimSpace(fc.KubeConfig)
	fc.DataDir = strings.TrimSpace(fc.DataDir)
	fc.Interval = strings.TrimSpace(fc.Interval)
	fc.PendingThreshold = strings.TrimSpace(fc.PendingThreshold)
	fc.ClusterTimeout = strings.TrimSpace(fc.ClusterTimeout)
	fc.Engine = strings.TrimSpace(fc.Engine)
	fc.ClickHouseDSN = strings.TrimSpace(fc.ClickHouseDSN)
	fc.Format = strings.TrimSpace(fc.Format)
	fc.DashboardDir = strings.TrimSpace(fc.DashboardDir)
}

// Apply copies file values into cfg. Fields for which explicit reports true
// were set on the command line and are left untouched.
func (fc *FileConfig) Apply(cfg *Config, explicit func(flag string) bool) error {
	if fc == nil || cfg == nil {
		return nil
	}
	if explicit == nil {
		explicit = func(string) bool { return false }
	}

	setString := func(flag, value string, dst *string) {
		if value != "" && !explicit(flag) {
			*dst = value
		}
	}
	setDuration := func(flag, value string, dst *time.Duration) error {
		if value == "" || explicit(flag) {
			return nil
		}
		parsed, err := ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s in config file: %w", flag, err)
		}
		*dst = parsed
		return nil
	}

	setString("kubeconfig", fc.KubeConfig, &cfg.KubeConfig)
	setString("data-dir", fc.DataDir, &cfg.DataDir)
	setString("engine", fc.Engine, &cfg.Engine)
	setString("clickhouse-dsn", fc.ClickHouseDSN, &cfg.ClickHouseDSN)
	setString("format", fc.Format, &cfg.Format)
	setString("dashboard", fc.DashboardDir, &cfg.DashboardDir)

	if err := setDuration("interval", fc.Interval, &cfg.ScanInterval); err != nil {
		return err
	}
	if err := setDuration("pending-threshold", fc.PendingThreshold, &cfg.PendingThreshold); err != nil {
		return err
	}
	if err := setDuration("cluster-timeout", fc.ClusterTimeout, &cfg.ClusterTimeout); err != nil {
		return err
	}

	if fc.RequireCoverage != nil && !explicit("require-coverage") {
		cfg.RequireCoverage = *fc.RequireCoverage
	}
	if fc.Concurrency != nil && !explicit("concurrency") {
		cfg.Concurrency = *fc.Concurrency
	}
	if len(fc.Contexts) > 0 && !explicit("context") {
		cfg.Contexts = append([]string(nil), fc.Contexts...)
	}
	if len(fc.ExcludeNamespaces) > 0 && !explicit("exclude-namespace") {
		cfg.ExcludeNamespaces = append([]string(nil), fc.ExcludeNamespaces...)
	}
	if len(fc.ExcludeClusters) > 0 && !explicit("exclude-cluster") {
		cfg.ExcludeClusters = append([]string(nil), fc.ExcludeClusters...)
	}

	cfg.Normalize()
	return nil
}

// AutoLoadFile discovers and loads the first available config file.
func AutoLoadFile() (*FileConfig, string, error) {
	candidates := []string{
		DefaultConfigFileYAML,
		DefaultConfigFileYML,
	}

	if homeDir, err := os.UserHomeDir(); err == nil && strings.TrimSpace(homeDir) != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, DefaultConfigFileYAML),
			filepath.Join(homeDir, DefaultConfigFileYML),
		)
	}

	return LoadFirstExistingFile(candidates)
}

// LoadFirstExistingFile loads the first config file that exists in paths.
func LoadFirstExistingFile(paths []string) (*FileConfig, string, error) {
	for _, path := range paths {
		candidate := strings.TrimSpace(path)
		if candidate == "" {
			continue
		}

		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", fmt.Errorf("failed to access config file %q: %w", candidate, err)
		}
		if info.IsDir() {
			return nil, "", fmt.Errorf("config path %q is a directory, expected a file", candidate)
		}

		cfg, err := LoadFile(candidate)
		if err != nil {
			return nil, "", err
		}
		return cfg, candidate, nil
	}

	return nil, "", nil
}

// LoadFile loads config values from a specific YAML file path.
func LoadFile(path string) (*FileConfig, error) {
	filename := strings.TrimSpace(path)
	if filename == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", filename, err)
	}

	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", filename, err)
	}

	cfg.Normalize()
	return cfg, nil
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}

	normalized := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
