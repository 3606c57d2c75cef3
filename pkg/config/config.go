package config

import (
	"fmt"
	"strings"
	"time"
)

// Engine modes accepted by --engine
const (
	EngineAuto        = "auto"
	EngineReference   = "reference"
	EngineAccelerated = "accelerated"
)

// Config holds all runtime configuration
type Config struct {
	// Kubernetes settings
	KubeConfig    string
	Contexts      []string
	K8sRateLimit  int
	EventCacheTTL time.Duration

	// Scan settings
	ScanInterval     time.Duration
	PendingThreshold time.Duration
	ClusterTimeout   time.Duration
	Engine           string
	// RequireCoverage fails a scan that listed no cluster instead of
	// storing an empty snapshot.
	RequireCoverage bool

	// Concurrency settings
	Concurrency int

	// Storage settings
	DataDir       string
	ClickHouseDSN string

	// Exclusions
	ExcludeNamespaces []string
	ExcludeClusters   []string

	// Output settings
	OutputDir string
	Format    string
	FailOnNew bool

	// Server settings
	ServerPort   int
	ListenAddr   string
	DashboardDir string
	LogJSON      bool

	// Operational flags
	Verbose bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		K8sRateLimit:      10,
		EventCacheTTL:     time.Minute,
		ScanInterval:      10 * time.Minute,
		PendingThreshold:  10 * time.Minute,
		ClusterTimeout:    60 * time.Second,
		Engine:            EngineAuto,
		Concurrency:       5,
		DataDir:           "./data",
		ExcludeNamespaces: []string{},
		ExcludeClusters:   []string{},
		OutputDir:         "-",
		Format:            "text",
		ServerPort:        8080,
		Verbose:           false,
	}
}

// Addr returns the server listen address, preferring ListenAddr over ServerPort.
func (c *Config) Addr() string {
	if addr := strings.TrimSpace(c.ListenAddr); addr != "" {
		return addr
	}
	return fmt.Sprintf(":%d", c.ServerPort)
}

// Validate rejects values that would make a scan meaningless.
func (c *Config) Validate() error {
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive, got %s", c.ScanInterval)
	}
	if c.PendingThreshold <= 0 {
		return fmt.Errorf("pending threshold must be positive, got %s", c.PendingThreshold)
	}
	if c.ClusterTimeout <= 0 {
		return fmt.Errorf("cluster timeout must be positive, got %s", c.ClusterTimeout)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.K8sRateLimit < 0 {
		return fmt.Errorf("k8s rate limit must not be negative, got %d", c.K8sRateLimit)
	}
	switch c.Format {
	case "json", "text", "sarif":
	default:
		return fmt.Errorf("unsupported format %q (expected json, text or sarif)", c.Format)
	}
	switch c.Engine {
	case EngineAuto, EngineReference, EngineAccelerated:
	default:
		return fmt.Errorf("unsupported engine %q (expected auto, reference or accelerated)", c.Engine)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir is empty")
	}
	return nil
}
