package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ppiankov/podspectre/pkg/config"
)

// commonFlags holds the flags shared by scan and serve. Durations are parsed
// in PreRunE so they accept the same "d" suffix as the config file.
type commonFlags struct {
	configPath          string
	loadedConfig        string
	pendingThresholdStr string
	clusterTimeoutStr   string
	eventCacheTTLStr    string

	// fromFlags is cfg before the config file was applied.
	fromFlags config.Config
}

func (f *commonFlags) bind(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to config file (default: .podspectre.yaml in cwd or home)")

	// Kubernetes flags
	cmd.Flags().StringVar(&cfg.KubeConfig, "kubeconfig", "", "Path to kubeconfig (default: ~/.kube/config)")
	cmd.Flags().StringSliceVar(&cfg.Contexts, "context", nil, "Only scan these kubeconfig contexts or cluster names (repeatable)")
	cmd.Flags().IntVar(&cfg.K8sRateLimit, "k8s-rate-limit", cfg.K8sRateLimit, "Kubernetes API rate limit per cluster (requests/sec, 0 = unlimited)")
	cmd.Flags().StringVar(&f.eventCacheTTLStr, "event-cache-ttl", "1m", "Pod event cache TTL (e.g., 30s, 1m, 0 to disable)")

	// Scan flags
	cmd.Flags().StringVar(&f.pendingThresholdStr, "pending-threshold", "10m", "Pending pods older than this are abnormal (e.g., 10m, 1h)")
	cmd.Flags().StringVar(&f.clusterTimeoutStr, "cluster-timeout", "60s", "Time budget for listing one cluster, retries included")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Clusters listed in parallel")
	cmd.Flags().StringVar(&cfg.Engine, "engine", cfg.Engine, "Reconciliation engine (auto, reference, accelerated)")
	cmd.Flags().BoolVar(&cfg.RequireCoverage, "require-coverage", false, "Fail a scan when no cluster could be listed instead of storing an empty snapshot")
	cmd.Flags().StringSliceVar(&cfg.ExcludeNamespaces, "exclude-namespace", nil, "Namespace glob patterns to ignore (repeatable)")
	cmd.Flags().StringSliceVar(&cfg.ExcludeClusters, "exclude-cluster", nil, "Cluster glob patterns to ignore (repeatable)")

	// Storage flags
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding daily snapshots")
	cmd.Flags().StringVar(&cfg.ClickHouseDSN, "clickhouse-dsn", "", "Optional ClickHouse DSN for scan history")
}

// load parses duration flags, applies the config file underneath explicit
// flags and validates the result.
func (f *commonFlags) load(cmd *cobra.Command, cfg *config.Config) error {
	var err error

	if cfg.PendingThreshold, err = config.ParseDuration(f.pendingThresholdStr); err != nil {
		return fmt.Errorf("invalid --pending-threshold duration: %w", err)
	}
	if cfg.ClusterTimeout, err = config.ParseDuration(f.clusterTimeoutStr); err != nil {
		return fmt.Errorf("invalid --cluster-timeout duration: %w", err)
	}
	if cfg.EventCacheTTL, err = config.ParseDuration(f.eventCacheTTLStr); err != nil {
		return fmt.Errorf("invalid --event-cache-ttl duration: %w", err)
	}

	f.fromFlags = *cfg

	fileCfg, loaded, err := loadConfigFile(f.configPath)
	if err != nil {
		return err
	}
	f.loadedConfig = loaded
	if fileCfg != nil {
		slog.Debug("config file loaded", slog.String("path", f.loadedConfig))
		if err := fileCfg.Apply(cfg, cmd.Flags().Changed); err != nil {
			return err
		}
	}

	cfg.Normalize()
	return cfg.Validate()
}

// loadConfigFile reads path, or the first default config file when path is
// empty. It returns a nil config and no error when no default file exists.
func loadConfigFile(path string) (*config.FileConfig, string, error) {
	if path != "" {
		fc, err := config.LoadFile(path)
		return fc, path, err
	}
	return config.AutoLoadFile()
}
