package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/podspectre/internal/coordinator"
	"github.com/ppiankov/podspectre/internal/k8s"
	"github.com/ppiankov/podspectre/internal/logging"
	"github.com/ppiankov/podspectre/internal/server"
	"github.com/ppiankov/podspectre/pkg/config"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var flags commonFlags
	var intervalStr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Scan on a schedule and serve the API and dashboard",
		Long: `Scan every configured cluster at startup and then on a fixed interval.
The latest result is served at /api/data, a scan can be requested with
POST /api/run-check and metrics are exposed at /metrics.

When a config file is in use it is watched, and changes to the pending
threshold and exclusions apply from the next scan.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg.ScanInterval, err = config.ParseDuration(intervalStr); err != nil {
				return fmt.Errorf("invalid --interval duration: %w", err)
			}
			return flags.load(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, &flags, cmd.Flags().Changed)
		},
	}

	flags.bind(cmd, cfg)

	// Server flags
	cmd.Flags().StringVar(&intervalStr, "interval", "10m", "Time between scheduled scans (e.g., 10m, 1h)")
	cmd.Flags().IntVar(&cfg.ServerPort, "port", cfg.ServerPort, "Port to serve on")
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", "", "Listen address, overrides --port (e.g., 127.0.0.1:8080)")
	cmd.Flags().StringVar(&cfg.DashboardDir, "dashboard", "", `Static dashboard directory ("auto" searches ./dashboard and ./web)`)
	cmd.Flags().BoolVar(&cfg.LogJSON, "log-json", false, "Log in JSON format")

	return cmd
}

// runServe runs the scheduler, the API server and the config watcher until
// ctx is done or one of them fails.
func runServe(ctx context.Context, cfg *config.Config, flags *commonFlags, explicit func(string) bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logging.Setup(logging.Options{Level: level, JSON: cfg.LogJSON})

	fleet, err := k8s.NewFleet(cfg)
	if err != nil {
		return fmt.Errorf("failed to discover clusters: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := newPipeline(ctx, cfg, fleet, reg)
	if err != nil {
		return err
	}
	defer p.Close()
	// Runs before p.Close so no scan is still writing history.
	defer p.coord.Close()

	srv, err := server.New(p.coord, server.Options{
		Addr:         cfg.Addr(),
		DashboardDir: cfg.DashboardDir,
		Gatherer:     reg,
	})
	if err != nil {
		return err
	}

	slog.Info("podspectre serving",
		slog.String("version", version),
		slog.Int("clusters", len(fleet.Clusters())),
		slog.Duration("interval", cfg.ScanInterval),
		slog.String("data_dir", cfg.DataDir),
	)

	var watcher *config.Watcher
	if flags.loadedConfig != "" {
		watcher, err = config.NewWatcher(flags.loadedConfig, 0, reloadSettings(p.coord, flags.fromFlags, explicit))
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.coord.Run(gctx, cfg.ScanInterval)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	return g.Wait()
}

// reloadSettings applies a changed config file on top of the flag values and
// hands the runtime settings to coord. Other fields need a restart.
func reloadSettings(coord *coordinator.Coordinator, base config.Config, explicit func(string) bool) config.ReloadFunc {
	return func(fc *config.FileConfig) error {
		next := base
		if err := fc.Apply(&next, explicit); err != nil {
			return err
		}
		if next.PendingThreshold <= 0 {
			return fmt.Errorf("pending threshold must be positive, got %s", next.PendingThreshold)
		}

		settings := coordinator.SettingsFromConfig(&next)
		coord.UpdateSettings(settings)
		slog.Info("scan settings reloaded",
			slog.Duration("pending_threshold", settings.PendingThreshold),
			slog.Int("excluded_namespaces", len(settings.ExcludeNamespaces)),
			slog.Int("excluded_clusters", len(settings.ExcludeClusters)),
		)
		return nil
	}
}
