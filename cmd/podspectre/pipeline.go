package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/podspectre/internal/collector"
	"github.com/ppiankov/podspectre/internal/coordinator"
	"github.com/ppiankov/podspectre/internal/history"
	"github.com/ppiankov/podspectre/internal/k8s"
	"github.com/ppiankov/podspectre/internal/reconcile"
	"github.com/ppiankov/podspectre/internal/snapshot"
	"github.com/ppiankov/podspectre/pkg/config"
)

// pipeline is everything a scan needs, wired from one Config.
type pipeline struct {
	coord   *coordinator.Coordinator
	metrics *coordinator.Metrics
	history *history.Sink
}

// newPipeline wires fleet into a coordinator. reg may be nil.
func newPipeline(ctx context.Context, cfg *config.Config, fleet *k8s.Fleet, reg prometheus.Registerer) (*pipeline, error) {
	store, err := snapshot.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	metrics := coordinator.NewMetrics(reg)
	engine, err := reconcile.Select(ctx, cfg.Engine, reconcile.OnFallback(metrics.EngineFallback))
	if err != nil {
		return nil, fmt.Errorf("invalid --engine value: %w", err)
	}
	slog.Debug("reconciliation engine selected", slog.String("engine", engine.Name()))

	p := &pipeline{metrics: metrics}

	var sink coordinator.HistorySink
	if cfg.ClickHouseDSN != "" {
		h, err := history.Open(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open scan history: %w", err)
		}
		p.history = h
		sink = h
	}

	col := collector.New(fleet, collector.Options{
		Concurrency:    cfg.Concurrency,
		ClusterTimeout: cfg.ClusterTimeout,
	})

	coord, err := coordinator.New(coordinator.Options{
		Collector: col,
		Events:    fleet,
		Store:     store,
		Engine:    engine,
		History:   sink,
		Metrics:   metrics,
		Settings:  coordinator.SettingsFromConfig(cfg),
	})
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.coord = coord
	return p, nil
}

// Close releases the history connection, if any.
func (p *pipeline) Close() error {
	if p.history != nil {
		return p.history.Close()
	}
	return nil
}
