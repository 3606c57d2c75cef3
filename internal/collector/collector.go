package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/podspectre/internal/models"
)

const (
	defaultConcurrency    = 5
	defaultClusterTimeout = 60 * time.Second
)

// Source lists pods from a set of named clusters.
type Source interface {
	Clusters() []string
	ListPods(ctx context.Context, cluster string) ([]models.PodRecord, error)
}

// Options tunes a Collector
type Options struct {
	Concurrency    int           // clusters listed in parallel
	ClusterTimeout time.Duration // total budget per cluster, retries included
	Tracer         trace.Tracer
}

// ClusterResult is the outcome of listing one cluster.
type ClusterResult struct {
	Cluster  string
	Pods     []models.PodRecord
	Err      error
	Duration time.Duration
}

// ClusterError reports a cluster whose pods could not be listed.
type ClusterError struct {
	Cluster string
	Err     error
}

func (e *ClusterError) Error() string {
	return fmt.Sprintf("cluster %s: %v", e.Cluster, e.Err)
}

func (e *ClusterError) Unwrap() error {
	return e.Err
}

// Collector fans pod listing out across clusters.
type Collector struct {
	src    Source
	opts   Options
	retry  retryConfig
	tracer trace.Tracer
}

// New creates a collector over src
func New(src Source, opts Options) *Collector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ClusterTimeout <= 0 {
		opts.ClusterTimeout = defaultClusterTimeout
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("podspectre/collector")
	}
	return &Collector{
		src:    src,
		opts:   opts,
		retry:  defaultRetryConfig(),
		tracer: tracer,
	}
}

// Clusters returns the clusters the source knows about.
func (c *Collector) Clusters() []string {
	return c.src.Clusters()
}

// Collect lists every cluster and returns one result per cluster in input order.
// A failing cluster never aborts the others; its result carries a *ClusterError.
func (c *Collector) Collect(ctx context.Context, clusters []string) []ClusterResult {
	results := make([]ClusterResult, len(clusters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, cluster := range clusters {
		g.Go(func() error {
			results[i] = c.collectCluster(gctx, cluster)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Collector) collectCluster(ctx context.Context, cluster string) ClusterResult {
	ctx, span := c.tracer.Start(ctx, "collector.cluster",
		trace.WithAttributes(attribute.String("cluster", cluster)),
	)
	defer span.End()

	cctx, cancel := withClusterDeadline(ctx, c.opts.ClusterTimeout)
	defer cancel()

	start := time.Now()
	var pods []models.PodRecord
	err := executeWithRetry(cctx, c.retry, func() error {
		var listErr error
		pods, listErr = c.src.ListPods(cctx, cluster)
		return listErr
	})
	result := ClusterResult{Cluster: cluster, Duration: time.Since(start)}

	if err != nil {
		result.Err = &ClusterError{Cluster: cluster, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("cluster collection failed",
			slog.String("cluster", cluster),
			slog.Duration("duration", result.Duration),
			slog.String("error", err.Error()),
		)
		return result
	}

	result.Pods = pods
	span.SetAttributes(attribute.Int("pods", len(pods)))
	slog.Debug("cluster collected",
		slog.String("cluster", cluster),
		slog.Int("pods", len(pods)),
		slog.Duration("duration", result.Duration),
	)
	return result
}
