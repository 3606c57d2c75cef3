package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/podspectre/internal/analyzer"
	"github.com/ppiankov/podspectre/internal/classifier"
	"github.com/ppiankov/podspectre/internal/collector"
	"github.com/ppiankov/podspectre/internal/models"
	"github.com/ppiankov/podspectre/internal/reconcile"
	"github.com/ppiankov/podspectre/pkg/config"
)

var (
	// ErrScanInProgress is returned when a scan is requested while one is running.
	ErrScanInProgress = errors.New("a scan is already in progress")
	// ErrNoClusters is returned when no cluster is left to scan and
	// coverage is required.
	ErrNoClusters = errors.New("no clusters configured")
	// ErrNoCoverage is returned when every cluster failed to list and
	// coverage is required.
	ErrNoCoverage = errors.New("no cluster could be listed")
	// ErrClosed is returned for scans requested after Close.
	ErrClosed = errors.New("coordinator is shut down")
	// ErrNoEvents is returned by PodDetail when no event source is configured.
	ErrNoEvents = errors.New("pod events are not available")
)

// Collector lists pods across clusters.
type Collector interface {
	Clusters() []string
	Collect(ctx context.Context, clusters []string) []collector.ClusterResult
}

// EventSource looks up the events of a single pod.
type EventSource interface {
	Events(ctx context.Context, id models.PodIdentity) ([]string, error)
}

// SnapshotStore persists one abnormal pod list per day.
type SnapshotStore interface {
	Today() time.Time
	Yesterday(date time.Time) time.Time
	Write(date time.Time, entries []models.AbnormalPodEntry) error
	Read(date time.Time) ([]models.AbnormalPodEntry, error)
	Dates() ([]time.Time, error)
}

// HistorySink receives every published scan.
type HistorySink interface {
	Record(ctx context.Context, state *models.ScanState) error
}

// Settings are the scan parameters that may change at runtime.
type Settings struct {
	PendingThreshold  time.Duration
	ExcludeNamespaces []string
	ExcludeClusters   []string
	// RequireCoverage fails scans that listed no cluster. Otherwise they
	// store an empty snapshot and report partial coverage.
	RequireCoverage bool
}

// SettingsFromConfig extracts the runtime settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PendingThreshold:  cfg.PendingThreshold,
		ExcludeNamespaces: cfg.ExcludeNamespaces,
		ExcludeClusters:   cfg.ExcludeClusters,
		RequireCoverage:   cfg.RequireCoverage,
	}
}

// Options wires a Coordinator
type Options struct {
	Collector Collector
	Events    EventSource
	Store     SnapshotStore
	Engine    reconcile.Engine
	History   HistorySink // optional
	Metrics   *Metrics    // optional, unregistered metrics are used when nil
	Tracer    trace.Tracer
	Settings  Settings
	Clock     func() time.Time
}

// Coordinator runs scans one at a time and holds the latest result.
type Coordinator struct {
	collector Collector
	events    EventSource
	store     SnapshotStore
	engine    reconcile.Engine
	history   HistorySink
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time

	busy     atomic.Bool
	settings atomic.Pointer[Settings]

	// gate orders wg.Add against Close.
	gate   sync.Mutex
	closed bool
	wg     sync.WaitGroup

	mu     sync.RWMutex
	latest *models.ScanState
}

// New creates a coordinator. Collector, Store and Engine are required.
func New(opts Options) (*Coordinator, error) {
	if opts.Collector == nil {
		return nil, errors.New("coordinator requires a collector")
	}
	if opts.Store == nil {
		return nil, errors.New("coordinator requires a snapshot store")
	}
	if opts.Engine == nil {
		return nil, errors.New("coordinator requires a reconciliation engine")
	}

	c := &Coordinator{
		collector: opts.Collector,
		events:    opts.Events,
		store:     opts.Store,
		engine:    opts.Engine,
		history:   opts.History,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		now:       opts.Clock,
		latest: &models.ScanState{
			New:            []models.AbnormalPodEntry{},
			Ongoing:        []models.AbnormalPodEntry{},
			Resolved:       []models.AbnormalPodEntry{},
			Clusters:       []models.ClusterCoverage{},
			LastScanStatus: models.StatusNever,
		},
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.tracer == nil {
		c.tracer = otel.GetTracerProvider().Tracer("podspectre/coordinator")
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.UpdateSettings(opts.Settings)

	_, charts := analyzer.Summarize(c.latest.Result())
	c.latest.Charts = charts
	return c, nil
}

// UpdateSettings replaces the settings used by subsequent scans.
// A scan already running keeps the settings it started with.
func (c *Coordinator) UpdateSettings(s Settings) {
	s.ExcludeNamespaces = config.NormalizePatterns(s.ExcludeNamespaces)
	s.ExcludeClusters = config.NormalizePatterns(s.ExcludeClusters)
	if s.PendingThreshold <= 0 {
		s.PendingThreshold = classifier.DefaultPendingThreshold
	}
	c.settings.Store(&s)
}

// Settings returns the settings the next scan will use.
func (c *Coordinator) Settings() Settings {
	return *c.settings.Load()
}

// Latest returns the last published state. It is never nil and must not be modified.
func (c *Coordinator) Latest() *models.ScanState {
	c.mu.RLock()
	state := *c.latest
	c.mu.RUnlock()

	state.Running = c.busy.Load()
	return &state
}

// Running reports whether a scan is in progress.
func (c *Coordinator) Running() bool {
	return c.busy.Load()
}

// RunScan runs a scan and waits for it to finish.
func (c *Coordinator) RunScan(ctx context.Context) (*models.ScanState, error) {
	if err := c.acquire(false); err != nil {
		return nil, err
	}
	defer c.release(false)

	return c.scan(ctx)
}

// TriggerScan starts a scan in the background and returns immediately.
// The scan is not cancelled when ctx is.
func (c *Coordinator) TriggerScan(ctx context.Context) error {
	if err := c.acquire(true); err != nil {
		return err
	}

	scanCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.release(true)

		if _, err := c.scan(scanCtx); err != nil {
			slog.Error("background scan failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// acquire takes the single-scan gate. Background scans are also counted so
// Close can wait for them.
func (c *Coordinator) acquire(background bool) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !c.busy.CompareAndSwap(false, true) {
		c.metrics.rejected.Inc()
		return ErrScanInProgress
	}
	if background {
		c.wg.Add(1)
	}
	return nil
}

func (c *Coordinator) release(background bool) {
	c.busy.Store(false)
	if background {
		c.wg.Done()
	}
}

// Close rejects further scans with ErrClosed and waits for background scans.
func (c *Coordinator) Close() {
	c.gate.Lock()
	c.closed = true
	c.gate.Unlock()

	c.wg.Wait()
}

// Run scans immediately and then every interval until ctx is done.
// Ticks that find a scan running are skipped.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scan interval must be positive, got %s", interval)
	}

	c.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	if err := c.TriggerScan(ctx); err != nil {
		slog.Info("scheduled scan skipped", slog.String("reason", err.Error()))
	}
}

// SnapshotDates lists the days with a stored snapshot, oldest first, as YYYY-MM-DD.
func (c *Coordinator) SnapshotDates() ([]string, error) {
	dates, err := c.store.Dates()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(time.DateOnly)
	}
	return out, nil
}

// PodDetail returns the events recorded for a pod.
func (c *Coordinator) PodDetail(ctx context.Context, id models.PodIdentity) ([]string, error) {
	if c.events == nil {
		return nil, ErrNoEvents
	}
	ctx, span := c.tracer.Start(ctx, "coordinator.pod_detail",
		trace.WithAttributes(
			attribute.String("cluster", id.Cluster),
			attribute.String("namespace", id.Namespace),
			attribute.String("pod", id.Pod),
		),
	)
	defer span.End()

	events, err := c.events.Events(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return events, nil
}

func (c *Coordinator) scan(ctx context.Context) (*models.ScanState, error) {
	startedAt := c.now()
	wallStart := time.Now()
	scanID := uuid.NewString()
	settings := c.Settings()

	ctx, span := c.tracer.Start(ctx, "coordinator.scan",
		trace.WithAttributes(attribute.String("scan_id", scanID)),
	)
	defer span.End()

	slog.Info("scan started", slog.String("scan_id", scanID))

	state, err := c.buildState(ctx, scanID, startedAt, settings)
	c.metrics.scanDuration.Observe(time.Since(wallStart).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.scans.WithLabelValues("failed").Inc()
		c.publishFailure(startedAt, err)
		slog.Warn("scan failed",
			slog.String("scan_id", scanID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	outcome := "succeeded"
	if state.LastScanStatus == models.StatusPartial {
		outcome = "partial"
	}
	c.metrics.scans.WithLabelValues(outcome).Inc()
	c.metrics.abnormal.WithLabelValues("new").Set(float64(state.Stats.New))
	c.metrics.abnormal.WithLabelValues("ongoing").Set(float64(state.Stats.Ongoing))
	c.metrics.abnormal.WithLabelValues("resolved").Set(float64(state.Stats.Resolved))

	c.mu.Lock()
	c.latest = state
	c.mu.Unlock()

	span.SetAttributes(
		attribute.String("engine", state.Engine),
		attribute.Int("new", state.Stats.New),
		attribute.Int("ongoing", state.Stats.Ongoing),
		attribute.Int("resolved", state.Stats.Resolved),
	)
	slog.Info("scan finished",
		slog.String("scan_id", scanID),
		slog.String("status", state.LastScanStatus),
		slog.String("engine", state.Engine),
		slog.Int("new", state.Stats.New),
		slog.Int("ongoing", state.Stats.Ongoing),
		slog.Int("resolved", state.Stats.Resolved),
	)

	if c.history != nil {
		if err := c.history.Record(ctx, state); err != nil {
			c.metrics.historyErrors.Inc()
			slog.Warn("failed to record scan history",
				slog.String("scan_id", scanID),
				slog.String("error", err.Error()),
			)
		}
	}

	out := *state
	return &out, nil
}

func (c *Coordinator) buildState(ctx context.Context, scanID string, startedAt time.Time, settings Settings) (*models.ScanState, error) {
	var clusters []string
	for _, name := range c.collector.Clusters() {
		if config.MatchesAny(settings.ExcludeClusters, name) {
			continue
		}
		clusters = append(clusters, name)
	}
	if len(clusters) == 0 {
		if settings.RequireCoverage {
			return nil, ErrNoClusters
		}
		slog.Warn("no clusters to scan, storing an empty snapshot")
	}

	var results []collector.ClusterResult
	if len(clusters) > 0 {
		results = c.collector.Collect(ctx, clusters)
	}
	cls := classifier.New(
		classifier.WithPendingThreshold(settings.PendingThreshold),
		classifier.WithClock(c.now),
	)

	var (
		entries   []models.AbnormalPodEntry
		coverage  = make([]models.ClusterCoverage, 0, len(results))
		failures  []error
		succeeded int
	)
	for _, r := range results {
		cov := models.ClusterCoverage{
			Cluster:       r.Cluster,
			DurationMilli: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			cov.Error = r.Err.Error()
			failures = append(failures, r.Err)
			c.metrics.clusterErrors.WithLabelValues(r.Cluster).Inc()
			coverage = append(coverage, cov)
			continue
		}

		succeeded++
		for _, rec := range r.Pods {
			if config.MatchesAny(settings.ExcludeNamespaces, rec.Namespace) {
				continue
			}
			cov.Pods++
			if entry, abnormal := cls.Entry(rec); abnormal {
				entries = append(entries, entry)
				cov.Abnormal++
			}
		}
		c.metrics.clusterPods.WithLabelValues(r.Cluster).Set(float64(cov.Pods))
		coverage = append(coverage, cov)
	}

	if succeeded == 0 && len(failures) > 0 {
		err := fmt.Errorf("%w: %w", ErrNoCoverage, errors.Join(failures...))
		if settings.RequireCoverage {
			return nil, err
		}
		slog.Warn("no cluster could be listed, storing an empty snapshot", slog.String("error", err.Error()))
	}

	today := c.store.Today()
	snap := models.NewDailySnapshot(today, entries)
	if err := c.store.Write(snap.Date, snap.Entries); err != nil {
		return nil, fmt.Errorf("failed to write today's snapshot: %w", err)
	}

	yesterday, err := c.store.Read(c.store.Yesterday(snap.Date))
	if err != nil {
		return nil, fmt.Errorf("failed to read yesterday's snapshot: %w", err)
	}

	result, engineName, err := reconcile.Run(ctx, c.engine, snap.Entries, yesterday)
	if err != nil {
		return nil, fmt.Errorf("reconciliation failed: %w", err)
	}

	stats, charts := analyzer.Summarize(result)
	status := models.StatusSucceeded
	if len(failures) > 0 || succeeded == 0 {
		status = models.StatusPartial
	}

	return &models.ScanState{
		Stats:          stats,
		New:            result.New,
		Ongoing:        result.Ongoing,
		Resolved:       result.Resolved,
		Charts:         charts,
		Clusters:       coverage,
		ScanID:         scanID,
		Engine:         engineName,
		Date:           snap.Date.Format(time.DateOnly),
		LastScanAt:     startedAt,
		LastScanStatus: status,
		LastSuccessAt:  startedAt,
	}, nil
}

// publishFailure keeps the previous result and records the failed attempt.
func (c *Coordinator) publishFailure(startedAt time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := *c.latest
	state.LastScanAt = startedAt
	state.LastScanStatus = fmt.Sprintf(models.StatusFailedFmt, err)
	state.Running = false
	c.latest = &state
}
