package coordinator

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/podspectre/internal/collector"
	"github.com/ppiankov/podspectre/internal/models"
	"github.com/ppiankov/podspectre/internal/reconcile"
	"github.com/ppiankov/podspectre/internal/snapshot"
)

var scanTime = time.Date(2026, 2, 16, 10, 0, 0, 0, time.Local)

func clock() time.Time { return scanTime }

// fakeSource serves fixed pods per cluster. Clusters listed in block wait
// until release is closed or the cluster deadline passes.
type fakeSource struct {
	mu       sync.Mutex
	clusters []string
	pods     map[string][]models.PodRecord
	errs     map[string]error
	block    map[string]bool
	release  chan struct{}
	started  chan string
}

func (s *fakeSource) Clusters() []string {
	return s.clusters
}

func (s *fakeSource) ListPods(ctx context.Context, cluster string) ([]models.PodRecord, error) {
	s.mu.Lock()
	pods, err, block := s.pods[cluster], s.errs[cluster], s.block[cluster]
	s.mu.Unlock()

	if s.started != nil {
		s.started <- cluster
	}
	if block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.release:
		}
	}
	return pods, err
}

func (s *fakeSource) setErr(cluster string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = make(map[string]error)
	}
	s.errs[cluster] = err
}

func failedPod(cluster, namespace, name string) models.PodRecord {
	return models.PodRecord{
		PodIdentity: models.PodIdentity{Cluster: cluster, Namespace: namespace, Pod: name},
		Phase:       models.PhaseFailed,
	}
}

func healthyPod(cluster, namespace, name string) models.PodRecord {
	return models.PodRecord{
		PodIdentity: models.PodIdentity{Cluster: cluster, Namespace: namespace, Pod: name},
		Phase:       models.PhaseRunning,
		Containers:  []models.ContainerStatus{{Name: "app", Ready: true}},
	}
}

func abnormal(cluster, namespace, name string) models.AbnormalPodEntry {
	return models.AbnormalPodEntry{
		PodRecord: failedPod(cluster, namespace, name),
		Reasons:   []string{"Phase: Failed"},
	}
}

type harness struct {
	coord   *Coordinator
	store   *snapshot.Store
	metrics *Metrics
	reg     *prometheus.Registry
	dir     string
}

type harnessOption func(*Options)

func newHarness(t *testing.T, src *fakeSource, clusterTimeout time.Duration, opts ...harnessOption) harness {
	t.Helper()
	dir := t.TempDir()
	store, err := snapshot.New(dir, snapshot.WithClock(clock))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	o := Options{
		Collector: collector.New(src, collector.Options{ClusterTimeout: clusterTimeout}),
		Store:     store,
		Engine:    reconcile.Reference{},
		Metrics:   metrics,
		Clock:     clock,
	}
	for _, opt := range opts {
		opt(&o)
	}

	coord, err := New(o)
	require.NoError(t, err)
	return harness{coord: coord, store: store, metrics: metrics, reg: reg, dir: dir}
}

func seedYesterday(t *testing.T, dir string, entries ...models.AbnormalPodEntry) {
	t.Helper()
	yesterday := func() time.Time { return scanTime.AddDate(0, 0, -1) }
	store, err := snapshot.New(dir, snapshot.WithClock(yesterday))
	require.NoError(t, err)
	require.NoError(t, store.Write(store.Today(), entries))
}

func identities(entries []models.AbnormalPodEntry) []models.PodIdentity {
	return models.Identities(entries)
}

func TestLatestBeforeFirstScan(t *testing.T) {
	h := newHarness(t, &fakeSource{clusters: []string{"a"}}, time.Second)

	state := h.coord.Latest()
	require.NotNil(t, state)
	assert.Equal(t, models.StatusNever, state.LastScanStatus)
	assert.NotNil(t, state.New)
	assert.NotNil(t, state.Ongoing)
	assert.NotNil(t, state.Resolved)
	assert.False(t, state.Running)
}

func TestRunScanReconcilesAgainstYesterday(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"prod"},
		pods: map[string][]models.PodRecord{
			"prod": {
				failedPod("prod", "shop", "a"),
				failedPod("prod", "shop", "b"),
				healthyPod("prod", "shop", "d"),
			},
		},
	}
	h := newHarness(t, src, time.Second)
	seedYesterday(t, h.dir, abnormal("prod", "shop", "b"), abnormal("prod", "shop", "c"))

	state, err := h.coord.RunScan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.PodIdentity{{Cluster: "prod", Namespace: "shop", Pod: "a"}}, identities(state.New))
	assert.Equal(t, []models.PodIdentity{{Cluster: "prod", Namespace: "shop", Pod: "b"}}, identities(state.Ongoing))
	assert.Equal(t, []models.PodIdentity{{Cluster: "prod", Namespace: "shop", Pod: "c"}}, identities(state.Resolved))
	assert.Equal(t, models.Stats{Total: 2, New: 1, Ongoing: 1, Resolved: 1}, state.Stats)
	assert.Equal(t, models.StatusSucceeded, state.LastScanStatus)
	assert.Equal(t, "reference", state.Engine)
	assert.Equal(t, "2026-02-16", state.Date)
	assert.NotEmpty(t, state.ScanID)
	assert.Equal(t, scanTime, state.LastSuccessAt)
	require.Len(t, state.Clusters, 1)
	assert.Equal(t, 3, state.Clusters[0].Pods)
	assert.Equal(t, 2, state.Clusters[0].Abnormal)

	saved, err := h.store.Read(h.store.Today())
	require.NoError(t, err)
	assert.Len(t, saved, 2)

	latest := h.coord.Latest()
	assert.Equal(t, state.ScanID, latest.ScanID)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.scans.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.abnormal.WithLabelValues("resolved")))
}

func TestTriggerScanRejectsConcurrentScan(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"a"},
		pods:     map[string][]models.PodRecord{"a": {failedPod("a", "ns", "p")}},
		block:    map[string]bool{"a": true},
		release:  make(chan struct{}),
		started:  make(chan string, 1),
	}
	h := newHarness(t, src, 10*time.Second)

	require.NoError(t, h.coord.TriggerScan(context.Background()))
	<-src.started
	assert.True(t, h.coord.Latest().Running)

	assert.ErrorIs(t, h.coord.TriggerScan(context.Background()), ErrScanInProgress)
	_, err := h.coord.RunScan(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(src.release)
	h.coord.Close()

	state := h.coord.Latest()
	assert.False(t, state.Running)
	assert.Equal(t, models.StatusSucceeded, state.LastScanStatus)
	assert.Len(t, state.New, 1)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.rejected))
}

func TestTriggerScanSurvivesCallerCancellation(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"a"},
		pods:     map[string][]models.PodRecord{"a": {failedPod("a", "ns", "p")}},
		block:    map[string]bool{"a": true},
		release:  make(chan struct{}),
		started:  make(chan string, 1),
	}
	h := newHarness(t, src, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.coord.TriggerScan(ctx))
	<-src.started
	cancel()
	close(src.release)
	h.coord.Close()

	assert.Equal(t, models.StatusSucceeded, h.coord.Latest().LastScanStatus)
}

func TestPartialCoverageWhenClusterTimesOut(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"fast", "slow"},
		pods: map[string][]models.PodRecord{
			"fast": {failedPod("fast", "ns", "p1")},
			"slow": {failedPod("slow", "ns", "p2")},
		},
		block:   map[string]bool{"slow": true},
		release: make(chan struct{}),
	}
	h := newHarness(t, src, 50*time.Millisecond)

	state, err := h.coord.RunScan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartial, state.LastScanStatus)
	assert.Equal(t, []models.PodIdentity{{Cluster: "fast", Namespace: "ns", Pod: "p1"}}, identities(state.New))
	require.Len(t, state.Clusters, 2)
	assert.Empty(t, state.Clusters[0].Error)
	assert.Contains(t, state.Clusters[1].Error, "slow")

	saved, err := h.store.Read(h.store.Today())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "fast", saved[0].Cluster)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.clusterErrors.WithLabelValues("slow")))
}

func TestAllClustersFailingStoresEmptySnapshot(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"a", "b"},
		pods:     map[string][]models.PodRecord{"a": {failedPod("a", "ns", "p")}},
	}
	h := newHarness(t, src, time.Second)

	first, err := h.coord.RunScan(context.Background())
	require.NoError(t, err)
	require.Len(t, first.New, 1)

	src.setErr("a", errors.New("boom"))
	src.setErr("b", errors.New("boom"))

	state, err := h.coord.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, state.LastScanStatus)
	require.Len(t, state.Clusters, 2)
	for _, cov := range state.Clusters {
		assert.Contains(t, cov.Error, "boom", "cluster %s", cov.Cluster)
	}
	assert.Empty(t, state.New)

	saved, err := h.store.Read(h.store.Today())
	require.NoError(t, err)
	assert.Empty(t, saved)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.scans.WithLabelValues("partial")))
}

func TestRequireCoverageKeepsTodaySnapshot(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"a", "b"},
		pods:     map[string][]models.PodRecord{"a": {failedPod("a", "ns", "p")}},
	}
	h := newHarness(t, src, time.Second, func(o *Options) {
		o.Settings.RequireCoverage = true
	})

	first, err := h.coord.RunScan(context.Background())
	require.NoError(t, err)

	src.setErr("a", errors.New("boom"))
	src.setErr("b", errors.New("boom"))

	_, err = h.coord.RunScan(context.Background())
	require.ErrorIs(t, err, ErrNoCoverage)

	saved, err := h.store.Read(h.store.Today())
	require.NoError(t, err)
	assert.Len(t, saved, 1, "a blind scan must not overwrite today's snapshot")

	latest := h.coord.Latest()
	assert.Equal(t, first.ScanID, latest.ScanID)
	assert.Len(t, latest.New, 1)
	assert.Contains(t, latest.LastScanStatus, "failed: ")
	assert.Equal(t, scanTime, latest.LastSuccessAt)
}

func TestNoClustersStoresEmptySnapshot(t *testing.T) {
	h := newHarness(t, &fakeSource{}, time.Second)
	seedYesterday(t, h.dir, abnormal("a", "ns", "p"))

	state, err := h.coord.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, state.LastScanStatus)
	assert.Empty(t, state.Clusters)
	assert.Len(t, state.Resolved, 1)

	_, statErr := os.Stat(h.store.Path(h.store.Today()))
	assert.NoError(t, statErr)
}

func TestNoClustersWithRequireCoverage(t *testing.T) {
	h := newHarness(t, &fakeSource{}, time.Second, func(o *Options) {
		o.Settings.RequireCoverage = true
	})

	_, err := h.coord.RunScan(context.Background())
	require.ErrorIs(t, err, ErrNoClusters)

	_, statErr := os.Stat(h.store.Path(h.store.Today()))
	assert.True(t, os.IsNotExist(statErr))
}

type failingStore struct {
	*snapshot.Store
	writeErr error
	readErr  error
}

func (s *failingStore) Write(date time.Time, entries []models.AbnormalPodEntry) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	return s.Store.Write(date, entries)
}

func (s *failingStore) Read(date time.Time) ([]models.AbnormalPodEntry, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.Store.Read(date)
}

func TestStoreFailuresRetainPreviousResult(t *testing.T) {
	cases := []struct {
		name     string
		writeErr error
		readErr  error
		wantMsg  string
	}{
		{name: "write", writeErr: errors.New("disk full"), wantMsg: "failed to write today's snapshot"},
		{name: "read", readErr: errors.New("corrupt"), wantMsg: "failed to read yesterday's snapshot"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{
				clusters: []string{"a"},
				pods:     map[string][]models.PodRecord{"a": {failedPod("a", "ns", "p")}},
			}
			store := &failingStore{}
			h := newHarness(t, src, time.Second, func(o *Options) {
				store.Store = o.Store.(*snapshot.Store)
				o.Store = store
			})

			first, err := h.coord.RunScan(context.Background())
			require.NoError(t, err)

			store.writeErr, store.readErr = tc.writeErr, tc.readErr
			_, err = h.coord.RunScan(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)

			latest := h.coord.Latest()
			assert.Equal(t, first.ScanID, latest.ScanID)
			assert.Equal(t, "failed: "+err.Error(), latest.LastScanStatus)
			assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.scans.WithLabelValues("failed")))
		})
	}
}

func TestExclusionsDropPodsBeforeClassification(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"prod", "sandbox-1"},
		pods: map[string][]models.PodRecord{
			"prod": {
				failedPod("prod", "kube-system", "dns"),
				failedPod("prod", "shop", "web"),
			},
			"sandbox-1": {failedPod("sandbox-1", "shop", "web")},
		},
	}
	h := newHarness(t, src, time.Second, func(o *Options) {
		o.Settings = Settings{
			ExcludeNamespaces: []string{" Kube-* "},
			ExcludeClusters:   []string{"sandbox-*"},
		}
	})

	state, err := h.coord.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.PodIdentity{{Cluster: "prod", Namespace: "shop", Pod: "web"}}, identities(state.New))
	require.Len(t, state.Clusters, 1)
	assert.Equal(t, 1, state.Clusters[0].Pods)

	h.coord.UpdateSettings(Settings{})
	state, err = h.coord.RunScan(context.Background())
	require.NoError(t, err)
	assert.Len(t, state.New, 3)
}

func TestUpdateSettingsChangesPendingThreshold(t *testing.T) {
	created := scanTime.Add(-20 * time.Minute)
	src := &fakeSource{
		clusters: []string{"a"},
		pods: map[string][]models.PodRecord{
			"a": {{
				PodIdentity: models.PodIdentity{Cluster: "a", Namespace: "ns", Pod: "pending"},
				Phase:       models.PhasePending,
				CreatedAt:   &created,
			}},
		},
	}
	h := newHarness(t, src, time.Second, func(o *Options) {
		o.Settings = Settings{PendingThreshold: 30 * time.Minute}
	})

	state, err := h.coord.RunScan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.New)

	h.coord.UpdateSettings(Settings{PendingThreshold: 10 * time.Minute})
	assert.Equal(t, 10*time.Minute, h.coord.Settings().PendingThreshold)

	state, err = h.coord.RunScan(context.Background())
	require.NoError(t, err)
	require.Len(t, state.New, 1)
	assert.Equal(t, []string{"Long-term Pending (> 10 min)"}, state.New[0].Reasons)
}

type recordingSink struct {
	mu     sync.Mutex
	states []*models.ScanState
	err    error
}

func (s *recordingSink) Record(_ context.Context, state *models.ScanState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return s.err
}

func TestHistorySink(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"a"},
		pods:     map[string][]models.PodRecord{"a": {failedPod("a", "ns", "p")}},
	}
	sink := &recordingSink{err: errors.New("clickhouse down")}
	h := newHarness(t, src, time.Second, func(o *Options) {
		o.History = sink
	})

	state, err := h.coord.RunScan(context.Background())
	require.NoError(t, err, "history failures must not fail the scan")
	require.Len(t, sink.states, 1)
	assert.Equal(t, state.ScanID, sink.states[0].ScanID)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.historyErrors))
}

func TestFallbackEngineIsReported(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"a"},
		pods:     map[string][]models.PodRecord{"a": {failedPod("a", "ns", "p")}},
	}
	var metrics *Metrics
	h := newHarness(t, src, time.Second, func(o *Options) {
		metrics = o.Metrics
		broken := reconcile.NewAccelerated(reconcile.WithKernel(func(_, _ []byte) ([]byte, error) {
			return nil, errors.New("kernel unavailable")
		}))
		o.Engine = reconcile.WithFallback(broken, reconcile.Reference{}, reconcile.OnFallback(metrics.EngineFallback))
	})

	state, err := h.coord.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reference", state.Engine)
	assert.Len(t, state.New, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.engineFallback))
}

type fakeEvents struct {
	lines []string
	err   error
	asked models.PodIdentity
}

func (f *fakeEvents) Events(_ context.Context, id models.PodIdentity) ([]string, error) {
	f.asked = id
	return f.lines, f.err
}

func TestPodDetail(t *testing.T) {
	events := &fakeEvents{lines: []string{"2026-02-16T09:00:00Z Warning BackOff: restarting"}}
	h := newHarness(t, &fakeSource{}, time.Second, func(o *Options) {
		o.Events = events
	})

	id := models.PodIdentity{Cluster: "a", Namespace: "ns", Pod: "p"}
	lines, err := h.coord.PodDetail(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, events.lines, lines)
	assert.Equal(t, id, events.asked)

	events.err = errors.New("forbidden")
	_, err = h.coord.PodDetail(context.Background(), id)
	assert.Error(t, err)
}

func TestPodDetailWithoutEventSource(t *testing.T) {
	h := newHarness(t, &fakeSource{}, time.Second)
	_, err := h.coord.PodDetail(context.Background(), models.PodIdentity{})
	assert.ErrorIs(t, err, ErrNoEvents)
}

func TestRunScansImmediately(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"a"},
		pods:     map[string][]models.PodRecord{"a": {failedPod("a", "ns", "p")}},
	}
	h := newHarness(t, src, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.coord.Run(ctx, time.Hour)
	}()

	require.Eventually(t, func() bool {
		return h.coord.Latest().LastScanStatus == models.StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after cancellation")
	}
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	h := newHarness(t, &fakeSource{}, time.Second)
	assert.Error(t, h.coord.Run(context.Background(), 0))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestCloseRejectsLaterScans(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"a"},
		block:    map[string]bool{"a": true},
		release:  make(chan struct{}),
	}
	h := newHarness(t, src, time.Second)

	require.NoError(t, h.coord.TriggerScan(context.Background()))
	closed := make(chan struct{})
	go func() {
		h.coord.Close()
		close(closed)
	}()

	require.Eventually(t, func() bool {
		return errors.Is(h.coord.TriggerScan(context.Background()), ErrClosed)
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-closed:
		t.Fatal("expected Close to wait for the running scan")
	case <-time.After(20 * time.Millisecond):
	}

	close(src.release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Close to return once the scan finished")
	}

	_, err := h.coord.RunScan(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, h.coord.Running())
}

func TestScanDurationUsesWallClock(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"a"},
		pods:     map[string][]models.PodRecord{"a": {healthyPod("a", "ns", "p")}},
	}
	h := newHarness(t, src, time.Second)

	_, err := h.coord.RunScan(context.Background())
	require.NoError(t, err)

	families, err := h.reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "podspectre_scan_duration_seconds" {
			continue
		}
		found = true
		hist := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(1), hist.GetSampleCount())
		assert.Less(t, hist.GetSampleSum(), 60.0)
		assert.GreaterOrEqual(t, hist.GetSampleSum(), 0.0)
	}
	assert.True(t, found, "scan duration histogram not gathered")
}

func TestSnapshotDates(t *testing.T) {
	src := &fakeSource{
		clusters: []string{"a"},
		pods:     map[string][]models.PodRecord{"a": {failedPod("a", "ns", "p")}},
	}
	h := newHarness(t, src, time.Second)

	dates, err := h.coord.SnapshotDates()
	require.NoError(t, err)
	assert.Empty(t, dates)

	seedYesterday(t, h.dir, abnormal("a", "ns", "p"))
	_, err = h.coord.RunScan(context.Background())
	require.NoError(t, err)

	dates, err = h.coord.SnapshotDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-02-15", "2026-02-16"}, dates)
}
