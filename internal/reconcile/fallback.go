package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ppiankov/podspectre/internal/models"
)

// Engine selection modes
const (
	ModeAuto        = "auto"
	ModeReference   = "reference"
	ModeAccelerated = "accelerated"
)

// Fallback runs a primary engine and answers from a fallback engine when it fails.
type Fallback struct {
	primary    Engine
	fallback   Engine
	onFallback func(err error)
}

// FallbackOption configures a Fallback
type FallbackOption func(*Fallback)

// OnFallback registers a hook called each time the fallback engine answers.
func OnFallback(fn func(err error)) FallbackOption {
	return func(f *Fallback) {
		f.onFallback = fn
	}
}

// WithFallback wraps primary so that any error is answered by fallback.
func WithFallback(primary, fallback Engine, opts ...FallbackOption) *Fallback {
	f := &Fallback{primary: primary, fallback: fallback}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements Engine
func (f *Fallback) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

// Reconcile implements Engine
func (f *Fallback) Reconcile(ctx context.Context, today, yesterday []models.AbnormalPodEntry) (models.ReconciliationResult, error) {
	result, _, err := f.reconcile(ctx, today, yesterday)
	return result, err
}

func (f *Fallback) reconcile(ctx context.Context, today, yesterday []models.AbnormalPodEntry) (models.ReconciliationResult, string, error) {
	result, err := f.primary.Reconcile(ctx, today, yesterday)
	if err == nil {
		return result, f.primary.Name(), nil
	}

	slog.Warn("reconciliation engine failed, falling back",
		slog.String("engine", f.primary.Name()),
		slog.String("fallback", f.fallback.Name()),
		slog.String("error", err.Error()),
	)
	if f.onFallback != nil {
		f.onFallback(err)
	}

	result, ferr := f.fallback.Reconcile(ctx, today, yesterday)
	if ferr != nil {
		return models.ReconciliationResult{}, f.fallback.Name(), errors.Join(err, ferr)
	}
	return result, f.fallback.Name(), nil
}

// Select builds the engine for mode. The accelerated engine is probed once
// against a fixed fixture; if it disagrees with the reference engine or fails,
// only the reference engine is used.
func Select(ctx context.Context, mode string, opts ...FallbackOption) (Engine, error) {
	switch mode {
	case ModeReference:
		return Reference{}, nil
	case ModeAuto, ModeAccelerated, "":
	default:
		return nil, fmt.Errorf("unknown engine mode %q", mode)
	}

	accelerated := NewAccelerated()
	if err := Probe(ctx, accelerated); err != nil {
		level := slog.LevelInfo
		if mode == ModeAccelerated {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "accelerated engine unavailable, using reference engine", slog.String("error", err.Error()))
		return Reference{}, nil
	}

	slog.Debug("accelerated engine probe passed")
	return WithFallback(accelerated, Reference{}, opts...), nil
}

// Probe checks that e agrees with the reference engine on a fixed fixture.
func Probe(ctx context.Context, e Engine) error {
	today, yesterday := probeFixture()

	want, _ := Reference{}.Reconcile(ctx, today, yesterday)
	got, err := e.Reconcile(ctx, today, yesterday)
	if err != nil {
		return fmt.Errorf("probe %s: %w", e.Name(), err)
	}

	for _, pair := range []struct {
		list      string
		got, want []models.AbnormalPodEntry
	}{
		{list: "new", got: got.New, want: want.New},
		{list: "ongoing", got: got.Ongoing, want: want.Ongoing},
		{list: "resolved", got: got.Resolved, want: want.Resolved},
	} {
		if !slices.Equal(models.Identities(pair.got), models.Identities(pair.want)) {
			return fmt.Errorf("probe %s: %w: %s list differs", e.Name(), ErrOutOfSync, pair.list)
		}
	}
	return nil
}

func probeFixture() (today, yesterday []models.AbnormalPodEntry) {
	mk := func(cluster, namespace, pod string) models.AbnormalPodEntry {
		return models.AbnormalPodEntry{
			PodRecord: models.PodRecord{PodIdentity: models.PodIdentity{Cluster: cluster, Namespace: namespace, Pod: pod}},
			Reasons:   []string{"probe"},
		}
	}
	today = []models.AbnormalPodEntry{
		mk("b", "default", "web-1"),
		mk("a", "kube-system", "dns"),
		mk("a", "default", "web-1"),
		mk("a", "default", "web-1"),
		mk("c", "jobs", "batch"),
	}
	yesterday = []models.AbnormalPodEntry{
		mk("a", "default", "web-1"),
		mk("z", "default", "gone"),
		mk("c", "jobs", "batch"),
		mk("a", "default", "web-2"),
	}
	return today, yesterday
}
