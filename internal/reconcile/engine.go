package reconcile

import (
	"context"
	"errors"

	"github.com/ppiankov/podspectre/internal/models"
)

// ErrOutOfSync means an engine's identity sets do not partition its inputs.
var ErrOutOfSync = errors.New("reconciliation result out of sync with inputs")

// Engine partitions today's and yesterday's abnormal pods into new, ongoing and resolved.
// Implementations must return identical results for identical inputs.
type Engine interface {
	Name() string
	Reconcile(ctx context.Context, today, yesterday []models.AbnormalPodEntry) (models.ReconciliationResult, error)
}

// Reference is the set-algebra engine. It never fails.
type Reference struct{}

// Name implements Engine
func (Reference) Name() string { return "reference" }

// Reconcile implements Engine
func (Reference) Reconcile(_ context.Context, today, yesterday []models.AbnormalPodEntry) (models.ReconciliationResult, error) {
	today = dedupe(today)
	yesterday = dedupe(yesterday)

	todaySet := identitySet(today)
	yesterdaySet := identitySet(yesterday)

	result := emptyResult()
	for _, entry := range today {
		if _, seen := yesterdaySet[entry.PodIdentity]; seen {
			result.Ongoing = append(result.Ongoing, entry)
		} else {
			result.New = append(result.New, entry)
		}
	}
	for _, entry := range yesterday {
		if _, still := todaySet[entry.PodIdentity]; !still {
			result.Resolved = append(result.Resolved, entry)
		}
	}
	return result, nil
}

// Run reconciles with e and reports which engine produced the result.
// For a fallback pair that is the engine that actually answered.
func Run(ctx context.Context, e Engine, today, yesterday []models.AbnormalPodEntry) (models.ReconciliationResult, string, error) {
	if f, ok := e.(*Fallback); ok {
		return f.reconcile(ctx, today, yesterday)
	}
	result, err := e.Reconcile(ctx, today, yesterday)
	return result, e.Name(), err
}

func emptyResult() models.ReconciliationResult {
	return models.ReconciliationResult{
		New:      []models.AbnormalPodEntry{},
		Ongoing:  []models.AbnormalPodEntry{},
		Resolved: []models.AbnormalPodEntry{},
	}
}

// dedupe keeps the first entry for each identity, preserving order.
func dedupe(entries []models.AbnormalPodEntry) []models.AbnormalPodEntry {
	seen := make(map[models.PodIdentity]struct{}, len(entries))
	out := make([]models.AbnormalPodEntry, 0, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.PodIdentity]; dup {
			continue
		}
		seen[entry.PodIdentity] = struct{}{}
		out = append(out, entry)
	}
	return out
}

func identitySet(entries []models.AbnormalPodEntry) map[models.PodIdentity]struct{} {
	set := make(map[models.PodIdentity]struct{}, len(entries))
	for _, entry := range entries {
		set[entry.PodIdentity] = struct{}{}
	}
	return set
}
