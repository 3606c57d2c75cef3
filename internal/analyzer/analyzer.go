package analyzer

import (
	"sort"

	"github.com/ppiankov/podspectre/internal/models"
)

// UnknownPhase labels entries without a recorded phase in the status chart.
const UnknownPhase = "Unknown"

// Summarize builds the headline counts and dashboard charts for a result.
// Total and both charts cover today's abnormal pods, new and ongoing.
func Summarize(res models.ReconciliationResult) (models.Stats, models.Charts) {
	today := Today(res)

	stats := models.Stats{
		Total:    len(today),
		New:      len(res.New),
		Ongoing:  len(res.Ongoing),
		Resolved: len(res.Resolved),
	}
	charts := models.Charts{
		StatusDistribution:  distribution(today, phaseLabel),
		ClusterDistribution: distribution(today, func(e models.AbnormalPodEntry) string { return e.Cluster }),
	}
	return stats, charts
}

// Today returns the abnormal pods seen in today's snapshot, new first.
func Today(res models.ReconciliationResult) []models.AbnormalPodEntry {
	today := make([]models.AbnormalPodEntry, 0, len(res.New)+len(res.Ongoing))
	today = append(today, res.New...)
	return append(today, res.Ongoing...)
}

func phaseLabel(e models.AbnormalPodEntry) string {
	if e.Phase == "" {
		return UnknownPhase
	}
	return string(e.Phase)
}

func distribution(entries []models.AbnormalPodEntry, key func(models.AbnormalPodEntry) string) models.Distribution {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[key(e)]++
	}

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	values := make([]int, len(labels))
	for i, label := range labels {
		values[i] = counts[label]
	}
	return models.Distribution{Labels: labels, Values: values}
}
