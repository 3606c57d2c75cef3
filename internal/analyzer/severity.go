package analyzer

import (
	"strings"

	"github.com/ppiankov/podspectre/internal/models"
)

// Severity ranks how urgently an abnormal pod needs attention
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var (
	highMarkers = []string{
		"Phase: Failed",
		": OOMKilled",
		": CrashLoopBackOff",
	}
	mediumMarkers = []string{
		"Phase: Unknown",
		"Long-term Pending",
		": ImagePullBackOff",
		": ErrImagePull",
		"Non-zero exit code",
	}
)

// Rank returns the position of s from low (0) to high (2).
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// ReasonSeverity classifies one reason string.
// Readiness and restart reasons are low on their own.
func ReasonSeverity(reason string) Severity {
	for _, marker := range highMarkers {
		if strings.Contains(reason, marker) {
			return SeverityHigh
		}
	}
	for _, marker := range mediumMarkers {
		if strings.Contains(reason, marker) {
			return SeverityMedium
		}
	}
	return SeverityLow
}

// EntrySeverity is the highest severity among the entry's reasons.
func EntrySeverity(e models.AbnormalPodEntry) Severity {
	worst := SeverityLow
	for _, reason := range e.Reasons {
		if s := ReasonSeverity(reason); s.Rank() > worst.Rank() {
			worst = s
		}
	}
	return worst
}

// SeverityCounts counts entries per severity
func SeverityCounts(entries []models.AbnormalPodEntry) map[Severity]int {
	counts := make(map[Severity]int, 3)
	for _, e := range entries {
		counts[EntrySeverity(e)]++
	}
	return counts
}
