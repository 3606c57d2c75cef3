package models

import "time"

// Scan status values reported to the presentation layer
const (
	StatusNever     = "never"
	StatusSucceeded = "succeeded"
	StatusPartial   = "succeeded with partial coverage"
	StatusFailedFmt = "failed: %s"
)

// ScanState is the latest reconciliation result plus scan bookkeeping.
// A published ScanState is never modified.
type ScanState struct {
	Stats          Stats              `json:"stats"`
	New            []AbnormalPodEntry `json:"new"`
	Ongoing        []AbnormalPodEntry `json:"ongoing"`
	Resolved       []AbnormalPodEntry `json:"resolved"`
	Charts         Charts             `json:"charts"`
	Clusters       []ClusterCoverage  `json:"clusters"`
	ScanID         string             `json:"scan_id,omitempty"`
	Engine         string             `json:"engine,omitempty"`
	Date           string             `json:"date,omitempty"` // YYYY-MM-DD of today's snapshot
	LastScanAt     time.Time          `json:"last_scan_at"`
	LastScanStatus string             `json:"last_scan_status"`
	LastSuccessAt  time.Time          `json:"last_success_at"`
	Running        bool               `json:"running"`
}

// Stats holds the headline counts
type Stats struct {
	Total    int `json:"total"`
	New      int `json:"new"`
	Ongoing  int `json:"ongoing"`
	Resolved int `json:"resolved"`
}

// Charts holds the dashboard distributions
type Charts struct {
	StatusDistribution  Distribution `json:"status_distribution"`
	ClusterDistribution Distribution `json:"cluster_distribution"`
}

// Distribution is a label/value series, ordered by label
type Distribution struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

// ClusterCoverage reports how one cluster fared during a scan
type ClusterCoverage struct {
	Cluster       string `json:"cluster"`
	Pods          int    `json:"pods"`
	Abnormal      int    `json:"abnormal"`
	Error         string `json:"error,omitempty"`
	DurationMilli int64  `json:"duration_ms"`
}

// Result returns the reconciliation lists held by the state
func (s *ScanState) Result() ReconciliationResult {
	return ReconciliationResult{
		New:      s.New,
		Ongoing:  s.Ongoing,
		Resolved: s.Resolved,
	}
}
