package models

import (
	"fmt"
	"time"
)

// Phase is the Kubernetes pod phase as observed by a collector
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseUnknown   Phase = "Unknown"
)

// ParsePhase maps a raw phase string to a Phase.
// Unrecognized values map to the zero Phase, which classifiers treat as absent.
func ParsePhase(raw string) Phase {
	switch Phase(raw) {
	case PhasePending, PhaseRunning, PhaseSucceeded, PhaseFailed, PhaseUnknown:
		return Phase(raw)
	default:
		return ""
	}
}

// PodIdentity uniquely identifies a pod across snapshots.
// Pods recreated under the same name are the same issue.
type PodIdentity struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
	Pod       string `json:"pod"`
}

// String renders the identity as [cluster] namespace/pod
func (id PodIdentity) String() string {
	return fmt.Sprintf("[%s] %s/%s", id.Cluster, id.Namespace, id.Pod)
}

// ContainerStatus is the per-container part of a pod observation
type ContainerStatus struct {
	Name             string `json:"name"`
	Ready            bool   `json:"ready"`
	RestartCount     int32  `json:"restart_count"`
	WaitingReason    string `json:"waiting_reason,omitempty"`
	TerminatedReason string `json:"terminated_reason,omitempty"`
	ExitCode         *int32 `json:"exit_code,omitempty"`
}

// PodRecord is one observation of a pod, independent of the Kubernetes client types
type PodRecord struct {
	PodIdentity
	ObservedAt time.Time         `json:"observed_at"`
	CreatedAt  *time.Time        `json:"created_at,omitempty"` // pod creation, not observation
	Phase      Phase             `json:"phase"`
	Node       string            `json:"node,omitempty"`
	Containers []ContainerStatus `json:"containers,omitempty"`
}

// AbnormalPodEntry is a PodRecord the classifier flagged, with its reasons
type AbnormalPodEntry struct {
	PodRecord
	Reasons []string `json:"reasons"`
}

// DailySnapshot holds the abnormal pods observed on one calendar date
type DailySnapshot struct {
	Date    time.Time
	Entries []AbnormalPodEntry
}

// NewDailySnapshot builds a snapshot, keeping the first entry for any duplicated identity.
func NewDailySnapshot(date time.Time, entries []AbnormalPodEntry) DailySnapshot {
	seen := make(map[PodIdentity]struct{}, len(entries))
	unique := make([]AbnormalPodEntry, 0, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.PodIdentity]; dup {
			continue
		}
		seen[entry.PodIdentity] = struct{}{}
		unique = append(unique, entry)
	}

	y, m, d := date.Date()
	return DailySnapshot{
		Date:    time.Date(y, m, d, 0, 0, 0, 0, date.Location()),
		Entries: unique,
	}
}

// Index returns the snapshot entries keyed by identity
func (s DailySnapshot) Index() map[PodIdentity]AbnormalPodEntry {
	index := make(map[PodIdentity]AbnormalPodEntry, len(s.Entries))
	for _, entry := range s.Entries {
		index[entry.PodIdentity] = entry
	}
	return index
}

// ReconciliationResult partitions today's and yesterday's abnormal pods.
// New and Ongoing carry today's entries, Resolved carries yesterday's.
type ReconciliationResult struct {
	New      []AbnormalPodEntry `json:"new"`
	Ongoing  []AbnormalPodEntry `json:"ongoing"`
	Resolved []AbnormalPodEntry `json:"resolved"`
}

// Identities returns the identities of an entry list in order
func Identities(entries []AbnormalPodEntry) []PodIdentity {
	ids := make([]PodIdentity, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.PodIdentity)
	}
	return ids
}
