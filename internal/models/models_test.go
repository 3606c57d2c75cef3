package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAbnormalPodEntryJSONTags(t *testing.T) {
	exitCode := int32(137)
	created := time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name        string
		entry       AbnormalPodEntry
		mustContain []string
		mustAbsent  []string
	}{
		{
			name: "flattens_identity_and_record",
			entry: AbnormalPodEntry{
				PodRecord: PodRecord{
					PodIdentity: PodIdentity{Cluster: "c1", Namespace: "ns", Pod: "p"},
					ObservedAt:  time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC),
					CreatedAt:   &created,
					Phase:       PhaseRunning,
					Containers: []ContainerStatus{
						{Name: "app", TerminatedReason: "OOMKilled", ExitCode: &exitCode},
					},
				},
				Reasons: []string{"Container 'app': OOMKilled"},
			},
			mustContain: []string{"\"cluster\"", "\"namespace\"", "\"pod\"", "\"created_at\"", "\"exit_code\":137", "\"reasons\""},
			mustAbsent:  []string{"\"PodIdentity\"", "\"PodRecord\"", "\"waiting_reason\""},
		},
		{
			name: "omits_optional_fields",
			entry: AbnormalPodEntry{
				PodRecord: PodRecord{
					PodIdentity: PodIdentity{Cluster: "c1", Namespace: "ns", Pod: "p"},
					Phase:       PhaseFailed,
				},
				Reasons: []string{"Phase: Failed"},
			},
			mustContain: []string{"\"phase\":\"Failed\""},
			mustAbsent:  []string{"\"created_at\"", "\"node\"", "\"containers\""},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := json.Marshal(tc.entry)
			if err != nil {
				t.Fatalf("failed to marshal entry: %v", err)
			}
			encoded := string(payload)
			for _, key := range tc.mustContain {
				if !strings.Contains(encoded, key) {
					t.Fatalf("expected JSON to contain %s, got %s", key, encoded)
				}
			}
			for _, key := range tc.mustAbsent {
				if strings.Contains(encoded, key) {
					t.Fatalf("expected JSON to not contain %s, got %s", key, encoded)
				}
			}
		})
	}
}

func TestParsePhase(t *testing.T) {
	cases := []struct {
		raw  string
		want Phase
	}{
		{raw: "Pending", want: PhasePending},
		{raw: "Unknown", want: PhaseUnknown},
		{raw: "running", want: ""},
		{raw: "", want: ""},
		{raw: "Evicted", want: ""},
	}

	for _, tc := range cases {
		if got := ParsePhase(tc.raw); got != tc.want {
			t.Fatalf("expected ParsePhase(%q)=%q, got %q", tc.raw, tc.want, got)
		}
	}
}

func TestNewDailySnapshotKeepsFirstDuplicate(t *testing.T) {
	id := PodIdentity{Cluster: "c1", Namespace: "ns", Pod: "p"}
	entries := []AbnormalPodEntry{
		{PodRecord: PodRecord{PodIdentity: id}, Reasons: []string{"first"}},
		{PodRecord: PodRecord{PodIdentity: PodIdentity{Cluster: "c1", Namespace: "ns", Pod: "q"}}, Reasons: []string{"other"}},
		{PodRecord: PodRecord{PodIdentity: id}, Reasons: []string{"second"}},
	}

	snap := NewDailySnapshot(time.Date(2026, 2, 15, 17, 30, 0, 0, time.UTC), entries)
	if len(snap.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap.Entries))
	}
	if snap.Entries[0].Reasons[0] != "first" {
		t.Fatalf("expected first duplicate to win, got %v", snap.Entries[0].Reasons)
	}
	if snap.Date.Hour() != 0 || snap.Date.Day() != 15 {
		t.Fatalf("expected date truncated to midnight, got %s", snap.Date)
	}
	if _, ok := snap.Index()[id]; !ok {
		t.Fatalf("expected index to contain %s", id)
	}
}

func TestScanStateJSONTags(t *testing.T) {
	state := ScanState{LastScanStatus: StatusNever}
	payload, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("failed to marshal state: %v", err)
	}
	encoded := string(payload)
	for _, key := range []string{"\"stats\"", "\"charts\"", "\"status_distribution\"", "\"last_scan_status\":\"never\"", "\"running\""} {
		if !strings.Contains(encoded, key) {
			t.Fatalf("expected JSON to contain %s, got %s", key, encoded)
		}
	}
}
