package reporter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/podspectre/internal/analyzer"
	"github.com/ppiankov/podspectre/internal/models"
)

const (
	ruleNewPod     = "podspectre/NEW_ABNORMAL_POD"
	ruleOngoingPod = "podspectre/ONGOING_ABNORMAL_POD"

	ruleIndexNewPod     = 0
	ruleIndexOngoingPod = 1

	sarifFallbackLocationURI = "README.md"
	sarifSchemaURI           = "https://docs.oasis-open.org/sarif/sarif/v2.1.0/cs01/schemas/sarif-schema-2.1.0.json"
)

var semanticVersionPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?$`)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool              sarifTool               `json:"tool"`
	Results           []sarifResult           `json:"results"`
	AutomationDetails *sarifAutomationDetails `json:"automationDetails,omitempty"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifAutomationDetails struct {
	ID string `json:"id"`
}

type sarifDriver struct {
	Name            string       `json:"name"`
	Version         string       `json:"version,omitempty"`
	InformationURI  string       `json:"informationUri,omitempty"`
	ShortDesc       sarifMessage `json:"shortDescription"`
	FullDesc        sarifMessage `json:"fullDescription"`
	Rules           []sarifRule  `json:"rules"`
	DownloadURI     string       `json:"downloadUri,omitempty"`
	SemanticVersion string       `json:"semanticVersion,omitempty"`
}

type sarifRule struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ShortDesc     sarifMessage `json:"shortDescription"`
	FullDesc      sarifMessage `json:"fullDescription"`
	DefaultConfig sarifConfig  `json:"defaultConfiguration"`
	HelpURI       string       `json:"helpUri,omitempty"`
	Help          sarifMessage `json:"help,omitempty"`
	Properties    any          `json:"properties,omitempty"`
}

type sarifConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	RuleIndex           *int              `json:"ruleIndex,omitempty"`
	Level               string            `json:"level,omitempty"`
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLocation   `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Properties          map[string]any    `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation  `json:"physicalLocation,omitempty"`
	LogicalLocations []sarifLogicalLocation `json:"logicalLocations,omitempty"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine,omitempty"`
}

type sarifLogicalLocation struct {
	Name               string `json:"name,omitempty"`
	FullyQualifiedName string `json:"fullyQualifiedName,omitempty"`
	Kind               string `json:"kind,omitempty"`
}

func (r *Reporter) writeSARIF(state *models.ScanState) error {
	output := sarifLog{
		Version: "2.1.0",
		Schema:  sarifSchemaURI,
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:            toolName,
						Version:         r.version,
						SemanticVersion: normalizeSemanticVersion(r.version),
						InformationURI:  "https://github.com/ppiankov/podspectre",
						DownloadURI:     "https://github.com/ppiankov/podspectre/releases/latest",
						ShortDesc: sarifMessage{
							Text: "Multi-cluster abnormal pod monitor",
						},
						FullDesc: sarifMessage{
							Text: "Reports pods that are failing, stuck, crash looping or restarting, compared with the previous day.",
						},
						Rules: []sarifRule{
							{
								ID:        ruleNewPod,
								Name:      "NEW_ABNORMAL_POD",
								ShortDesc: sarifMessage{Text: "Pod became abnormal today"},
								FullDesc:  sarifMessage{Text: "The pod is abnormal today and was not abnormal in yesterday's snapshot."},
								DefaultConfig: sarifConfig{
									Level: "warning",
								},
							},
							{
								ID:        ruleOngoingPod,
								Name:      "ONGOING_ABNORMAL_POD",
								ShortDesc: sarifMessage{Text: "Pod is still abnormal"},
								FullDesc:  sarifMessage{Text: "The pod was already abnormal in yesterday's snapshot and still is."},
								DefaultConfig: sarifConfig{
									Level: "note",
								},
							},
						},
					},
				},
				Results: buildSARIFResults(state),
				AutomationDetails: &sarifAutomationDetails{
					ID: "podspectre/scan/" + state.Date,
				},
			},
		},
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal SARIF: %w", err)
	}
	return r.emit("report.sarif", append(data, '\n'))
}

// buildSARIFResults emits one result per pod abnormal today. Resolved pods are not findings.
func buildSARIFResults(state *models.ScanState) []sarifResult {
	results := make([]sarifResult, 0, len(state.New)+len(state.Ongoing))
	for _, e := range state.New {
		results = append(results, podResult(e, "new", ruleNewPod, ruleIndexNewPod))
	}
	for _, e := range state.Ongoing {
		results = append(results, podResult(e, "ongoing", ruleOngoingPod, ruleIndexOngoingPod))
	}
	return results
}

func podResult(e models.AbnormalPodEntry, category, ruleID string, ruleIndex int) sarifResult {
	severity := string(analyzer.EntrySeverity(e))
	message := fmt.Sprintf("Pod %s is abnormal: %s.", e.PodIdentity, strings.Join(e.Reasons, "; "))

	return sarifResult{
		RuleID:    ruleID,
		RuleIndex: ruleIndexPtr(ruleIndex),
		Level:     mapSeverityToSARIFLevel(severity),
		Message:   sarifMessage{Text: message},
		Locations: podLocation(e.PodIdentity),
		PartialFingerprints: map[string]string{
			// stable across days so code scanning tracks one alert per pod
			"podspectre/findingHash": hashFinding("pod", e.Cluster, e.Namespace, e.Pod),
		},
		Properties: map[string]any{
			"category":  category,
			"cluster":   e.Cluster,
			"namespace": e.Namespace,
			"pod":       e.Pod,
			"phase":     string(e.Phase),
			"node":      e.Node,
			"severity":  severity,
			"reasons":   e.Reasons,
		},
	}
}

func podLocation(id models.PodIdentity) []sarifLocation {
	return []sarifLocation{
		{
			PhysicalLocation: sarifPhysicalLocation{
				ArtifactLocation: sarifArtifactLocation{URI: sarifFallbackLocationURI},
				Region: &sarifRegion{
					StartLine: 1,
				},
			},
			LogicalLocations: []sarifLogicalLocation{
				{
					Name:               id.Pod,
					FullyQualifiedName: id.Cluster + "/" + id.Namespace + "/" + id.Pod,
					Kind:               "pod",
				},
			},
		},
	}
}

func mapSeverityToSARIFLevel(severity string) string {
	switch severity {
	case "high":
		return "error"
	case "low":
		return "note"
	default:
		return "warning"
	}
}

func normalizeSemanticVersion(version string) string {
	normalized := strings.TrimSpace(strings.TrimPrefix(version, "v"))
	if semanticVersionPattern.MatchString(normalized) {
		return normalized
	}
	return ""
}

func hashFinding(parts ...string) string {
	canonical := strings.Join(parts, "\x1f")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func ruleIndexPtr(index int) *int {
	value := index
	return &value
}
