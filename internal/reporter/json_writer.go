package reporter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/podspectre/internal/models"
)

type jsonReport struct {
	Tool        string    `json:"tool"`
	Version     string    `json:"version,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	*models.ScanState
}

func (r *Reporter) writeJSON(state *models.ScanState) error {
	report := jsonReport{
		Tool:        toolName,
		Version:     r.version,
		GeneratedAt: time.Now().UTC(),
		ScanState:   state,
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	return r.emit("report.json", append(data, '\n'))
}
