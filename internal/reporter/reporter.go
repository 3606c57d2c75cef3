package reporter

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/podspectre/internal/models"
	"github.com/ppiankov/podspectre/pkg/config"
)

const toolName = "podspectre"

// Reporter renders scan results in the configured format.
type Reporter struct {
	config  *config.Config
	version string
	out     io.Writer
}

// New creates a reporter. Reports go to out when cfg.OutputDir is "-",
// otherwise to report.<format> inside cfg.OutputDir.
func New(cfg *config.Config, version string, out io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &Reporter{
		config:  cfg,
		version: version,
		out:     out,
	}
}

// Generate writes the report for state
func (r *Reporter) Generate(state *models.ScanState) error {
	if state == nil {
		return fmt.Errorf("scan state is nil")
	}
	if r.config == nil {
		return fmt.Errorf("config is nil")
	}

	switch r.config.Format {
	case "json":
		return r.writeJSON(state)
	case "sarif":
		return r.writeSARIF(state)
	case "text", "":
		return r.writeText(state)
	default:
		return fmt.Errorf("unsupported format %q", r.config.Format)
	}
}

func (r *Reporter) toStdout() bool {
	dir := strings.TrimSpace(r.config.OutputDir)
	return dir == "" || dir == "-"
}

// emit sends data to the writer or to filename in the output directory.
func (r *Reporter) emit(filename string, data []byte) error {
	if r.toStdout() {
		if _, err := r.out.Write(data); err != nil {
			return fmt.Errorf("failed to write report to output: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(r.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(r.config.OutputDir, filename)
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}

	slog.Info("report written", slog.String("path", outputPath))
	return nil
}
