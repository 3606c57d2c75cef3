package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/podspectre/internal/analyzer"
	"github.com/ppiankov/podspectre/internal/models"
)

const (
	textANSIReset = "\x1b[0m"
	textANSIBold  = "\x1b[1m"

	textRuleWidth = 50
)

func (r *Reporter) writeText(state *models.ScanState) error {
	rendered := renderTextReport(state, r.toStdout() && supportsANSI(r.out))
	if err := r.emit("report.txt", []byte(rendered)); err != nil {
		return err
	}
	if r.toStdout() {
		return nil
	}

	// the summary is always shown on the terminal as well
	if _, err := io.WriteString(r.out, rendered); err != nil {
		return fmt.Errorf("failed to write text report to output: %w", err)
	}
	return nil
}

func renderTextReport(state *models.ScanState, useANSI bool) string {
	var b strings.Builder
	rule := strings.Repeat("=", textRuleWidth)

	date := state.Date
	if date == "" {
		date = "unknown"
	}

	b.WriteString(rule + "\n")
	title := "Multi-Cluster Daily Pod Status Summary"
	if useANSI {
		title = textANSIBold + title + textANSIReset
	}
	fmt.Fprintf(&b, "      %s\n", title)
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Date: %s\n", date)
	fmt.Fprintf(&b, "Scan: %s", state.LastScanStatus)
	if state.Engine != "" {
		fmt.Fprintf(&b, " (engine: %s)", state.Engine)
	}
	b.WriteString("\n")
	if !state.LastScanAt.IsZero() {
		fmt.Fprintf(&b, "Scanned at: %s\n", state.LastScanAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Total Abnormal Pods (all clusters): %d\n", state.Stats.Total)
	fmt.Fprintf(&b, "  - New Issues: %d\n", state.Stats.New)
	fmt.Fprintf(&b, "  - Ongoing Issues: %d\n", state.Stats.Ongoing)
	fmt.Fprintf(&b, "  - Resolved Issues: %d\n", state.Stats.Resolved)

	severities := analyzer.SeverityCounts(analyzer.Today(state.Result()))
	fmt.Fprintf(&b, "Severity: high=%d medium=%d low=%d\n",
		severities[analyzer.SeverityHigh],
		severities[analyzer.SeverityMedium],
		severities[analyzer.SeverityLow],
	)
	b.WriteString(rule + "\n\n")

	if len(state.Clusters) > 0 {
		writeTextSectionHeader(&b, "Clusters", useANSI)
		b.WriteString("CLUSTER                        PODS     ABNORMAL DURATION   ERROR\n")
		for _, c := range state.Clusters {
			errText := "-"
			if c.Error != "" {
				errText = truncateTextValue(c.Error, 60)
			}
			fmt.Fprintf(&b, "%-30s %-8d %-8d %-10s %s\n",
				truncateTextValue(c.Cluster, 30),
				c.Pods,
				c.Abnormal,
				(time.Duration(c.DurationMilli) * time.Millisecond).String(),
				errText,
			)
		}
		b.WriteString("\n")
	}

	writePodList(&b, "new", state.New)
	writePodList(&b, "ongoing", state.Ongoing)
	writePodList(&b, "resolved", state.Resolved)

	return b.String()
}

func writePodList(b *strings.Builder, kind string, entries []models.AbnormalPodEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(b, "--- [%s] Pods ---\n", strings.ToUpper(kind))
	for _, e := range entries {
		fmt.Fprintf(b, "  - %s\n", formatEntry(e))
	}
	b.WriteString("\n")
}

// formatEntry renders "[cluster] ns/pod (Status: phase) | Reasons: a, b".
func formatEntry(e models.AbnormalPodEntry) string {
	phase := string(e.Phase)
	if phase == "" {
		phase = analyzer.UnknownPhase
	}
	return fmt.Sprintf("%s (Status: %s) | Reasons: %s", e.PodIdentity, phase, strings.Join(e.Reasons, ", "))
}

func writeTextSectionHeader(b *strings.Builder, title string, useANSI bool) {
	header := title
	if useANSI {
		header = textANSIBold + title + textANSIReset
	}
	fmt.Fprintf(b, "%s\n", header)
	fmt.Fprintf(b, "%s\n", strings.Repeat("-", len(title)))
}

func supportsANSI(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}

	info, err := file.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}

func truncateTextValue(value string, width int) string {
	if width <= 0 || len(value) <= width {
		return value
	}
	if width <= 3 {
		return value[:width]
	}
	return value[:width-3] + "..."
}
