package classifier

import (
	"fmt"
	"time"

	"github.com/ppiankov/podspectre/internal/models"
)

// DefaultPendingThreshold is how long a pod may stay Pending before it is flagged.
const DefaultPendingThreshold = 10 * time.Minute

// Categories reported alongside each reason
const (
	CategoryPhase     = "phase"
	CategoryPending   = "pending"
	CategoryNotReady  = "not_ready"
	CategoryWaiting   = "waiting"
	CategoryOOMKilled = "oom_killed"
	CategoryExitCode  = "exit_code"
	CategoryRestarts  = "restarts"
)

// Finding is one reason a pod was flagged, tagged with the rule that produced it.
type Finding struct {
	Category string
	Reason   string
}

var badWaitingReasons = map[string]bool{
	"CrashLoopBackOff": true,
	"ImagePullBackOff": true,
	"ErrImagePull":     true,
}

// Classifier decides whether a pod observation is abnormal.
// The zero value is not usable; build one with New. A Classifier is immutable.
type Classifier struct {
	pendingThreshold time.Duration
	now              func() time.Time
}

// Option configures a Classifier
type Option func(*Classifier)

// WithPendingThreshold overrides the long-term Pending threshold.
// Non-positive values are ignored.
func WithPendingThreshold(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.pendingThreshold = d
		}
	}
}

// WithClock injects the time source used by the Pending rule.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a classifier with the default threshold and wall clock.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		pendingThreshold: DefaultPendingThreshold,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PendingThreshold returns the configured threshold
func (c *Classifier) PendingThreshold() time.Duration {
	return c.pendingThreshold
}

// Classify reports whether rec is abnormal and why.
// Reasons are ordered by rule, then by container, with duplicates removed.
func (c *Classifier) Classify(rec models.PodRecord) (bool, []string) {
	findings := c.Findings(rec)
	if len(findings) == 0 {
		return false, nil
	}
	reasons := make([]string, 0, len(findings))
	for _, f := range findings {
		reasons = append(reasons, f.Reason)
	}
	return true, reasons
}

// Findings is Classify with the rule category kept for each reason.
func (c *Classifier) Findings(rec models.PodRecord) []Finding {
	var findings []Finding
	seen := make(map[string]bool)
	add := func(category, reason string) {
		if seen[reason] {
			return
		}
		seen[reason] = true
		findings = append(findings, Finding{Category: category, Reason: reason})
	}

	if rec.Phase == models.PhaseFailed || rec.Phase == models.PhaseUnknown {
		add(CategoryPhase, fmt.Sprintf("Phase: %s", rec.Phase))
	}

	if rec.Phase == models.PhasePending && rec.CreatedAt != nil {
		if c.now().Sub(*rec.CreatedAt) > c.pendingThreshold {
			add(CategoryPending, fmt.Sprintf("Long-term Pending (> %s)", formatThreshold(c.pendingThreshold)))
		}
	}

	for _, cs := range rec.Containers {
		if !cs.Ready {
			add(CategoryNotReady, fmt.Sprintf("Container '%s' not ready", cs.Name))
		}
	}
	for _, cs := range rec.Containers {
		if badWaitingReasons[cs.WaitingReason] {
			add(CategoryWaiting, fmt.Sprintf("Container '%s': %s", cs.Name, cs.WaitingReason))
		}
	}
	for _, cs := range rec.Containers {
		if cs.TerminatedReason == "OOMKilled" {
			add(CategoryOOMKilled, fmt.Sprintf("Container '%s': OOMKilled", cs.Name))
		}
	}
	for _, cs := range rec.Containers {
		if cs.TerminatedReason != "" && cs.TerminatedReason != "Completed" && cs.ExitCode != nil && *cs.ExitCode != 0 {
			add(CategoryExitCode, fmt.Sprintf("Container '%s': Non-zero exit code (%d)", cs.Name, *cs.ExitCode))
		}
	}
	for _, cs := range rec.Containers {
		if cs.RestartCount > 0 {
			add(CategoryRestarts, fmt.Sprintf("Container '%s': Restarts(%d)", cs.Name, cs.RestartCount))
		}
	}

	return findings
}

// Entry classifies rec and returns the abnormal entry, or false for a healthy pod.
func (c *Classifier) Entry(rec models.PodRecord) (models.AbnormalPodEntry, bool) {
	abnormal, reasons := c.Classify(rec)
	if !abnormal {
		return models.AbnormalPodEntry{}, false
	}
	return models.AbnormalPodEntry{PodRecord: rec, Reasons: reasons}, true
}

// formatThreshold renders whole minutes as "10 min" and anything else as a Go duration.
func formatThreshold(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d min", int64(d/time.Minute))
	}
	return d.String()
}
