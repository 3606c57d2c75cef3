package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"

	"github.com/ppiankov/podspectre/internal/models"
)

// Events returns the pod's recent events, oldest first, formatted one per line.
func (c *Client) Events(ctx context.Context, namespace, pod string) ([]string, error) {
	id := models.PodIdentity{Cluster: c.name, Namespace: namespace, Pod: pod}
	if cached, ok := c.events.Get(id); ok {
		slog.Debug("event cache hit", slog.String("pod", id.String()))
		return cached, nil
	}

	clientset, err := c.kube()
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	selector := fields.Set{
		"involvedObject.kind": "Pod",
		"involvedObject.name": pod,
	}.AsSelector().String()

	list, err := clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{FieldSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list events for %s: %w", id, err)
	}

	items := make([]corev1.Event, 0, len(list.Items))
	for _, ev := range list.Items {
		// field selectors are advisory for some API servers and fakes
		if ev.InvolvedObject.Name != pod || (ev.InvolvedObject.Kind != "" && ev.InvolvedObject.Kind != "Pod") {
			continue
		}
		items = append(items, ev)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return eventTime(items[i]).Before(eventTime(items[j]))
	})

	lines := make([]string, 0, len(items))
	for _, ev := range items {
		lines = append(lines, formatEvent(ev))
	}

	c.events.Set(id, lines)
	return lines, nil
}

func eventTime(ev corev1.Event) time.Time {
	switch {
	case !ev.LastTimestamp.IsZero():
		return ev.LastTimestamp.Time
	case !ev.EventTime.IsZero():
		return ev.EventTime.Time
	default:
		return ev.FirstTimestamp.Time
	}
}

func formatEvent(ev corev1.Event) string {
	line := fmt.Sprintf("%s %s %s: %s", eventTime(ev).UTC().Format(time.RFC3339), ev.Type, ev.Reason, ev.Message)
	if ev.Count > 1 {
		line += fmt.Sprintf(" (x%d)", ev.Count)
	}
	return line
}
