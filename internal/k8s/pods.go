package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/ppiankov/podspectre/internal/models"
)

// ListPods lists every pod in the cluster, page by page.
func (c *Client) ListPods(ctx context.Context) ([]models.PodRecord, error) {
	clientset, err := c.kube()
	if err != nil {
		return nil, err
	}

	observedAt := time.Now()
	var records []models.PodRecord

	opts := metav1.ListOptions{Limit: c.pageSize}
	for page := 1; ; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		list, err := clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list pods in %s: %w", c.name, err)
		}
		for i := range list.Items {
			records = append(records, PodRecordFromPod(c.name, &list.Items[i], observedAt))
		}

		slog.Debug("listed pod page",
			slog.String("cluster", c.name),
			slog.Int("page", page),
			slog.Int("items", len(list.Items)),
		)

		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
	}

	return records, nil
}

// PodRecordFromPod converts a Kubernetes pod into a PodRecord.
// A container that is running again after a crash reports its last termination.
func PodRecordFromPod(cluster string, pod *corev1.Pod, observedAt time.Time) models.PodRecord {
	rec := models.PodRecord{
		PodIdentity: models.PodIdentity{
			Cluster:   cluster,
			Namespace: pod.Namespace,
			Pod:       pod.Name,
		},
		ObservedAt: observedAt,
		Phase:      models.ParsePhase(string(pod.Status.Phase)),
		Node:       pod.Spec.NodeName,
	}
	if !pod.CreationTimestamp.IsZero() {
		created := pod.CreationTimestamp.Time
		rec.CreatedAt = &created
	}

	for _, cs := range pod.Status.ContainerStatuses {
		status := models.ContainerStatus{
			Name:         cs.Name,
			Ready:        cs.Ready,
			RestartCount: cs.RestartCount,
		}
		if cs.State.Waiting != nil {
			status.WaitingReason = cs.State.Waiting.Reason
		}

		terminated := cs.State.Terminated
		if terminated == nil {
			terminated = cs.LastTerminationState.Terminated
		}
		if terminated != nil {
			status.TerminatedReason = terminated.Reason
			exitCode := terminated.ExitCode
			status.ExitCode = &exitCode
		}

		rec.Containers = append(rec.Containers, status)
	}

	return rec
}
