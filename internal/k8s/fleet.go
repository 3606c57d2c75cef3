package k8s

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ppiankov/podspectre/internal/models"
	"github.com/ppiankov/podspectre/pkg/config"
)

// ErrUnknownCluster is returned for a cluster name the fleet does not know.
var ErrUnknownCluster = errors.New("unknown cluster")

// Fleet is the set of clusters a scan covers.
type Fleet struct {
	order   []string
	clients map[string]*Client
}

// NewFleet discovers targets from cfg and connects to each of them.
// Clusters matching cfg.ExcludeClusters are skipped. A target that cannot be
// configured stays in the fleet as a deferred client, so every scan reports
// it as failed until it connects.
func NewFleet(cfg *config.Config) (*Fleet, error) {
	d, err := Discover(cfg.KubeConfig, cfg.Contexts)
	if err != nil {
		return nil, err
	}

	fleet := &Fleet{clients: make(map[string]*Client)}
	for _, target := range d.Targets {
		if cfg.IsClusterExcluded(target.Name) {
			slog.Debug("cluster excluded", slog.String("cluster", target.Name))
			continue
		}
		opts := ClientOptions{
			RateLimit:     cfg.K8sRateLimit,
			EventCacheTTL: cfg.EventCacheTTL,
		}
		client, err := NewClient(d, target, opts)
		if err != nil {
			slog.Warn("cluster not connected, retrying on each scan",
				slog.String("cluster", target.Name),
				slog.String("context", target.Context),
				slog.String("error", err.Error()),
			)
			client = NewDeferredClient(d, target, opts)
		}
		fleet.add(client)
	}

	slog.Debug("cluster fleet ready", slog.Int("clusters", len(fleet.order)))
	return fleet, nil
}

// NewFleetFromClients builds a fleet from already constructed clients.
func NewFleetFromClients(clients ...*Client) *Fleet {
	fleet := &Fleet{clients: make(map[string]*Client)}
	for _, c := range clients {
		fleet.add(c)
	}
	return fleet
}

func (f *Fleet) add(c *Client) {
	if _, dup := f.clients[c.Name()]; dup {
		return
	}
	f.order = append(f.order, c.Name())
	f.clients[c.Name()] = c
}

// Clusters returns cluster names in discovery order.
func (f *Fleet) Clusters() []string {
	return append([]string(nil), f.order...)
}

// ListPods lists every pod in cluster.
func (f *Fleet) ListPods(ctx context.Context, cluster string) ([]models.PodRecord, error) {
	c, ok := f.clients[cluster]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, cluster)
	}
	return c.ListPods(ctx)
}

// Events returns the events recorded for a pod.
func (f *Fleet) Events(ctx context.Context, id models.PodIdentity) ([]string, error) {
	c, ok := f.clients[id.Cluster]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, id.Cluster)
	}
	return c.Events(ctx, id.Namespace, id.Pod)
}
