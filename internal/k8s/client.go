package k8s

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

const (
	// InClusterName is the cluster name used when no kubeconfig context exists
	// and K8S_CLUSTER_NAME is unset.
	InClusterName = "in-cluster"
	// ClusterNameEnv overrides the in-cluster target name.
	ClusterNameEnv = "K8S_CLUSTER_NAME"
)

// Target is one cluster to scan.
type Target struct {
	Name      string // cluster name used in pod identities
	Context   string // kubeconfig context, empty for in-cluster
	InCluster bool
}

// Discovery is the result of reading kubeconfig.
type Discovery struct {
	Targets []Target
	rules   *clientcmd.ClientConfigLoadingRules
	raw     *clientcmdapi.Config
}

// Discover lists scan targets from kubeconfig. Every context is a target named
// after its cluster field; with no contexts a single in-cluster target is used.
// When only is non-empty, targets are restricted to matching context or cluster names.
func Discover(kubeconfig string, only []string) (*Discovery, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}

	raw, err := rules.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	d := &Discovery{rules: rules, raw: raw}
	if len(raw.Contexts) == 0 {
		name := strings.TrimSpace(os.Getenv(ClusterNameEnv))
		if name == "" {
			name = InClusterName
		}
		d.Targets = []Target{{Name: name, InCluster: true}}
		return d, nil
	}

	contextNames := make([]string, 0, len(raw.Contexts))
	for name := range raw.Contexts {
		contextNames = append(contextNames, name)
	}
	sort.Strings(contextNames)

	seen := make(map[string]string)
	for _, contextName := range contextNames {
		clusterName := contextName
		if c := raw.Contexts[contextName]; c != nil && c.Cluster != "" {
			clusterName = c.Cluster
		}
		if len(only) > 0 && !contains(only, contextName) && !contains(only, clusterName) {
			continue
		}
		if prev, dup := seen[clusterName]; dup {
			slog.Debug("skipping context for already discovered cluster",
				slog.String("context", contextName),
				slog.String("cluster", clusterName),
				slog.String("kept_context", prev),
			)
			continue
		}
		seen[clusterName] = contextName
		d.Targets = append(d.Targets, Target{Name: clusterName, Context: contextName})
	}

	if len(only) > 0 && len(d.Targets) == 0 {
		return nil, fmt.Errorf("no kubeconfig context matches %s", strings.Join(only, ", "))
	}
	return d, nil
}

// RESTConfig builds the client configuration for target.
func (d *Discovery) RESTConfig(target Target) (*rest.Config, error) {
	if target.InCluster {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load in-cluster config: %w", err)
		}
		return cfg, nil
	}

	cc := clientcmd.NewNonInteractiveClientConfig(*d.raw, target.Context, &clientcmd.ConfigOverrides{}, d.rules)
	cfg, err := cc.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build config for context %s: %w", target.Context, err)
	}
	return cfg, nil
}

// ErrNotConnected wraps the reason a cluster has no working client yet.
var ErrNotConnected = errors.New("cluster is not connected")

// Client is a rate-limited view of one cluster.
type Client struct {
	name     string
	limiter  *RateLimiter
	events   *EventCache
	pageSize int64

	mu        sync.Mutex
	clientset kubernetes.Interface
	connect   func() (kubernetes.Interface, error)
}

// ClientOptions tunes a Client
type ClientOptions struct {
	RateLimit     int           // requests per second, 0 for unlimited
	EventCacheTTL time.Duration // 0 disables event caching
	PageSize      int64
}

// NewClient connects to target.
func NewClient(d *Discovery, target Target, opts ClientOptions) (*Client, error) {
	clientset, err := connect(d, target, opts)
	if err != nil {
		return nil, err
	}
	return newClient(target.Name, clientset, opts), nil
}

// NewDeferredClient returns a client for target that connects on first use.
// Until a connection succeeds every call fails with ErrNotConnected, and the
// next call tries again.
func NewDeferredClient(d *Discovery, target Target, opts ClientOptions) *Client {
	c := newClient(target.Name, nil, opts)
	c.connect = func() (kubernetes.Interface, error) {
		return connect(d, target, opts)
	}
	return c
}

func connect(d *Discovery, target Target, opts ClientOptions) (kubernetes.Interface, error) {
	cfg, err := d.RESTConfig(target)
	if err != nil {
		return nil, err
	}
	if opts.RateLimit > 0 {
		// client-go's own limiter must not be stricter than ours
		cfg.QPS = float32(opts.RateLimit)
		cfg.Burst = opts.RateLimit * 2
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client for %s: %w", target.Name, err)
	}
	return clientset, nil
}

// NewClientForClientset wraps an existing clientset, such as a fake one.
func NewClientForClientset(name string, clientset kubernetes.Interface, opts ClientOptions) *Client {
	return newClient(name, clientset, opts)
}

func newClient(name string, clientset kubernetes.Interface, opts ClientOptions) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	return &Client{
		name:      name,
		clientset: clientset,
		limiter:   NewRateLimiter(opts.RateLimit),
		events:    NewEventCache(opts.EventCacheTTL),
		pageSize:  opts.PageSize,
	}
}

// Name returns the cluster name
func (c *Client) Name() string {
	return c.name
}

// kube returns the clientset, connecting first if needed.
func (c *Client) kube() (kubernetes.Interface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clientset != nil {
		return c.clientset, nil
	}
	if c.connect == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.name)
	}
	clientset, err := c.connect()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotConnected, c.name, err)
	}
	slog.Info("cluster connected", slog.String("cluster", c.name))
	c.clientset = clientset
	return clientset, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
