package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/podspectre/internal/models"
)

const shutdownTimeout = 10 * time.Second

// Coordinator is the part of the scan coordinator the API drives.
type Coordinator interface {
	TriggerScan(ctx context.Context) error
	Latest() *models.ScanState
	PodDetail(ctx context.Context, id models.PodIdentity) ([]string, error)
	SnapshotDates() ([]string, error)
}

// Options configures the API server
type Options struct {
	Addr string
	// DashboardDir is served at / when set. "auto" searches the usual locations.
	DashboardDir string
	Gatherer     prometheus.Gatherer
}

// Server exposes scan results over HTTP.
type Server struct {
	coord     Coordinator
	dashboard string
	server    *http.Server
}

// New builds the server and its routes.
func New(coord Coordinator, opts Options) (*Server, error) {
	if coord == nil {
		return nil, errors.New("coordinator is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	s := &Server{coord: coord}

	dashboard := opts.DashboardDir
	if dashboard == "auto" {
		dashboard = findDashboardDir()
	}
	if dashboard != "" {
		info, err := os.Stat(dashboard)
		if err != nil {
			return nil, fmt.Errorf("dashboard directory not found: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("dashboard path %s is not a directory", dashboard)
		}
		s.dashboard = dashboard
	}

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.routes(opts.Gatherer),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/run-check", s.handleRunCheck)
	mux.HandleFunc("GET /api/data", s.handleData)
	mux.HandleFunc("GET /api/pods/{cluster}/{namespace}/{pod}/events", s.handlePodEvents)
	mux.HandleFunc("GET /api/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))

	if s.dashboard != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.dashboard)))
	}
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("api server starting",
		slog.String("addr", s.server.Addr),
		slog.String("dashboard", s.dashboard),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("api server shutting down")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

// findDashboardDir looks for a dashboard next to the working directory.
func findDashboardDir() string {
	candidates := []string{
		"dashboard",
		"web",
		filepath.Join("..", "dashboard"),
		filepath.Join("..", "..", "dashboard"),
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
