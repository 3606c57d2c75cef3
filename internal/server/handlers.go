package server

import (
	"errors"
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/ppiankov/podspectre/internal/coordinator"
	"github.com/ppiankov/podspectre/internal/k8s"
	"github.com/ppiankov/podspectre/internal/models"
)

var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

const scanInProgressMessage = "A scan is already in progress."

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type snapshotsResponse struct {
	Dates []string `json:"dates"`
}

type podEventsResponse struct {
	Cluster   string   `json:"cluster"`
	Namespace string   `json:"namespace"`
	Pod       string   `json:"pod"`
	Events    []string `json:"events"`
}

func (s *Server) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	err := s.coord.TriggerScan(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, statusResponse{
			Status:  "success",
			Message: "Scan started. Results will be updated shortly.",
		})
	case errors.Is(err, coordinator.ErrScanInProgress):
		writeJSON(w, http.StatusTooManyRequests, statusResponse{
			Status:  "error",
			Message: scanInProgressMessage,
		})
	case errors.Is(err, coordinator.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{
			Status:  "error",
			Message: "Server is shutting down.",
		})
	default:
		slog.Error("failed to trigger scan", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, statusResponse{
			Status:  "error",
			Message: err.Error(),
		})
	}
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Latest())
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	dates, err := s.coord.SnapshotDates()
	if err != nil {
		slog.Error("failed to list snapshots", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, snapshotsResponse{Dates: dates})
}

func (s *Server) handlePodEvents(w http.ResponseWriter, r *http.Request) {
	id := models.PodIdentity{
		Cluster:   r.PathValue("cluster"),
		Namespace: r.PathValue("namespace"),
		Pod:       r.PathValue("pod"),
	}

	events, err := s.coord.PodDetail(r.Context(), id)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, k8s.ErrUnknownCluster):
			status = http.StatusNotFound
		case errors.Is(err, coordinator.ErrNoEvents), errors.Is(err, k8s.ErrNotConnected):
			status = http.StatusServiceUnavailable
		}
		slog.Warn("pod events lookup failed",
			slog.String("pod", id.String()),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	if events == nil {
		events = []string{}
	}

	writeJSON(w, http.StatusOK, podEventsResponse{
		Cluster:   id.Cluster,
		Namespace: id.Namespace,
		Pod:       id.Pod,
		Events:    events,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
