// Package handlers provides the HTTP handlers of the web service.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/ubuntu/ais-insights/internal/common/constants"
	"github.com/ubuntu/ais-insights/internal/models"
	"github.com/ubuntu/ais-insights/internal/stats"
	"github.com/ubuntu/ais-insights/internal/webservice/metrics"
)

// Querier answers the read requests of the web service.
type Querier interface {
	Reports(ctx context.Context) ([]models.Report, error)
	Stats(ctx context.Context) (stats.Summary, error)
}

// Reports serves the current snapshot of reports.
type Reports struct {
	q Querier
}

// NewReports creates a Reports handler.
func NewReports(q Querier) *Reports {
	return &Reports{q: q}
}

// ServeHTTP implements http.Handler.
func (h *Reports) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := uuid.NewString()
	slog.Debug("Reports requested", "req_id", reqID, "path", r.URL.Path)

	reports, err := h.q.Reports(r.Context())
	if err != nil {
		slog.Error("Failed to read reports", "req_id", reqID, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, reqID, http.StatusOK, reports)
}

// Stats serves the summary of the current snapshot.
type Stats struct {
	q Querier
}

// NewStats creates a Stats handler.
func NewStats(q Querier) *Stats {
	return &Stats{q: q}
}

// ServeHTTP implements http.Handler.
func (h *Stats) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := uuid.NewString()
	slog.Debug("Statistics requested", "req_id", reqID)

	summary, err := h.q.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to compute statistics", "req_id", reqID, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, reqID, http.StatusOK, summary)
}

// VersionHandler handles requests to the /version endpoint.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	writeJSON(w, "", http.StatusOK, map[string]string{"version": constants.Version})
}

// NotFoundHandler answers requests for unknown routes with a JSON error.
// Requests to a known path with another method get a 405.
func NotFoundHandler(knownPaths ...string) http.HandlerFunc {
	known := make(map[string]struct{}, len(knownPaths))
	for _, p := range knownPaths {
		known[p] = struct{}{}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		metrics.ApplyLabels(r)
		if _, ok := known[r.URL.Path]; ok {
			w.Header().Set("Allow", http.MethodGet+", "+http.MethodHead)
			writeError(w, http.StatusMethodNotAllowed, nil)
			return
		}
		writeError(w, http.StatusNotFound, nil)
	}
}

func writeJSON(w http.ResponseWriter, reqID string, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode response", "req_id", reqID, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(data); err != nil {
		slog.Warn("Failed to write response", "req_id", reqID, "err", err)
	}
}

// writeError writes {"error": "..."}. A nil err uses the status text.
func writeError(w http.ResponseWriter, code int, err error) {
	msg := http.StatusText(code)
	if err != nil {
		msg = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
