package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/couchcryptid/wildfire-fusion/internal/store"
	jsoniter "github.com/json-iterator/go"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventQuerier answers read-only queries against the fire event table.
type EventQuerier interface {
	Events(q store.Query) []domain.FireEvent
	EventHistory(ctx context.Context, id string) ([]domain.HistoryEntry, error)
	Archived(ctx context.Context, region string) ([]domain.FireEvent, error)
}

// Server exposes health, readiness, metrics, and fire event query endpoints.
type Server struct {
	httpServer *http.Server
	events     EventQuerier
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /events query routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, events EventQuerier, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		events: events,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /events/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /archive", s.handleArchive)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleEvents serves live events. Query parameters: region, min_confidence,
// bbox=minLon,minLat,maxLon,maxLat and include_cooling.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	events := s.events.Events(q)
	if events == nil {
		events = []domain.FireEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, err := s.events.EventHistory(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrEventNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.logger.Error("event history query failed", "event_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "history": history})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.Archived(r.Context(), r.URL.Query().Get("region"))
	if err != nil {
		s.logger.Error("archive query failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []domain.FireEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func parseQuery(r *http.Request) (store.Query, error) {
	values := r.URL.Query()
	q := store.Query{Region: values.Get("region")}

	if v := values.Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return q, fmt.Errorf("min_confidence must be a number in [0,1], got %q", v)
		}
		q.MinConfidence = f
	}
	if v := values.Get("include_cooling"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("include_cooling must be a boolean, got %q", v)
		}
		q.IncludeCooling = b
	}
	if v := values.Get("bbox"); v != "" {
		b, err := parseBBox(v)
		if err != nil {
			return q, err
		}
		q.Bounds = &b
	}
	return q, nil
}

func parseBBox(v string) (orb.Bound, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must be minLon,minLat,maxLon,maxLat, got %q", v)
	}
	var n [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox component %d: %q is not a number", i, p)
		}
		n[i] = f
	}
	if n[0] > n[2] || n[1] > n[3] {
		return orb.Bound{}, fmt.Errorf("bbox min corner must not exceed max corner, got %q", v)
	}
	return orb.Bound{Min: orb.Point{n[0], n[1]}, Max: orb.Point{n[2], n[3]}}, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
