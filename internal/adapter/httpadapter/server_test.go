package httpadapter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/adapter/httpadapter"
	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/couchcryptid/wildfire-fusion/internal/store"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockEvents struct {
	lastQuery store.Query
	events    []domain.FireEvent
	history   map[string][]domain.HistoryEntry
	archived  []domain.FireEvent
	err       error
}

func (m *mockEvents) Events(q store.Query) []domain.FireEvent {
	m.lastQuery = q
	return m.events
}

func (m *mockEvents) EventHistory(_ context.Context, id string) ([]domain.HistoryEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	h, ok := m.history[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, domain.ErrEventNotFound)
	}
	return h, nil
}

func (m *mockEvents) Archived(_ context.Context, region string) ([]domain.FireEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.FireEvent
	for _, ev := range m.archived {
		if region == "" || ev.Region == region {
			out = append(out, ev)
		}
	}
	return out, nil
}

func newTestServer(readyErr error, events *mockEvents) *httpadapter.Server {
	if events == nil {
		events = &mockEvents{}
	}
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, events, slog.Default())
}

func get(t *testing.T, srv http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(fmt.Errorf("not ready yet"), nil), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestEventsEndpoint(t *testing.T) {
	events := &mockEvents{events: []domain.FireEvent{{
		ID:         "evt-1",
		Region:     "norcal",
		Status:     domain.StatusActive,
		Confidence: 0.82,
		Evidence:   []domain.Observation{{ID: "VIIRS-1"}},
	}}}
	srv := newTestServer(nil, events)

	rec := get(t, srv, "/events?region=norcal&min_confidence=0.5&include_cooling=true&bbox=-122.5,39.0,-121.0,40.5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "evt-1", body[0]["id"])
	assert.Equal(t, "ACTIVE", body[0]["status"])
	assert.NotContains(t, rec.Body.String(), "VIIRS-1")

	q := events.lastQuery
	assert.Equal(t, "norcal", q.Region)
	assert.Equal(t, 0.5, q.MinConfidence)
	assert.True(t, q.IncludeCooling)
	require.NotNil(t, q.Bounds)
	assert.Equal(t, orb.Bound{Min: orb.Point{-122.5, 39.0}, Max: orb.Point{-121.0, 40.5}}, *q.Bounds)
}

func TestEventsEndpoint_EmptyIsArray(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestEventsEndpoint_BadQuery(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{name: "confidence not a number", target: "/events?min_confidence=high", want: "min_confidence"},
		{name: "confidence out of range", target: "/events?min_confidence=1.5", want: "min_confidence"},
		{name: "include_cooling not bool", target: "/events?include_cooling=maybe", want: "include_cooling"},
		{name: "bbox too short", target: "/events?bbox=1,2,3", want: "bbox"},
		{name: "bbox not numeric", target: "/events?bbox=a,2,3,4", want: "bbox"},
		{name: "bbox inverted", target: "/events?bbox=-121,40,-122,39", want: "bbox"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newTestServer(nil, nil), tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	at := time.Date(2018, 11, 8, 15, 0, 0, 0, time.UTC)
	events := &mockEvents{history: map[string][]domain.HistoryEntry{
		"evt-1": {
			{At: at, Status: domain.StatusActive, Confidence: 0.6, ObservationCount: 2},
			{At: at.Add(7 * time.Hour), Status: domain.StatusCooling, Confidence: 0.4, ObservationCount: 2},
		},
	}}
	srv := newTestServer(nil, events)

	rec := get(t, srv, "/events/evt-1/history")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ID      string                `json:"id"`
		History []domain.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "evt-1", body.ID)
	require.Len(t, body.History, 2)
	assert.Equal(t, domain.StatusCooling, body.History[1].Status)

	rec = get(t, srv, "/events/nope/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoint_InternalError(t *testing.T) {
	rec := get(t, newTestServer(nil, &mockEvents{err: fmt.Errorf("archive unavailable")}), "/events/evt-1/history")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestArchiveEndpoint(t *testing.T) {
	events := &mockEvents{archived: []domain.FireEvent{
		{ID: "evt-1", Region: "norcal", Status: domain.StatusExpired},
		{ID: "evt-2", Region: "socal", Status: domain.StatusExpired},
	}}
	srv := newTestServer(nil, events)

	rec := get(t, srv, "/archive?region=socal")
	require.Equal(t, http.StatusOK, rec.Code)
	var body []domain.FireEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "evt-2", body[0].ID)

	rec = get(t, srv, "/archive?region=none")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
