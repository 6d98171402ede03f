package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/couchcryptid/wildfire-fusion/internal/scoring"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const region = "norcal"

var t0 = time.Date(2024, time.August, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	n := 0
	opts = append([]Option{WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("evt-%03d", n)
	})}, opts...)
	return New(DefaultConfig(), scoring.New(scoring.DefaultConfig()), slog.Default(), opts...)
}

func sat(id string, lat, lon, conf float64, at time.Time) domain.Observation {
	return domain.Observation{
		ID: id, Source: domain.SourceSatellite, Lat: lat, Lon: lon, Time: at,
		Satellite: &domain.SatelliteDetail{Confidence: conf, Instrument: "VIIRS", FRP: domain.Float(12)},
	}
}

func rpt(id string, lat, lon, trust float64, at time.Time) domain.Observation {
	return domain.Observation{
		ID: id, Source: domain.SourceUserReport, Lat: lat, Lon: lon, Time: at,
		Report: &domain.ReportDetail{Trust: domain.Float(trust), Status: domain.ReportFire},
	}
}

func clusterOf(id string, members ...domain.Observation) domain.Cluster {
	pts := make([]domain.Geo, len(members))
	for i, m := range members {
		pts[i] = m.Geo()
	}
	return domain.Cluster{ID: id, Members: members, Centroid: domain.Centroid(pts)}
}

func TestMerge_CreatesEvent(t *testing.T) {
	s := newTestStore(t)
	c := clusterOf("cl-a",
		sat("s1", 39.80, -121.40, 0.9, t0.Add(-time.Hour)),
		rpt("r1", 39.805, -121.40, 0.6, t0.Add(-30*time.Minute)),
	)

	res, err := s.Merge(context.Background(), region, []domain.Cluster{c}, t0)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)

	ch := res.Changes[0]
	assert.Equal(t, ChangeCreated, ch.Kind)
	ev := ch.Event
	assert.Equal(t, "evt-001", ev.ID)
	assert.Equal(t, region, ev.Region)
	assert.Equal(t, domain.StatusActive, ev.Status)
	assert.Equal(t, 2, ev.ObservationCount)
	assert.Equal(t, []domain.Source{domain.SourceSatellite, domain.SourceUserReport}, ev.ContributingSources)
	assert.Equal(t, t0.Add(-time.Hour), ev.FirstSeen)
	assert.Equal(t, t0.Add(-30*time.Minute), ev.LastSeen)
	assert.Greater(t, ev.Confidence, 0.0)
	assert.GreaterOrEqual(t, ev.RadiusMeters, float64(DefaultMinRadiusMeters))
	assert.Len(t, ev.History, 1)
	assert.Nil(t, ev.Evidence, "published events carry no evidence")
}

func TestMerge_SameClusterTwiceIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	c := clusterOf("cl-a", sat("s1", 39.80, -121.40, 0.9, t0))

	res, err := s.Merge(context.Background(), region, []domain.Cluster{c, c}, t0)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	first := res.Changes[0].Event

	res, err = s.Merge(context.Background(), region, []domain.Cluster{c}, t0)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)

	events := s.ActiveEvents(Query{})
	require.Len(t, events, 1)
	assert.Equal(t, first.Confidence, events[0].Confidence)
	assert.Equal(t, 1, events[0].ObservationCount)
	assert.Len(t, events[0].History, 1)
}

func TestMerge_MatchesNearestEventWithinRadius(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, region, []domain.Cluster{
		clusterOf("cl-a", sat("a1", 39.80, -121.40, 0.8, t0)),
		clusterOf("cl-b", sat("b1", 39.80, -121.30, 0.8, t0)), // ~8.5 km east
	}, t0)
	require.NoError(t, err)
	require.Len(t, s.Snapshot(region), 2)

	later := t0.Add(time.Hour)
	res, err := s.Merge(ctx, region, []domain.Cluster{
		clusterOf("cl-c", sat("a2", 39.81, -121.40, 0.9, later)), // ~1.1 km from a
		clusterOf("cl-d", sat("x1", 40.20, -121.40, 0.9, later)), // far from both
	}, later)
	require.NoError(t, err)

	byKind := map[ChangeKind][]string{}
	for _, ch := range res.Changes {
		byKind[ch.Kind] = append(byKind[ch.Kind], ch.Event.ID)
	}
	assert.Equal(t, []string{"evt-001"}, byKind[ChangeUpdated])
	assert.Equal(t, []string{"evt-003"}, byKind[ChangeCreated])

	ev, err := s.Event(ctx, "evt-001")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.ObservationCount)
	assert.Len(t, ev.History, 2)
	assert.Greater(t, ev.Centroid.Lat, 39.80, "centroid drifts toward new evidence")
	assert.Less(t, ev.Centroid.Lat, 39.81)
}

func TestMerge_NearbyNewClustersShareOneEvent(t *testing.T) {
	s := newTestStore(t)

	res, err := s.Merge(context.Background(), region, []domain.Cluster{
		clusterOf("cl-a", sat("a1", 39.80, -121.40, 0.8, t0)),
		clusterOf("cl-b", sat("b1", 39.82, -121.40, 0.8, t0)), // ~2.2 km north
	}, t0)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, 2, res.Changes[0].Event.ObservationCount)
}

func TestLifecycle_Boundaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Merge(ctx, region, []domain.Cluster{clusterOf("cl-a", sat("s1", 39.8, -121.4, 0.95, t0))}, t0)
	require.NoError(t, err)

	status := func() domain.Status {
		ev, err := s.Event(ctx, "evt-001")
		require.NoError(t, err)
		return ev.Status
	}

	s.Advance(ctx, region, t0.Add(DefaultCoolAfter-time.Nanosecond))
	assert.Equal(t, domain.StatusActive, status())

	changes := s.Advance(ctx, region, t0.Add(DefaultCoolAfter))
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeCooled, changes[0].Kind)
	assert.Equal(t, domain.StatusCooling, status())

	s.Advance(ctx, region, t0.Add(DefaultExpireAfter-time.Nanosecond))
	assert.Equal(t, domain.StatusCooling, status())

	changes = s.Advance(ctx, region, t0.Add(DefaultExpireAfter))
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeExpired, changes[0].Kind)
	assert.Equal(t, domain.StatusExpired, status())
	assert.Empty(t, s.Snapshot(region))
}

func TestLifecycle_ExpiredAfterTwoDaysIsGoneButAuditable(t *testing.T) {
	archive := NewMemoryArchive()
	s := newTestStore(t, WithArchive(archive))
	ctx := context.Background()

	_, err := s.Merge(ctx, region, []domain.Cluster{clusterOf("cl-a", sat("s1", 39.8, -121.4, 0.95, t0))}, t0)
	require.NoError(t, err)
	require.Len(t, s.ActiveEvents(Query{IncludeCooling: true}), 1)

	s.Advance(ctx, region, t0.Add(48*time.Hour))

	assert.Empty(t, s.ActiveEvents(Query{IncludeCooling: true}))
	assert.Equal(t, 1, archive.Len())

	history, err := s.EventHistory(ctx, "evt-001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StatusActive, history[0].Status)
	assert.Equal(t, domain.StatusExpired, history[1].Status)

	archived, err := s.Archived(ctx, region)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "evt-001", archived[0].ID)

	other, err := s.Archived(ctx, "socal")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMerge_ReactivatesCoolingEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Merge(ctx, region, []domain.Cluster{clusterOf("cl-a", sat("s1", 39.8, -121.4, 0.9, t0))}, t0)
	require.NoError(t, err)

	coolAt := t0.Add(8 * time.Hour)
	s.Advance(ctx, region, coolAt)

	flare := clusterOf("cl-b", sat("s2", 39.801, -121.401, 0.9, coolAt))
	res, err := s.Merge(ctx, region, []domain.Cluster{flare}, coolAt)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, ChangeReactivated, res.Changes[0].Kind)
	assert.Equal(t, "evt-001", res.Changes[0].Event.ID)
	assert.Equal(t, domain.StatusActive, res.Changes[0].Event.Status)
	assert.Len(t, s.Snapshot(region), 1, "a flare-up never spawns a duplicate")
}

func TestMerge_ClusterSpanningTwoEventsIsAnIncident(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := sat("a1", 39.80, -121.40, 0.8, t0)
	b := sat("b1", 39.80, -121.30, 0.8, t0)
	_, err := s.Merge(ctx, region, []domain.Cluster{clusterOf("cl-a", a), clusterOf("cl-b", b)}, t0)
	require.NoError(t, err)
	before := s.Snapshot(region)

	res, err := s.Merge(ctx, region, []domain.Cluster{clusterOf("cl-bridge", a, b)}, t0)
	require.ErrorIs(t, err, domain.ErrInconsistentMergeState)
	assert.Len(t, res.Incidents, 1)
	assert.Empty(t, res.Changes)
	assert.Equal(t, before, s.Snapshot(region))
}

type nanScorer struct{}

func (nanScorer) Score([]domain.Observation, time.Time) float64 { return math.NaN() }

func TestMerge_InvalidUpdateLeavesEventUntouched(t *testing.T) {
	s := New(DefaultConfig(), nanScorer{}, slog.Default())

	res, err := s.Merge(context.Background(), region,
		[]domain.Cluster{clusterOf("cl-a", sat("s1", 39.8, -121.4, 0.9, t0))}, t0)

	require.True(t, errors.Is(err, domain.ErrInconsistentMergeState))
	assert.Empty(t, res.Changes)
	assert.Empty(t, s.Snapshot(region))
}

func TestActiveEvents_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Merge(ctx, region, []domain.Cluster{
		clusterOf("cl-a", sat("a1", 39.80, -121.40, 0.95, t0), rpt("a2", 39.801, -121.40, 0.8, t0)),
		clusterOf("cl-b", sat("b1", 34.10, -118.20, 0.2, t0)),
	}, t0)
	require.NoError(t, err)
	_, err = s.Merge(ctx, "socal", []domain.Cluster{clusterOf("cl-c", sat("c1", 34.50, -118.90, 0.9, t0))}, t0)
	require.NoError(t, err)

	all := s.ActiveEvents(Query{})
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Confidence, all[i].Confidence)
	}

	assert.Len(t, s.ActiveEvents(Query{Region: "socal"}), 1)
	assert.Len(t, s.ActiveEvents(Query{MinConfidence: 0.4}), 2)

	norcalBox := orb.Bound{Min: orb.Point{-123, 38}, Max: orb.Point{-120, 41}}
	inBox := s.ActiveEvents(Query{Bounds: &norcalBox})
	require.Len(t, inBox, 1)
	assert.Equal(t, "evt-001", inBox[0].ID)

	assert.Equal(t, []string{"norcal", "socal"}, s.Regions())
}

func TestActiveEvents_ReturnsCopies(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Merge(context.Background(), region,
		[]domain.Cluster{clusterOf("cl-a", sat("s1", 39.8, -121.4, 0.9, t0))}, t0)
	require.NoError(t, err)

	got := s.ActiveEvents(Query{})
	got[0].History[0].Confidence = -1
	got[0].ContributingSources[0] = "TAMPERED"

	again := s.ActiveEvents(Query{})
	assert.NotEqual(t, -1.0, again[0].History[0].Confidence)
	assert.Equal(t, domain.SourceSatellite, again[0].ContributingSources[0])
}

func TestApplyPredictions(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Merge(context.Background(), region,
		[]domain.Cluster{clusterOf("cl-a", sat("s1", 39.8, -121.4, 0.9, t0))}, t0)
	require.NoError(t, err)

	s.ApplyPredictions(region, map[string]*domain.SpreadPrediction{
		"evt-001": {HeadingDegrees: 90, Horizon: 6 * time.Hour},
		"missing": {HeadingDegrees: 1},
	})
	ev := s.ActiveEvents(Query{})[0]
	require.NotNil(t, ev.PredictedSpread)
	assert.Equal(t, 90.0, ev.PredictedSpread.HeadingDegrees)

	s.ApplyPredictions(region, map[string]*domain.SpreadPrediction{"evt-001": nil})
	assert.Nil(t, s.ActiveEvents(Query{})[0].PredictedSpread)
}

func TestMerge_EvidenceOlderThanExpiryIsIgnored(t *testing.T) {
	archive := NewMemoryArchive()
	s := newTestStore(t, WithArchive(archive))
	ctx := context.Background()

	res, err := s.Merge(ctx, region,
		[]domain.Cluster{clusterOf("cl-old", sat("s-old", 39.8, -121.4, 0.9, t0.Add(-30*time.Hour)))}, t0)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.Empty(t, s.Snapshot(region))

	s.Advance(ctx, region, t0.Add(72*time.Hour))
	assert.Empty(t, s.Snapshot(region))
	assert.Zero(t, archive.Len())
}

func TestMerge_StaleMemberDoesNotExtendEvent(t *testing.T) {
	s := newTestStore(t)
	res, err := s.Merge(context.Background(), region, []domain.Cluster{clusterOf("cl-a",
		sat("s-old", 39.8, -121.4, 0.9, t0.Add(-DefaultExpireAfter)),
		sat("s-new", 39.801, -121.4, 0.9, t0.Add(-time.Hour)),
	)}, t0)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)

	ev := res.Changes[0].Event
	assert.Equal(t, domain.StatusActive, ev.Status)
	assert.Equal(t, 1, ev.ObservationCount)
	assert.Equal(t, t0.Add(-time.Hour), ev.FirstSeen)
}

func TestLifecycle_CoolingDropsPrediction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Merge(ctx, region, []domain.Cluster{clusterOf("cl-a", sat("s1", 39.8, -121.4, 0.9, t0))}, t0)
	require.NoError(t, err)
	s.ApplyPredictions(region, map[string]*domain.SpreadPrediction{
		"evt-001": {HeadingDegrees: 90, Horizon: 6 * time.Hour},
	})

	changes := s.Advance(ctx, region, t0.Add(DefaultCoolAfter))
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeCooled, changes[0].Kind)
	assert.Nil(t, changes[0].Event.PredictedSpread)

	cooling := s.ActiveEvents(Query{IncludeCooling: true})
	require.Len(t, cooling, 1)
	assert.Equal(t, domain.StatusCooling, cooling[0].Status)
	assert.Nil(t, cooling[0].PredictedSpread)
}

func TestEvent_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Event(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

type failingArchive struct {
	*MemoryArchive
	fail bool
}

func (f *failingArchive) Put(ctx context.Context, ev domain.FireEvent) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryArchive.Put(ctx, ev)
}

func TestLifecycle_ArchiveFailureIsRetried(t *testing.T) {
	archive := &failingArchive{MemoryArchive: NewMemoryArchive(), fail: true}
	s := newTestStore(t, WithArchive(archive))
	ctx := context.Background()
	_, err := s.Merge(ctx, region, []domain.Cluster{clusterOf("cl-a", sat("s1", 39.8, -121.4, 0.9, t0))}, t0)
	require.NoError(t, err)

	s.Advance(ctx, region, t0.Add(30*time.Hour))
	assert.Zero(t, archive.Len())
	ev, err := s.Event(ctx, "evt-001")
	require.NoError(t, err, "retired events stay queryable while the archive is down")
	assert.Equal(t, domain.StatusExpired, ev.Status)
	pending, err := s.Archived(ctx, "")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	archive.fail = false
	s.Advance(ctx, region, t0.Add(31*time.Hour))
	assert.Equal(t, 1, archive.Len())
	archived, err := s.Archived(ctx, "")
	require.NoError(t, err)
	assert.Len(t, archived, 1, "no duplicate once the write succeeds")
}
