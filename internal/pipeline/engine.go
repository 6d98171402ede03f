package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/cluster"
	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/couchcryptid/wildfire-fusion/internal/observability"
	"github.com/couchcryptid/wildfire-fusion/internal/scoring"
	"github.com/couchcryptid/wildfire-fusion/internal/spread"
	"github.com/couchcryptid/wildfire-fusion/internal/store"
	"golang.org/x/sync/errgroup"
)

// Components are the stages an Engine runs. Weather may be nil, in which case
// only weather that arrives with a cycle is used for prediction.
type Components struct {
	Normalizer     *domain.Normalizer
	Clusterer      *cluster.Clusterer
	Scorer         *scoring.Scorer
	Store          *store.Store
	Predictor      *spread.Predictor
	Weather        domain.WeatherLookup
	WeatherTimeout time.Duration
	Workers        int
}

// Engine runs fusion cycles: normalize, cluster, score, merge, predict. At
// most one cycle runs per region at a time; different regions run in
// parallel.
type Engine struct {
	normalizer     *domain.Normalizer
	clusterer      *cluster.Clusterer
	scorer         *scoring.Scorer
	store          *store.Store
	predictor      *spread.Predictor
	weather        domain.WeatherLookup
	weatherTimeout time.Duration
	workers        int
	logger         *slog.Logger
	metrics        *observability.Metrics
	locks          partitionLocks
}

// NewEngine wires the stages into an Engine.
func NewEngine(c Components, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if c.WeatherTimeout <= 0 {
		c.WeatherTimeout = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return &Engine{
		normalizer:     c.Normalizer,
		clusterer:      c.Clusterer,
		scorer:         c.Scorer,
		store:          c.Store,
		predictor:      c.Predictor,
		weather:        c.Weather,
		weatherTimeout: c.WeatherTimeout,
		workers:        c.Workers,
		logger:         logger,
		metrics:        metrics,
	}
}

// CycleInput is everything one region's cycle consumes.
type CycleInput struct {
	Region           string
	Raw              []domain.RawObservation
	UpstreamFailures []string
	Trigger          string // "batch" or "tick", for metrics
}

// CycleResult is the outcome of one cycle.
type CycleResult struct {
	Region string
	// Changed holds events created, updated or transitioned this cycle, in
	// their final state including any new prediction.
	Changed []domain.FireEvent
	// Events is the region's best available list of live events.
	Events       []domain.FireEvent
	Clusters     int
	Completeness domain.Completeness
	Incidents    []error
}

// RunCycle runs one full pass for a region. Invalid observations, upstream
// outages and merge incidents never fail the cycle; they are recorded in the
// result. The error is non-nil only when ctx is done.
func (e *Engine) RunCycle(ctx context.Context, in CycleInput) (CycleResult, error) {
	if in.Region == "" {
		in.Region = domain.DefaultRegion
	}
	if in.Trigger == "" {
		in.Trigger = "batch"
	}
	unlock := e.locks.lock(in.Region)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return CycleResult{}, err
	}

	start := time.Now()
	now := domain.Now()
	res := CycleResult{Region: in.Region}
	for _, name := range in.UpstreamFailures {
		res.Completeness.MarkUpstream(name)
	}

	evidence, samples := e.normalize(in, now, &res.Completeness)

	existing := e.store.Snapshot(in.Region)
	clusters := e.clusterer.Cluster(evidence, existing, now)
	res.Clusters = len(clusters)
	e.metrics.ClustersFormed.Observe(float64(len(clusters)))

	// Weather is resolved before any state changes, so the merge and
	// prediction below never wait on I/O.
	locations := make([]domain.Geo, 0, len(existing)+len(clusters))
	for _, ev := range existing {
		locations = append(locations, ev.Centroid)
	}
	for _, c := range clusters {
		locations = append(locations, c.Centroid)
	}
	weather, misses := e.prefetchWeather(ctx, samples, locations, now)
	if misses > 0 {
		res.Completeness.WeatherMisses = misses
		res.Completeness.MarkUpstream("weather")
	}

	e.scoreClusters(ctx, clusters, now)

	merged, _ := e.store.Merge(ctx, in.Region, clusters, now)
	res.Incidents = merged.Incidents
	e.metrics.MergeIncidents.Add(float64(len(merged.Incidents)))
	for _, ch := range merged.Changes {
		e.metrics.EventChanges.WithLabelValues(string(ch.Kind)).Inc()
	}

	e.predict(in.Region, weather, now)

	res.Events = e.store.ActiveEvents(store.Query{Region: in.Region, IncludeCooling: true})
	res.Changed = refreshed(merged.Changes, res.Events)
	e.recordGauges(in.Region, res.Events)

	if res.Completeness.Degraded {
		e.metrics.DegradedCycles.Inc()
	}
	e.metrics.CycleDuration.WithLabelValues(in.Trigger).Observe(time.Since(start).Seconds())
	e.logger.Info("cycle complete",
		"region", in.Region,
		"trigger", in.Trigger,
		"observations", len(evidence),
		"clusters", len(clusters),
		"changed", len(res.Changed),
		"live_events", len(res.Events),
		"degraded", res.Completeness.Degraded,
		"duration", time.Since(start),
	)
	return res, nil
}

func (e *Engine) normalize(in CycleInput, now time.Time, comp *domain.Completeness) ([]domain.Observation, []domain.Weather) {
	var (
		evidence []domain.Observation
		samples  []domain.Weather
	)
	for _, raw := range in.Raw {
		if name, ok := raw.UpstreamFailure(); ok {
			e.logger.Warn("upstream unavailable", "region", in.Region, "upstream", name)
			comp.MarkUpstream(name)
			continue
		}
		obs, err := e.normalizer.Parse(raw, now)
		if err != nil {
			comp.InvalidObservations++
			src := raw.Headers[domain.HeaderSource]
			if src == "" {
				src = "unknown"
			}
			e.metrics.InvalidObservations.WithLabelValues(src).Inc()
			e.logger.Warn("invalid observation, skipping",
				"error", err,
				"region", in.Region,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			continue
		}
		if w, ok := obs.WeatherSample(); ok {
			samples = append(samples, w)
			continue
		}
		evidence = append(evidence, obs)
	}
	return evidence, samples
}

// scoreClusters fills in each cluster's confidence. Clusters are independent,
// so large cycles are split across workers.
func (e *Engine) scoreClusters(ctx context.Context, clusters []domain.Cluster, now time.Time) {
	const chunk = 64
	if len(clusters) <= chunk || e.workers == 1 {
		for i := range clusters {
			clusters[i].Confidence = e.scorer.ScoreCluster(clusters[i], now)
		}
		return
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for lo := 0; lo < len(clusters); lo += chunk {
		hi := min(lo+chunk, len(clusters))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				clusters[i].Confidence = e.scorer.ScoreCluster(clusters[i], now)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// predict attaches a spread prediction to every ACTIVE event. An event with
// no usable weather has its prediction cleared rather than left stale.
func (e *Engine) predict(region string, weather *weatherSet, now time.Time) {
	active := e.store.ActiveEvents(store.Query{Region: region})
	if len(active) == 0 {
		return
	}
	predictions := make(map[string]*domain.SpreadPrediction, len(active))
	for _, ev := range active {
		pred, ok := e.predictor.Predict(ev, weather.near(ev.Centroid), now)
		if !ok {
			predictions[ev.ID] = nil
			e.metrics.SpreadPredicted.WithLabelValues("no_weather").Inc()
			continue
		}
		predictions[ev.ID] = &pred
		e.metrics.SpreadPredicted.WithLabelValues("predicted").Inc()
	}
	e.store.ApplyPredictions(region, predictions)
}

func (e *Engine) recordGauges(region string, events []domain.FireEvent) {
	var active, cooling int
	for _, ev := range events {
		switch ev.Status {
		case domain.StatusActive:
			active++
		case domain.StatusCooling:
			cooling++
		}
	}
	e.metrics.ActiveEvents.WithLabelValues(region, string(domain.StatusActive)).Set(float64(active))
	e.metrics.ActiveEvents.WithLabelValues(region, string(domain.StatusCooling)).Set(float64(cooling))
}

// refreshed swaps each changed event for its current live state, so
// published events carry the prediction computed after the merge. Expired
// events are no longer live and are published as they were retired.
func refreshed(changes []store.Change, live []domain.FireEvent) []domain.FireEvent {
	out := make([]domain.FireEvent, 0, len(changes))
	for _, ch := range changes {
		i := slices.IndexFunc(live, func(ev domain.FireEvent) bool { return ev.ID == ch.Event.ID })
		if i >= 0 {
			out = append(out, live[i])
			continue
		}
		out = append(out, ch.Event)
	}
	return out
}

// ProcessBatch splits raw messages by region and runs one cycle per region,
// up to the configured number of workers at a time. Results are ordered by
// region.
func (e *Engine) ProcessBatch(ctx context.Context, raws []domain.RawObservation) ([]CycleResult, error) {
	byRegion := make(map[string][]domain.RawObservation)
	for _, raw := range raws {
		byRegion[raw.Region()] = append(byRegion[raw.Region()], raw)
	}
	regions := make([]string, 0, len(byRegion))
	for r := range byRegion {
		regions = append(regions, r)
	}
	slices.Sort(regions)

	return e.runAll(ctx, regions, func(region string) CycleInput {
		return CycleInput{Region: region, Raw: byRegion[region], Trigger: "batch"}
	})
}

// Tick runs an input-free cycle for every known region. It advances event
// lifecycles and refreshes predictions when no new observations arrive.
func (e *Engine) Tick(ctx context.Context) ([]CycleResult, error) {
	return e.runAll(ctx, e.store.Regions(), func(region string) CycleInput {
		return CycleInput{Region: region, Trigger: "tick"}
	})
}

func (e *Engine) runAll(ctx context.Context, regions []string, input func(string) CycleInput) ([]CycleResult, error) {
	results := make([]CycleResult, len(regions))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, region := range regions {
		g.Go(func() error {
			res, err := e.RunCycle(gCtx, input(region))
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Events exposes the store's active-event query.
func (e *Engine) Events(q store.Query) []domain.FireEvent {
	return e.store.ActiveEvents(q)
}

// EventHistory exposes the store's history query.
func (e *Engine) EventHistory(ctx context.Context, id string) ([]domain.HistoryEntry, error) {
	return e.store.EventHistory(ctx, id)
}

// Archived exposes the terminal records of expired events.
func (e *Engine) Archived(ctx context.Context, region string) ([]domain.FireEvent, error) {
	return e.store.Archived(ctx, region)
}
