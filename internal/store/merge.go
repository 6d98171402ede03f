package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
)

// ChangeKind describes what a merge or lifecycle pass did to an event.
type ChangeKind string

const (
	ChangeCreated     ChangeKind = "created"
	ChangeUpdated     ChangeKind = "updated"
	ChangeReactivated ChangeKind = "reactivated"
	ChangeCooled      ChangeKind = "cooled"
	ChangeExpired     ChangeKind = "expired"
)

// Change is one event touched during a merge, in its post-change state.
type Change struct {
	Event domain.FireEvent
	Kind  ChangeKind
}

// MergeResult lists the events a merge touched and any incidents it raised.
// Incidents are also returned, joined, as the error from Merge.
type MergeResult struct {
	Changes   []Change
	Incidents []error
}

// Events returns the changed events in the order they were touched.
func (r MergeResult) Events() []domain.FireEvent {
	out := make([]domain.FireEvent, len(r.Changes))
	for i := range r.Changes {
		out[i] = r.Changes[i].Event
	}
	return out
}

// group collects the clusters headed for one event, existing or new.
type group struct {
	eventID  string // empty for a new event
	centroid domain.Geo
	clusters []domain.Cluster
}

// Merge folds clusters into the region's events and then advances every
// event's lifecycle to now. Each event update is validated before it is
// committed; an update that fails validation is dropped, the event keeps its
// previous state, and the failure is reported as an incident wrapping
// domain.ErrInconsistentMergeState. Other updates in the same call still
// apply.
func (s *Store) Merge(ctx context.Context, region string, clusters []domain.Cluster, now time.Time) (MergeResult, error) {
	p := s.partition(region)
	p.mu.Lock()
	defer p.mu.Unlock()

	var res MergeResult
	groups, incidents := s.plan(p, dedupeClusters(clusters))
	res.Incidents = append(res.Incidents, incidents...)

	for _, g := range groups {
		change, ok, err := s.apply(p, g, now)
		if err != nil {
			res.Incidents = append(res.Incidents, err)
			continue
		}
		if ok {
			res.Changes = append(res.Changes, change)
		}
	}

	res.Changes = append(res.Changes, s.advance(ctx, p, now)...)
	res.Changes = collapse(res.Changes)

	for _, err := range res.Incidents {
		s.logger.Error("merge incident", "region", region, "error", err)
	}
	return res, errors.Join(res.Incidents...)
}

// Advance moves every event in a region through its lifecycle without merging
// new evidence.
func (s *Store) Advance(ctx context.Context, region string, now time.Time) []Change {
	p := s.partition(region)
	p.mu.Lock()
	defer p.mu.Unlock()
	return s.advance(ctx, p, now)
}

func dedupeClusters(clusters []domain.Cluster) []domain.Cluster {
	out := make([]domain.Cluster, 0, len(clusters))
	seen := make(map[string]struct{}, len(clusters))
	for _, c := range clusters {
		if len(c.Members) == 0 {
			continue
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Cluster) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// plan assigns each cluster to a target event. A cluster whose observations
// already belong to an event goes to that event; otherwise it joins the
// nearest live event within the merge radius, then the nearest new event
// planned in this batch, and failing both starts a new event.
func (s *Store) plan(p *partition, clusters []domain.Cluster) ([]*group, []error) {
	var (
		groups    []*group
		incidents []error
		byEvent   = make(map[string]*group)
		claimed   = make(map[string]*group)
	)

	groupFor := func(eventID string) *group {
		if g, ok := byEvent[eventID]; ok {
			return g
		}
		g := &group{eventID: eventID, centroid: p.events[eventID].Centroid}
		byEvent[eventID] = g
		groups = append(groups, g)
		return g
	}

	for _, c := range clusters {
		touched := make(map[*group]struct{})
		var owners []string
		for _, m := range c.Members {
			if evID, ok := p.owners[m.ID]; ok {
				if !slices.Contains(owners, evID) {
					owners = append(owners, evID)
				}
				touched[groupFor(evID)] = struct{}{}
			} else if g, ok := claimed[m.ID]; ok {
				touched[g] = struct{}{}
			}
		}

		var target *group
		switch len(touched) {
		case 0:
			target = s.nearest(p, c, groups, groupFor)
			if target == nil {
				target = &group{centroid: c.Centroid}
				groups = append(groups, target)
			}
		case 1:
			for g := range touched {
				target = g
			}
		default:
			slices.Sort(owners)
			incidents = append(incidents, fmt.Errorf("cluster %s spans events %v: %w",
				c.ID, owners, domain.ErrInconsistentMergeState))
			continue
		}

		target.clusters = append(target.clusters, c)
		for _, m := range c.Members {
			claimed[m.ID] = target
		}
	}
	return groups, incidents
}

func (s *Store) nearest(p *partition, c domain.Cluster, pending []*group, groupFor func(string) *group) *group {
	bestID, bestDist := "", math.Inf(1)
	for _, id := range p.sortedIDs() {
		ev := p.events[id]
		if ev.Status == domain.StatusExpired {
			continue
		}
		d := domain.DistanceMeters(ev.Centroid, c.Centroid)
		if d <= s.cfg.MergeRadiusMeters && d < bestDist {
			bestID, bestDist = id, d
		}
	}
	if bestID != "" {
		return groupFor(bestID)
	}

	var best *group
	bestDist = math.Inf(1)
	for _, g := range pending {
		if g.eventID != "" {
			continue
		}
		d := domain.DistanceMeters(g.centroid, c.Centroid)
		if d <= s.cfg.MergeRadiusMeters && d < bestDist {
			best, bestDist = g, d
		}
	}
	return best
}

// apply builds the next state of one event on a copy, validates it and
// commits it. Observations already older than the expiry window are not
// evidence. It reports false when the group carried no new evidence.
func (s *Store) apply(p *partition, g *group, now time.Time) (Change, bool, error) {
	var (
		next     domain.FireEvent
		prev     *domain.FireEvent
		existing = g.eventID != ""
	)
	if existing {
		prev = p.events[g.eventID]
		next = prev.Clone()
	} else {
		next = domain.FireEvent{Region: p.region, Status: domain.StatusActive}
	}

	have := make(map[string]struct{}, len(next.Evidence))
	for _, o := range next.Evidence {
		have[o.ID] = struct{}{}
	}
	var fresh []domain.Observation
	for _, c := range g.clusters {
		for _, m := range c.Members {
			if _, ok := have[m.ID]; ok {
				continue
			}
			if now.Sub(m.Time) >= s.cfg.ExpireAfter {
				continue
			}
			have[m.ID] = struct{}{}
			fresh = append(fresh, m.Clone())
		}
	}
	if len(fresh) == 0 {
		return Change{}, false, nil
	}
	slices.SortFunc(fresh, func(a, b domain.Observation) int { return strings.Compare(a.ID, b.ID) })

	incoming := domain.WeightedCentroid(geos(fresh), weights(fresh))
	if existing {
		incomingConf := s.scorer.Score(fresh, now)
		next.Centroid = domain.WeightedCentroid(
			[]domain.Geo{next.Centroid, incoming},
			[]float64{next.Confidence * (1 - s.cfg.RecencyBias), incomingConf * s.cfg.RecencyBias},
		)
	} else {
		next.ID = s.newID()
		next.Centroid = incoming
		next.FirstSeen = fresh[0].Time
		next.LastSeen = fresh[0].Time
	}

	var pruned []string
	evidence := make([]domain.Observation, 0, len(next.Evidence)+len(fresh))
	for _, o := range next.Evidence {
		if now.Sub(o.Time) >= s.cfg.ExpireAfter {
			pruned = append(pruned, o.ID)
			continue
		}
		evidence = append(evidence, o)
	}
	evidence = append(evidence, fresh...)
	slices.SortFunc(evidence, func(a, b domain.Observation) int { return strings.Compare(a.ID, b.ID) })
	next.Evidence = evidence

	next.Confidence = s.scorer.Score(evidence, now)
	next.RadiusMeters = math.Max(s.cfg.MinRadiusMeters, domain.MaxDistanceMeters(next.Centroid, geos(evidence)))

	sources := make(map[domain.Source]struct{})
	for _, src := range next.ContributingSources {
		sources[src] = struct{}{}
	}
	for _, o := range fresh {
		sources[o.Source] = struct{}{}
		if o.Time.Before(next.FirstSeen) {
			next.FirstSeen = o.Time
		}
		if o.Time.After(next.LastSeen) {
			next.LastSeen = o.Time
		}
		next.MaxFRP = math.Max(next.MaxFRP, o.FRP())
	}
	next.ContributingSources = sortedSources(sources)
	next.ObservationCount += len(fresh)
	next.Intensity = domain.Intensity(next.MaxFRP)

	prevStatus := next.Status
	next.Status = s.statusFor(next, now)
	if next.Status != domain.StatusActive {
		next.PredictedSpread = nil
	}
	next.UpdatedAt = now
	historyLen := len(next.History)
	next.History = append(next.History, next.Snapshot(now))

	if err := s.validate(&next, historyLen, p.owners); err != nil {
		return Change{}, false, err
	}

	p.events[next.ID] = &next
	for _, id := range pruned {
		delete(p.owners, id)
	}
	for _, o := range fresh {
		p.owners[o.ID] = next.ID
	}

	kind := ChangeUpdated
	switch {
	case !existing:
		kind = ChangeCreated
	case prevStatus == domain.StatusCooling && next.Status == domain.StatusActive:
		kind = ChangeReactivated
	}
	return Change{Event: publishable(next), Kind: kind}, true, nil
}

// validate checks the invariants a committed event must hold.
func (s *Store) validate(ev *domain.FireEvent, historyLen int, owners map[string]string) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("event %s: %w: %s", ev.ID, domain.ErrInconsistentMergeState, fmt.Sprintf(format, args...))
	}
	switch {
	case ev.ID == "":
		return fail("empty id")
	case !domain.ValidCoordinates(ev.Centroid.Lat, ev.Centroid.Lon):
		return fail("centroid %v out of range", ev.Centroid)
	case math.IsNaN(ev.RadiusMeters) || math.IsInf(ev.RadiusMeters, 0) || ev.RadiusMeters < 0:
		return fail("radius %v", ev.RadiusMeters)
	case math.IsNaN(ev.Confidence) || ev.Confidence < 0 || ev.Confidence > 1:
		return fail("confidence %v", ev.Confidence)
	case ev.LastSeen.Before(ev.FirstSeen):
		return fail("last seen %s before first seen %s", ev.LastSeen, ev.FirstSeen)
	case len(ev.History) != historyLen+1:
		return fail("history has %d entries, want %d", len(ev.History), historyLen+1)
	}
	for _, o := range ev.Evidence {
		if owner, ok := owners[o.ID]; ok && owner != ev.ID {
			return fail("observation %s already belongs to %s", o.ID, owner)
		}
	}
	return nil
}

// statusFor derives the lifecycle state from the silence since the last
// corroborating observation. Both thresholds are inclusive.
func (s *Store) statusFor(ev domain.FireEvent, now time.Time) domain.Status {
	silence := now.Sub(ev.LastSeen)
	switch {
	case silence >= s.cfg.ExpireAfter:
		return domain.StatusExpired
	case silence >= s.cfg.CoolAfter:
		return domain.StatusCooling
	default:
		return domain.StatusActive
	}
}

// advance rescores every event, records status transitions and retires
// expired events to the archive. An event that is already EXPIRED without a
// recorded transition is retired too. A cooling event drops its prediction;
// predictions are only refreshed for active events.
func (s *Store) advance(ctx context.Context, p *partition, now time.Time) []Change {
	s.retryRetired(ctx, p)

	var changes []Change
	for _, id := range p.sortedIDs() {
		ev := p.events[id]
		if conf := s.scorer.Score(ev.Evidence, now); !math.IsNaN(conf) {
			ev.Confidence = conf
		}

		status := s.statusFor(*ev, now)
		transitioned := status != ev.Status
		if !transitioned && status != domain.StatusExpired {
			continue
		}
		if transitioned {
			ev.Status = status
			ev.UpdatedAt = now
			ev.PredictedSpread = nil
			ev.History = append(ev.History, ev.Snapshot(now))
		}

		if status != domain.StatusExpired {
			changes = append(changes, Change{Event: publishable(*ev), Kind: ChangeCooled})
			continue
		}

		ev.PredictedSpread = nil
		if transitioned {
			changes = append(changes, Change{Event: publishable(*ev), Kind: ChangeExpired})
		}
		s.retire(ctx, p, ev)
	}
	return changes
}

func (s *Store) retire(ctx context.Context, p *partition, ev *domain.FireEvent) {
	delete(p.events, ev.ID)
	for _, o := range ev.Evidence {
		if p.owners[o.ID] == ev.ID {
			delete(p.owners, o.ID)
		}
	}

	record := publishable(*ev)
	if err := s.archive.Put(ctx, record); err != nil {
		s.logger.Warn("archive write failed, will retry",
			"event_id", ev.ID, "region", p.region, "error", err)
		p.retired = append(p.retired, record)
		return
	}
	s.logger.Info("event expired", "event_id", ev.ID, "region", p.region, "observations", ev.ObservationCount)
}

func (s *Store) retryRetired(ctx context.Context, p *partition) {
	if len(p.retired) == 0 {
		return
	}
	kept := p.retired[:0]
	for _, ev := range p.retired {
		if err := s.archive.Put(ctx, ev); err != nil {
			kept = append(kept, ev)
		}
	}
	p.retired = kept
}

// collapse keeps the last change per event while preserving first-touch
// order, so an event created and then advanced in the same call is reported
// once in its final state.
func collapse(changes []Change) []Change {
	idx := make(map[string]int, len(changes))
	out := changes[:0:0]
	for _, c := range changes {
		if i, ok := idx[c.Event.ID]; ok {
			kind := out[i].Kind
			out[i] = c
			if kind == ChangeCreated {
				out[i].Kind = ChangeCreated
			}
			continue
		}
		idx[c.Event.ID] = len(out)
		out = append(out, c)
	}
	return out
}

func publishable(ev domain.FireEvent) domain.FireEvent {
	c := ev.Clone()
	c.Evidence = nil
	return c
}

func geos(obs []domain.Observation) []domain.Geo {
	out := make([]domain.Geo, len(obs))
	for i := range obs {
		out[i] = obs[i].Geo()
	}
	return out
}

// weights gives each observation its own reliability as a centroid weight.
func weights(obs []domain.Observation) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		switch {
		case o.Satellite != nil:
			out[i] = o.Satellite.Confidence
		case o.Report != nil:
			out[i] = o.Report.TrustValue()
		default:
			out[i] = 1
		}
	}
	return out
}

func sortedSources(set map[domain.Source]struct{}) []domain.Source {
	out := make([]domain.Source, 0, len(set))
	for src := range set {
		out = append(out, src)
	}
	slices.Sort(out)
	return out
}
