// Package cluster groups fire evidence that is close in both space and time.
package cluster

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
)

// Defaults for the link thresholds.
const (
	DefaultRadiusMeters = 2000
	DefaultWindow       = 6 * time.Hour
)

// Config holds the linking thresholds.
type Config struct {
	RadiusMeters float64
	Window       time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{RadiusMeters: DefaultRadiusMeters, Window: DefaultWindow}
}

// Clusterer partitions observations into spatiotemporal clusters.
type Clusterer struct {
	cfg Config
}

// New creates a Clusterer. Non-positive thresholds select the defaults.
func New(cfg Config) *Clusterer {
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = DefaultRadiusMeters
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Clusterer{cfg: cfg}
}

// Config returns the effective thresholds.
func (c *Clusterer) Config() Config {
	return c.cfg
}

// Cluster groups observations into clusters. Two observations link when they
// are within the radius and within the time window of each other; clusters
// are the connected components of that relation, split further when a
// component outgrows the radius or the window.
//
// Weather observations, observations older than now minus the window, and
// observations already owned by one of the existing events are skipped.
// The result does not depend on input order: observations are arranged by
// ID and clusters are returned sorted by ID.
func (c *Clusterer) Cluster(observations []domain.Observation, existing []domain.FireEvent, now time.Time) []domain.Cluster {
	arena := c.arena(observations, existing, now)
	if len(arena) == 0 {
		return nil
	}

	g := newGrid(c.cfg.RadiusMeters)
	for i := range arena {
		g.insert(i, arena[i].Lat, arena[i].Lon)
	}

	uf := newUnionFind(len(arena))
	for i := range arena {
		g.neighbors(arena[i].Lat, arena[i].Lon, c.cfg.RadiusMeters, func(j int) {
			if j <= i {
				return
			}
			if c.linked(arena[i], arena[j]) {
				uf.union(i, j)
			}
		})
	}

	var clusters []domain.Cluster
	for _, component := range uf.components() {
		for _, group := range c.refine(arena, component) {
			clusters = append(clusters, build(arena, group))
		}
	}
	slices.SortFunc(clusters, func(a, b domain.Cluster) int {
		return strings.Compare(a.ID, b.ID)
	})
	return clusters
}

// arena filters and deduplicates the input, sorted by observation ID.
func (c *Clusterer) arena(observations []domain.Observation, existing []domain.FireEvent, now time.Time) []domain.Observation {
	owned := make(map[string]struct{})
	for i := range existing {
		for j := range existing[i].Evidence {
			owned[existing[i].Evidence[j].ID] = struct{}{}
		}
	}

	horizon := now.Add(-c.cfg.Window)
	seen := make(map[string]int, len(observations))
	arena := make([]domain.Observation, 0, len(observations))
	for i := range observations {
		o := observations[i]
		if !o.Source.IsEvidence() || o.Time.Before(horizon) {
			continue
		}
		if _, ok := owned[o.ID]; ok {
			continue
		}
		if j, ok := seen[o.ID]; ok {
			if supersedes(o, arena[j]) {
				arena[j] = o
			}
			continue
		}
		seen[o.ID] = len(arena)
		arena = append(arena, o)
	}
	slices.SortFunc(arena, func(a, b domain.Observation) int {
		return strings.Compare(a.ID, b.ID)
	})
	return arena
}

// supersedes picks between two observations sharing an ID: the later one
// wins, then the larger coordinates, then the larger rendering.
func supersedes(a, b domain.Observation) bool {
	if c := a.Time.Compare(b.Time); c != 0 {
		return c > 0
	}
	if c := cmp.Compare(a.Lat, b.Lat); c != 0 {
		return c > 0
	}
	if c := cmp.Compare(a.Lon, b.Lon); c != 0 {
		return c > 0
	}
	return describe(a) > describe(b)
}

func describe(o domain.Observation) string {
	s := string(o.Source)
	switch {
	case o.Satellite != nil:
		s += fmt.Sprintf("|%s|%s|%g", o.Satellite.Instrument, o.Satellite.ConfidenceCode, o.Satellite.Confidence)
	case o.Report != nil:
		s += fmt.Sprintf("|%s|%s|%g", o.Report.ReporterID, o.Report.Status, o.Report.TrustValue())
	}
	return s
}

func (c *Clusterer) linked(a, b domain.Observation) bool {
	dt := a.Time.Sub(b.Time)
	if dt < 0 {
		dt = -dt
	}
	if dt > c.cfg.Window {
		return false
	}
	return domain.DistanceMeters(a.Geo(), b.Geo()) <= c.cfg.RadiusMeters
}

// refine splits a component whose bounding radius exceeds the link radius or
// whose time span exceeds the window, as happens with chains of
// observations. Anchors are taken most recent first and claim every
// remaining member within half the radius, so each resulting group fits
// inside the radius.
func (c *Clusterer) refine(arena []domain.Observation, component []int) [][]int {
	if len(component) == 1 || (radiusOf(arena, component) <= c.cfg.RadiusMeters && spanOf(arena, component) <= c.cfg.Window) {
		return [][]int{component}
	}

	remaining := slices.Clone(component)
	slices.SortFunc(remaining, func(a, b int) int {
		if r := arena[b].Time.Compare(arena[a].Time); r != 0 {
			return r
		}
		return cmp.Compare(a, b)
	})

	reach := c.cfg.RadiusMeters / 2
	var groups [][]int
	for len(remaining) > 0 {
		anchor := arena[remaining[0]]
		var group, rest []int
		for _, idx := range remaining {
			if domain.DistanceMeters(anchor.Geo(), arena[idx].Geo()) <= reach && c.linked(anchor, arena[idx]) {
				group = append(group, idx)
			} else {
				rest = append(rest, idx)
			}
		}
		slices.Sort(group)
		groups = append(groups, group)
		remaining = rest
	}
	return groups
}

func radiusOf(arena []domain.Observation, members []int) float64 {
	points := make([]domain.Geo, len(members))
	for i, idx := range members {
		points[i] = arena[idx].Geo()
	}
	return domain.MaxDistanceMeters(domain.Centroid(points), points)
}

func spanOf(arena []domain.Observation, members []int) time.Duration {
	earliest, latest := arena[members[0]].Time, arena[members[0]].Time
	for _, idx := range members[1:] {
		t := arena[idx].Time
		if t.Before(earliest) {
			earliest = t
		}
		if t.After(latest) {
			latest = t
		}
	}
	return latest.Sub(earliest)
}

func build(arena []domain.Observation, members []int) domain.Cluster {
	obs := make([]domain.Observation, len(members))
	points := make([]domain.Geo, len(members))
	ids := make([]string, len(members))
	sources := make(map[domain.Source]struct{})
	var earliest, latest time.Time
	for i, idx := range members {
		o := arena[idx]
		obs[i] = o.Clone()
		points[i] = o.Geo()
		ids[i] = o.ID
		sources[o.Source] = struct{}{}
		if earliest.IsZero() || o.Time.Before(earliest) {
			earliest = o.Time
		}
		if o.Time.After(latest) {
			latest = o.Time
		}
	}

	centroid := domain.Centroid(points)
	return domain.Cluster{
		ID:           clusterID(ids),
		Members:      obs,
		Centroid:     centroid,
		RadiusMeters: domain.MaxDistanceMeters(centroid, points),
		Earliest:     earliest,
		Latest:       latest,
		Sources:      sortedSources(sources),
		FRP:          domain.ComputeFRPStats(obs),
	}
}

// clusterID hashes the sorted member IDs, so the same members always produce
// the same cluster ID.
func clusterID(memberIDs []string) string {
	hash := sha256.Sum256([]byte(strings.Join(memberIDs, "|")))
	return "cl-" + hex.EncodeToString(hash[:8])
}

// sortedSources returns the set as a sorted slice.
func sortedSources(set map[domain.Source]struct{}) []domain.Source {
	out := make([]domain.Source, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
