package domain

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a fire event.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusCooling Status = "COOLING"
	StatusExpired Status = "EXPIRED"
)

// FRPStats summarizes fire radiative power across satellite members.
type FRPStats struct {
	Total float64 `json:"total_mw"`
	Mean  float64 `json:"mean_mw"`
	Max   float64 `json:"max_mw"`
	Count int     `json:"count"`
}

// Intensity buckets a max FRP reading.
func Intensity(maxFRP float64) string {
	switch {
	case maxFRP >= 100:
		return "extreme"
	case maxFRP >= 50:
		return "high"
	case maxFRP >= 20:
		return "moderate"
	default:
		return "low"
	}
}

// ComputeFRPStats aggregates FRP over observations that carry it.
func ComputeFRPStats(obs []Observation) FRPStats {
	var s FRPStats
	for i := range obs {
		if obs[i].Satellite == nil || obs[i].Satellite.FRP == nil {
			continue
		}
		v := *obs[i].Satellite.FRP
		s.Total += v
		s.Count++
		if v > s.Max {
			s.Max = v
		}
	}
	if s.Count > 0 {
		s.Mean = s.Total / float64(s.Count)
	}
	return s
}

// Cluster is a transient group of observations believed to be one fire,
// produced by a single clustering pass.
type Cluster struct {
	ID           string        `json:"id"`
	Members      []Observation `json:"members"` // sorted by ID
	Centroid     Geo           `json:"centroid"`
	RadiusMeters float64       `json:"radius_m"`
	Earliest     time.Time     `json:"earliest"`
	Latest       time.Time     `json:"latest"`
	Sources      []Source      `json:"sources"`
	FRP          FRPStats      `json:"frp"`
	Confidence   float64       `json:"confidence"`
}

// HistoryEntry is one point in a fire event's append-only history.
type HistoryEntry struct {
	At               time.Time `json:"at"`
	Centroid         Geo       `json:"centroid"`
	RadiusMeters     float64   `json:"radius_m"`
	Confidence       float64   `json:"confidence"`
	Status           Status    `json:"status"`
	ObservationCount int       `json:"observation_count"`
}

// SpreadPrediction is a short-horizon elliptical growth estimate.
type SpreadPrediction struct {
	HeadingDegrees      float64       `json:"heading_degrees"` // direction of travel, clockwise from north
	VectorEastMeters    float64       `json:"vector_east_m"`
	VectorNorthMeters   float64       `json:"vector_north_m"`
	RadiusGrowthMeters  float64       `json:"radius_growth_m"` // head-fire growth over the horizon
	FlankGrowthMeters   float64       `json:"flank_growth_m"`
	BackGrowthMeters    float64       `json:"back_growth_m"`
	LengthToBreadth     float64       `json:"length_to_breadth"`
	RateMetersPerMinute float64       `json:"rate_m_per_min"`
	HeadPoint           Geo           `json:"head_point"`
	Horizon             time.Duration `json:"horizon"`
	PredictedAt         time.Time     `json:"predicted_at"`
	WeatherSource       string        `json:"weather_source"`
}

// FireEvent is the durable, deduplicated representation of one fire.
type FireEvent struct {
	ID                  string            `json:"id"`
	Region              string            `json:"region"`
	Centroid            Geo               `json:"centroid"`
	RadiusMeters        float64           `json:"radius_m"`
	Status              Status            `json:"status"`
	Confidence          float64           `json:"confidence"`
	FirstSeen           time.Time         `json:"first_seen"`
	LastSeen            time.Time         `json:"last_seen"`
	ContributingSources []Source          `json:"contributing_sources"`
	ObservationCount    int               `json:"observation_count"`
	MaxFRP              float64           `json:"max_frp_mw"`
	Intensity           string            `json:"intensity"`
	History             []HistoryEntry    `json:"history"`
	PredictedSpread     *SpreadPrediction `json:"predicted_spread,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at"`

	// Evidence is the retained set of observations backing the event, sorted
	// by ID. It is internal state and is not published.
	Evidence []Observation `json:"-"`
}

// Clone returns a deep copy so callers never alias store state.
func (e FireEvent) Clone() FireEvent {
	c := e
	c.ContributingSources = slices.Clone(e.ContributingSources)
	c.History = slices.Clone(e.History)
	if e.PredictedSpread != nil {
		p := *e.PredictedSpread
		c.PredictedSpread = &p
	}
	if e.Evidence != nil {
		c.Evidence = make([]Observation, len(e.Evidence))
		for i := range e.Evidence {
			c.Evidence[i] = e.Evidence[i].Clone()
		}
	}
	return c
}

// HasSource reports whether src contributed to the event.
func (e FireEvent) HasSource(src Source) bool {
	return slices.Contains(e.ContributingSources, src)
}

// Snapshot builds the history entry describing the event's current state.
func (e FireEvent) Snapshot(at time.Time) HistoryEntry {
	return HistoryEntry{
		At:               at,
		Centroid:         e.Centroid,
		RadiusMeters:     e.RadiusMeters,
		Confidence:       e.Confidence,
		Status:           e.Status,
		ObservationCount: e.ObservationCount,
	}
}

// Completeness describes how much of the expected input a cycle actually had.
type Completeness struct {
	Degraded            bool     `json:"degraded"`
	UpstreamFailures    []string `json:"upstream_failures,omitempty"`
	WeatherMisses       int      `json:"weather_misses"`
	InvalidObservations int      `json:"invalid_observations"`
}

// MarkUpstream records an unavailable upstream and flags the cycle degraded.
func (c *Completeness) MarkUpstream(name string) {
	c.Degraded = true
	if !slices.Contains(c.UpstreamFailures, name) {
		c.UpstreamFailures = append(c.UpstreamFailures, name)
	}
}
