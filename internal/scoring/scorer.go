// Package scoring turns corroborating evidence into a fire confidence.
package scoring

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
)

// Weights balance the evidence channels. They are normalized by their sum,
// so only their ratios matter.
type Weights struct {
	Satellite float64
	Reports   float64
	Diversity float64
}

// Config holds the tunable scoring parameters.
type Config struct {
	Weights         Weights
	RecencyHalfLife time.Duration

	// SensorBias scales satellite confidence by instrument. Instruments not
	// listed use 1.
	SensorBias map[string]float64

	// CrowdCeiling caps the report channel at this multiple of the most
	// trusted single report, so many low-trust reports cannot add up to
	// certainty.
	CrowdCeiling float64

	// NegationWeight scales how strongly a trailing "extinguished" report
	// pulls the report channel below zero.
	NegationWeight float64
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{
		Weights:         Weights{Satellite: 0.5, Reports: 0.3, Diversity: 0.2},
		RecencyHalfLife: 12 * time.Hour,
		SensorBias:      map[string]float64{"VIIRS": 1.0, "MODIS": 0.9},
		CrowdCeiling:    1.5,
		NegationWeight:  1.0,
	}
}

// Breakdown explains a confidence score channel by channel.
type Breakdown struct {
	Satellite  float64       `json:"satellite"`
	Reports    float64       `json:"reports"` // negative when the latest report says the fire is out
	Diversity  float64       `json:"diversity"`
	Base       float64       `json:"base"`
	Decay      float64       `json:"decay"`
	Age        time.Duration `json:"age"`
	Confidence float64       `json:"confidence"`
}

// Scorer cross-validates evidence from independent channels.
type Scorer struct {
	cfg Config
}

// New creates a Scorer. Zero or negative parameters select the defaults.
func New(cfg Config) *Scorer {
	def := DefaultConfig()
	w := cfg.Weights
	if w.Satellite < 0 || w.Reports < 0 || w.Diversity < 0 || w.Satellite+w.Reports+w.Diversity <= 0 {
		cfg.Weights = def.Weights
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = def.RecencyHalfLife
	}
	if cfg.SensorBias == nil {
		cfg.SensorBias = def.SensorBias
	}
	if cfg.CrowdCeiling < 1 {
		cfg.CrowdCeiling = def.CrowdCeiling
	}
	if cfg.NegationWeight < 0 {
		cfg.NegationWeight = def.NegationWeight
	}
	return &Scorer{cfg: cfg}
}

// Score returns the confidence in [0, 1] that the observations describe an
// active fire as of now.
func (s *Scorer) Score(observations []domain.Observation, now time.Time) float64 {
	return s.Explain(observations, now).Confidence
}

// ScoreCluster scores a cluster's members.
func (s *Scorer) ScoreCluster(c domain.Cluster, now time.Time) float64 {
	return s.Score(c.Members, now)
}

// Explain scores observations and reports each channel's contribution.
//
// Within a channel the most recent observation dominates: when it is a
// negation the channel resolves negative, otherwise only positive evidence
// after the last negation counts. Adding corroborating evidence never lowers
// the score.
func (s *Scorer) Explain(observations []domain.Observation, now time.Time) Breakdown {
	var sat, rpt []domain.Observation
	for i := range observations {
		switch observations[i].Source {
		case domain.SourceSatellite:
			sat = append(sat, observations[i])
		case domain.SourceUserReport:
			rpt = append(rpt, observations[i])
		}
	}

	satPos, satLatest := s.satelliteChannel(sat)
	rptVal, rptLatest := s.reportChannel(rpt)

	var b Breakdown
	b.Satellite = satPos
	b.Reports = rptVal

	positive := 0
	if satPos > 0 {
		positive++
	}
	if rptVal > 0 {
		positive++
	}
	if positive > 1 {
		b.Diversity = 1
	}

	w := s.cfg.Weights
	total := w.Satellite + w.Reports + w.Diversity
	b.Base = (w.Satellite*b.Satellite + w.Reports*b.Reports + w.Diversity*b.Diversity) / total

	latest := satLatest
	if rptLatest.After(latest) {
		latest = rptLatest
	}
	if latest.IsZero() {
		return b
	}
	b.Age = max(now.Sub(latest), 0)
	b.Decay = math.Exp2(-b.Age.Hours() / s.cfg.RecencyHalfLife.Hours())
	b.Confidence = clamp01(b.Base * b.Decay)
	return b
}

// satelliteChannel combines detections with a noisy-OR over bias-adjusted
// confidences. It returns the channel value and the latest contributing time.
func (s *Scorer) satelliteChannel(obs []domain.Observation) (float64, time.Time) {
	miss := 1.0
	var latest time.Time
	for _, o := range obs {
		if o.Satellite == nil {
			continue
		}
		p := clamp01(o.Satellite.Confidence * s.bias(o.Satellite.Instrument))
		miss *= 1 - p
		if p > 0 && o.Time.After(latest) {
			latest = o.Time
		}
	}
	return clamp01(1 - miss), latest
}

// reportChannel resolves citizen reports. A trailing negation yields a
// negative value scaled by its trust; otherwise positive reports after the
// last negation combine by noisy-OR under the crowd ceiling.
func (s *Scorer) reportChannel(obs []domain.Observation) (float64, time.Time) {
	if len(obs) == 0 {
		return 0, time.Time{}
	}
	ordered := slices.Clone(obs)
	slices.SortFunc(ordered, func(a, b domain.Observation) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	last := ordered[len(ordered)-1]
	if last.Negates() {
		return -clamp01(last.Report.TrustValue() * s.cfg.NegationWeight), time.Time{}
	}

	start := 0
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].Negates() {
			start = i + 1
			break
		}
	}

	miss := 1.0
	var maxTrust float64
	var latest time.Time
	for _, o := range ordered[start:] {
		trust := clamp01(o.Report.TrustValue())
		miss *= 1 - trust
		maxTrust = max(maxTrust, trust)
		if trust > 0 && o.Time.After(latest) {
			latest = o.Time
		}
	}
	return math.Min(1-miss, clamp01(maxTrust*s.cfg.CrowdCeiling)), latest
}

func (s *Scorer) bias(instrument string) float64 {
	if b, ok := s.cfg.SensorBias[strings.ToUpper(instrument)]; ok {
		return b
	}
	return 1
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
