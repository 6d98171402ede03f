// Package spread estimates short-horizon fire growth from wind and humidity.
//
// The model is an elliptical heuristic: a base rate of spread scaled up by
// wind and down by humidity, an ellipse whose length-to-breadth ratio follows
// Anderson's (1983) wind relation, and a head fire that travels downwind.
package spread

import (
	"math"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
)

// Config holds the spread model parameters.
type Config struct {
	Horizon time.Duration

	// BaseRate is the no-wind rate of spread at the reference humidity, in
	// meters per minute.
	BaseRate float64
	// MaxRate caps the head-fire rate of spread, in meters per minute.
	MaxRate float64
	// WindFactor is the fractional rate increase per m/s of wind.
	WindFactor float64
	// ReferenceHumidity is the humidity (percent) at which humidity has no effect.
	ReferenceHumidity float64
	// MinHumidity floors humidity so very dry air cannot blow the rate up.
	MinHumidity float64
	// MaxLengthToBreadth caps the ellipse elongation.
	MaxLengthToBreadth float64
}

// DefaultConfig returns grassland-scale defaults with a six hour horizon.
func DefaultConfig() Config {
	return Config{
		Horizon:            6 * time.Hour,
		BaseRate:           0.5,
		MaxRate:            100,
		WindFactor:         0.35,
		ReferenceHumidity:  40,
		MinHumidity:        5,
		MaxLengthToBreadth: 8,
	}
}

// Predictor produces spread predictions.
type Predictor struct {
	cfg Config
}

// New creates a Predictor. Non-positive parameters select the defaults.
func New(cfg Config) *Predictor {
	def := DefaultConfig()
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = def.BaseRate
	}
	if cfg.MaxRate <= 0 {
		cfg.MaxRate = def.MaxRate
	}
	if cfg.WindFactor < 0 {
		cfg.WindFactor = def.WindFactor
	}
	if cfg.ReferenceHumidity <= 0 {
		cfg.ReferenceHumidity = def.ReferenceHumidity
	}
	if cfg.MinHumidity <= 0 {
		cfg.MinHumidity = def.MinHumidity
	}
	if cfg.MaxLengthToBreadth < 1 {
		cfg.MaxLengthToBreadth = def.MaxLengthToBreadth
	}
	return &Predictor{cfg: cfg}
}

// Predict estimates how the event will grow over the horizon. It returns
// false when weather is missing or implausible; callers must treat that as
// "no prediction", never as an error.
func (p *Predictor) Predict(event domain.FireEvent, w *domain.Weather, now time.Time) (domain.SpreadPrediction, bool) {
	if w == nil || !w.Valid() {
		return domain.SpreadPrediction{}, false
	}

	windMS := w.WindSpeedKmh / 3.6
	humidity := math.Max(w.HumidityPercent, p.cfg.MinHumidity)
	humidityFactor := clamp(p.cfg.ReferenceHumidity/humidity, 0.25, 4)
	rate := clamp(p.cfg.BaseRate*(1+p.cfg.WindFactor*windMS)*humidityFactor, 0, p.cfg.MaxRate)

	lb := p.lengthToBreadth(w.WindSpeedKmh)
	head := rate * p.cfg.Horizon.Minutes()
	ecc := math.Sqrt(lb*lb-1) / lb
	back := head * (1 - ecc) / (1 + ecc)
	flank := (head + back) / (2 * lb)

	heading := domain.NormalizeBearing(w.WindDirectionDegrees + 180)
	rad := heading * math.Pi / 180

	return domain.SpreadPrediction{
		HeadingDegrees:      heading,
		VectorEastMeters:    head * math.Sin(rad),
		VectorNorthMeters:   head * math.Cos(rad),
		RadiusGrowthMeters:  head,
		FlankGrowthMeters:   flank,
		BackGrowthMeters:    back,
		LengthToBreadth:     lb,
		RateMetersPerMinute: rate,
		HeadPoint:           domain.Destination(event.Centroid, heading, event.RadiusMeters+head),
		Horizon:             p.cfg.Horizon,
		PredictedAt:         now,
		WeatherSource:       w.Source,
	}, true
}

// lengthToBreadth applies Anderson's relation with wind in mph.
func (p *Predictor) lengthToBreadth(windKmh float64) float64 {
	u := windKmh * 0.621371
	lb := 0.936*math.Exp(0.2566*u) + 0.461*math.Exp(-0.1548*u) - 0.397
	return clamp(lb, 1, p.cfg.MaxLengthToBreadth)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
