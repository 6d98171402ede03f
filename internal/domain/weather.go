package domain

import (
	"context"
	"math"
	"time"
)

// Weather is the wind and humidity context used for spread prediction.
type Weather struct {
	Location             Geo       `json:"location"`
	WindSpeedKmh         float64   `json:"wind_speed_kmh"`
	WindDirectionDegrees float64   `json:"wind_direction_degrees"` // direction the wind blows from
	HumidityPercent      float64   `json:"humidity_percent"`
	TemperatureCelsius   *float64  `json:"temperature_celsius,omitempty"`
	ObservedAt           time.Time `json:"observed_at"`
	Source               string    `json:"source"`
}

// Valid reports whether the sample is physically plausible.
func (w Weather) Valid() bool {
	for _, v := range []float64{w.WindSpeedKmh, w.WindDirectionDegrees, w.HumidityPercent} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return w.WindSpeedKmh >= 0 && w.WindSpeedKmh <= 400 &&
		w.HumidityPercent >= 0 && w.HumidityPercent <= 100
}

// WeatherLookup fetches current weather near a point.
type WeatherLookup interface {
	LookupWeather(ctx context.Context, at Geo, when time.Time) (Weather, error)
}
