package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Source tags the kind of evidence an observation carries.
type Source string

const (
	SourceSatellite  Source = "SATELLITE"
	SourceUserReport Source = "USER_REPORT"
	SourceWeather    Source = "WEATHER"
)

// ParseSource accepts the canonical tags plus the lowercase aliases used by
// the collectors ("satellite", "report", "user_report", "weather").
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "satellite", "firms", "hotspot":
		return SourceSatellite, nil
	case "user_report", "report", "citizen":
		return SourceUserReport, nil
	case "weather":
		return SourceWeather, nil
	}
	return "", invalidf("unknown source %q", s)
}

// IsEvidence reports whether observations of this source count as fire
// evidence. Weather only feeds the spread predictor.
func (s Source) IsEvidence() bool {
	return s == SourceSatellite || s == SourceUserReport
}

// ReportStatus is what a citizen says they are seeing.
type ReportStatus string

const (
	ReportFire         ReportStatus = "fire"
	ReportSmoke        ReportStatus = "smoke"
	ReportExtinguished ReportStatus = "extinguished"
)

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point converts to an orb point (lon, lat order).
func (g Geo) Point() orb.Point {
	return orb.Point{g.Lon, g.Lat}
}

// GeoFromPoint converts an orb point back to a Geo.
func GeoFromPoint(p orb.Point) Geo {
	return Geo{Lat: p.Lat(), Lon: p.Lon()}
}

// SatelliteDetail carries the hotspot-specific fields of a satellite detection.
type SatelliteDetail struct {
	ConfidenceCode string   `json:"confidence_code,omitempty"` // raw provider value, "h"/"n"/"l" or "0".."100"
	Confidence     float64  `json:"confidence"`                // normalized 0..1
	Brightness     *float64 `json:"brightness_kelvin,omitempty"`
	FRP            *float64 `json:"frp_mw,omitempty"`
	Satellite      string   `json:"satellite,omitempty"`
	Instrument     string   `json:"instrument,omitempty"`
	DayNight       string   `json:"daynight,omitempty"`
}

// ReportDetail carries the fields of a citizen report.
type ReportDetail struct {
	Trust      *float64     `json:"trust,omitempty"` // 0..1, defaulted during normalization
	Status     ReportStatus `json:"status"`
	ReporterID string       `json:"reporter_id,omitempty"`
	Text       string       `json:"text,omitempty"`
}

// TrustValue returns the report trust, or 0 when unset.
func (r *ReportDetail) TrustValue() float64 {
	if r == nil || r.Trust == nil {
		return 0
	}
	return *r.Trust
}

// WeatherDetail carries a point weather measurement.
type WeatherDetail struct {
	WindSpeedKmh         *float64 `json:"wind_speed_kmh,omitempty"`
	WindDirectionDegrees *float64 `json:"wind_direction_degrees,omitempty"` // direction the wind blows from
	HumidityPercent      *float64 `json:"humidity_percent,omitempty"`
	TemperatureCelsius   *float64 `json:"temperature_celsius,omitempty"`
	Station              string   `json:"station,omitempty"`
}

// Observation is one normalized piece of evidence. Exactly one of Satellite,
// Report, or Weather is set, matching Source.
type Observation struct {
	ID        string            `json:"id"`
	Source    Source            `json:"source"`
	Lat       float64           `json:"latitude"`
	Lon       float64           `json:"longitude"`
	Time      time.Time         `json:"timestamp"`
	Satellite *SatelliteDetail  `json:"satellite,omitempty"`
	Report    *ReportDetail     `json:"report,omitempty"`
	Weather   *WeatherDetail    `json:"weather,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Geo returns the observation location.
func (o Observation) Geo() Geo {
	return Geo{Lat: o.Lat, Lon: o.Lon}
}

// Negates reports whether the observation says a fire is out.
func (o Observation) Negates() bool {
	return o.Source == SourceUserReport && o.Report != nil && o.Report.Status == ReportExtinguished
}

// FRP returns the fire radiative power in MW, or 0 when not measured.
func (o Observation) FRP() float64 {
	if o.Satellite == nil || o.Satellite.FRP == nil {
		return 0
	}
	return *o.Satellite.FRP
}

// WeatherSample converts a weather observation into a Weather value.
func (o Observation) WeatherSample() (Weather, bool) {
	if o.Source != SourceWeather || o.Weather == nil {
		return Weather{}, false
	}
	d := o.Weather
	if d.WindSpeedKmh == nil || d.WindDirectionDegrees == nil || d.HumidityPercent == nil {
		return Weather{}, false
	}
	return Weather{
		Location:             o.Geo(),
		WindSpeedKmh:         *d.WindSpeedKmh,
		WindDirectionDegrees: *d.WindDirectionDegrees,
		HumidityPercent:      *d.HumidityPercent,
		TemperatureCelsius:   d.TemperatureCelsius,
		ObservedAt:           o.Time,
		Source:               "observation:" + o.ID,
	}, true
}

// Clone returns a deep copy.
func (o Observation) Clone() Observation {
	c := o
	if o.Satellite != nil {
		s := *o.Satellite
		s.Brightness = cloneFloat(o.Satellite.Brightness)
		s.FRP = cloneFloat(o.Satellite.FRP)
		c.Satellite = &s
	}
	if o.Report != nil {
		r := *o.Report
		r.Trust = cloneFloat(o.Report.Trust)
		c.Report = &r
	}
	if o.Weather != nil {
		w := *o.Weather
		w.WindSpeedKmh = cloneFloat(o.Weather.WindSpeedKmh)
		w.WindDirectionDegrees = cloneFloat(o.Weather.WindDirectionDegrees)
		w.HumidityPercent = cloneFloat(o.Weather.HumidityPercent)
		w.TemperatureCelsius = cloneFloat(o.Weather.TemperatureCelsius)
		c.Weather = &w
	}
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

func (o Observation) String() string {
	return fmt.Sprintf("%s %s (%.4f,%.4f) @%s", o.Source, o.ID, o.Lat, o.Lon, o.Time.Format(time.RFC3339))
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// RawObservation represents an unprocessed message from the source topic.
type RawObservation struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Message headers set by the collectors.
const (
	HeaderSource        = "source"
	HeaderRegion        = "region"
	HeaderUpstreamError = "upstream_error"
)

// DefaultRegion is the partition used when a message carries no region header.
const DefaultRegion = "default"

// Region returns the geographic partition the message belongs to.
func (r RawObservation) Region() string {
	if v := strings.TrimSpace(r.Headers[HeaderRegion]); v != "" {
		return v
	}
	return DefaultRegion
}

// UpstreamFailure returns the collector-reported failure carried by a marker
// message, if any. Marker messages carry no observation.
func (r RawObservation) UpstreamFailure() (string, bool) {
	v := strings.TrimSpace(r.Headers[HeaderUpstreamError])
	return v, v != ""
}

// RawHotspotRecord is the flat JSON the FIRMS collector publishes for each
// row of an area CSV export. Values stay strings, as in the CSV.
type RawHotspotRecord struct {
	Latitude   string `json:"latitude"`
	Longitude  string `json:"longitude"`
	BrightTI4  string `json:"bright_ti4"` // VIIRS
	Brightness string `json:"brightness"` // MODIS
	Scan       string `json:"scan"`
	Track      string `json:"track"`
	AcqDate    string `json:"acq_date"` // YYYY-MM-DD
	AcqTime    string `json:"acq_time"` // HHMM UTC
	Satellite  string `json:"satellite"`
	Instrument string `json:"instrument"`
	Confidence string `json:"confidence"`
	FRP        string `json:"frp"`
	DayNight   string `json:"daynight"`
}

// RawReportRecord is a citizen report as published by the reporting app.
type RawReportRecord struct {
	ID          string   `json:"id"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	ReportedAt  string   `json:"reported_at"`
	Trust       *float64 `json:"trust,omitempty"`
	Status      string   `json:"status,omitempty"`
	ReporterID  string   `json:"reporter_id,omitempty"`
	Description string   `json:"description,omitempty"`
}

// RawWeatherRecord is a station or model weather sample.
type RawWeatherRecord struct {
	Latitude             float64  `json:"latitude"`
	Longitude            float64  `json:"longitude"`
	ObservedAt           string   `json:"observed_at"`
	HumidityPercent      *float64 `json:"humidity_percent"`
	WindSpeedKmh         *float64 `json:"wind_speed_kmh"`
	WindDirectionDegrees *float64 `json:"wind_direction_degrees"`
	TemperatureCelsius   *float64 `json:"temperature_celsius,omitempty"`
	Station              string   `json:"station,omitempty"`
}
