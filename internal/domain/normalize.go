package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Normalization defaults.
const (
	DefaultClockSkew   = 5 * time.Minute
	DefaultReportTrust = 0.3
)

// Satellite categorical confidence codes map to the middle of the matching
// MODIS percentage band (low 0-29, nominal 30-79, high 80-100).
var satelliteConfidenceCodes = map[string]float64{
	"l":       0.15,
	"low":     0.15,
	"n":       0.55,
	"nominal": 0.55,
	"h":       0.90,
	"high":    0.90,
}

// Normalizer validates and canonicalizes observations.
type Normalizer struct {
	clockSkew    time.Duration
	defaultTrust float64
}

// NewNormalizer creates a Normalizer. Zero values select the defaults.
func NewNormalizer(clockSkew time.Duration, defaultTrust float64) *Normalizer {
	if clockSkew <= 0 {
		clockSkew = DefaultClockSkew
	}
	if defaultTrust <= 0 || defaultTrust > 1 {
		defaultTrust = DefaultReportTrust
	}
	return &Normalizer{clockSkew: clockSkew, defaultTrust: defaultTrust}
}

// Parse decodes a raw source message and normalizes it. The source tag comes
// from the "source" header, falling back to a "source" field in the payload.
func (n *Normalizer) Parse(raw RawObservation, now time.Time) (Observation, error) {
	src, err := rawSource(raw)
	if err != nil {
		return Observation{}, err
	}

	var obs Observation
	switch src {
	case SourceSatellite:
		obs, err = parseHotspot(raw.Value)
	case SourceUserReport:
		obs, err = parseReport(raw.Value)
	case SourceWeather:
		obs, err = parseWeather(raw.Value)
	}
	if err != nil {
		return Observation{}, err
	}
	return n.Normalize(obs, now)
}

// Normalize validates an observation and puts it in canonical form: UTC
// timestamp, confidence on 0..1, defaulted report trust, wind direction in
// [0, 360), and a deterministic ID. It is pure and idempotent.
func (n *Normalizer) Normalize(obs Observation, now time.Time) (Observation, error) {
	out := obs.Clone()

	switch out.Source {
	case SourceSatellite, SourceUserReport, SourceWeather:
	default:
		return Observation{}, invalidf("unknown source %q", out.Source)
	}
	if !ValidCoordinates(out.Lat, out.Lon) {
		return Observation{}, invalidf("coordinates out of range (%v, %v)", out.Lat, out.Lon)
	}
	if out.Time.IsZero() {
		return Observation{}, invalidf("missing timestamp")
	}
	out.Time = out.Time.UTC()
	if out.Time.After(now.Add(n.clockSkew)) {
		return Observation{}, invalidf("timestamp %s is in the future", out.Time.Format(time.RFC3339))
	}

	if err := n.normalizeDetail(&out); err != nil {
		return Observation{}, err
	}

	if out.ID == "" {
		out.ID = generateObservationID(out)
	}
	return out, nil
}

func (n *Normalizer) normalizeDetail(o *Observation) error {
	set := 0
	for _, present := range []bool{o.Satellite != nil, o.Report != nil, o.Weather != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return invalidf("%s observation carries more than one detail", o.Source)
	}

	switch o.Source {
	case SourceSatellite:
		return normalizeSatellite(o.Satellite)
	case SourceUserReport:
		return n.normalizeReport(o.Report)
	default:
		return normalizeWeather(o.Weather)
	}
}

func normalizeSatellite(d *SatelliteDetail) error {
	if d == nil {
		return invalidf("satellite observation without detail")
	}
	if d.ConfidenceCode != "" {
		c, err := MapSatelliteConfidence(d.ConfidenceCode)
		if err != nil {
			return err
		}
		d.Confidence = c
	} else if math.IsNaN(d.Confidence) || d.Confidence <= 0 || d.Confidence > 1 {
		return invalidf("satellite confidence missing")
	}
	if d.FRP != nil && (*d.FRP < 0 || math.IsNaN(*d.FRP)) {
		return invalidf("negative fire radiative power %v", *d.FRP)
	}
	if d.Brightness != nil && (*d.Brightness <= 0 || math.IsNaN(*d.Brightness)) {
		return invalidf("brightness temperature %v out of range", *d.Brightness)
	}
	d.Instrument = strings.ToUpper(strings.TrimSpace(d.Instrument))
	d.DayNight = strings.ToUpper(strings.TrimSpace(d.DayNight))
	return nil
}

func (n *Normalizer) normalizeReport(d *ReportDetail) error {
	if d == nil {
		return invalidf("user report without detail")
	}
	if d.Trust == nil {
		d.Trust = Float(n.defaultTrust)
	}
	if t := *d.Trust; math.IsNaN(t) || t < 0 || t > 1 {
		return invalidf("report trust %v outside [0,1]", t)
	}
	status := ReportStatus(strings.ToLower(strings.TrimSpace(string(d.Status))))
	switch status {
	case "":
		status = ReportFire
	case ReportFire, ReportSmoke, ReportExtinguished:
	default:
		return invalidf("unknown report status %q", d.Status)
	}
	d.Status = status
	return nil
}

func normalizeWeather(d *WeatherDetail) error {
	if d == nil {
		return invalidf("weather observation without detail")
	}
	if d.WindSpeedKmh == nil || d.WindDirectionDegrees == nil || d.HumidityPercent == nil {
		return invalidf("weather requires wind speed, wind direction and humidity")
	}
	if v := *d.WindSpeedKmh; math.IsNaN(v) || v < 0 {
		return invalidf("wind speed %v out of range", v)
	}
	if v := *d.HumidityPercent; math.IsNaN(v) || v < 0 || v > 100 {
		return invalidf("humidity %v out of range", v)
	}
	if v := *d.WindDirectionDegrees; math.IsNaN(v) || math.IsInf(v, 0) {
		return invalidf("wind direction %v out of range", v)
	}
	d.WindDirectionDegrees = Float(NormalizeBearing(*d.WindDirectionDegrees))
	return nil
}

// MapSatelliteConfidence converts a provider confidence value to 0..1.
// VIIRS reports a category ("l", "n", "h"), MODIS a percentage.
func MapSatelliteConfidence(code string) (float64, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if v, ok := satelliteConfidenceCodes[code]; ok {
		return v, nil
	}
	pct, err := strconv.ParseFloat(code, 64)
	if err != nil || math.IsNaN(pct) || pct < 0 || pct > 100 {
		return 0, invalidf("unparseable satellite confidence %q", code)
	}
	return pct / 100, nil
}

// generateObservationID produces a deterministic ID from the observation's
// key fields so replays of the same input collapse onto the same ID.
func generateObservationID(o Observation) string {
	var key string
	switch o.Source {
	case SourceSatellite:
		key = fmt.Sprintf("%s|%s|%.4f|%.4f|%s", o.Satellite.Satellite, o.Satellite.Instrument, o.Lat, o.Lon, o.Time.Format(time.RFC3339))
	case SourceUserReport:
		key = fmt.Sprintf("%s|%.5f|%.5f|%s|%s", o.Report.ReporterID, o.Lat, o.Lon, o.Time.Format(time.RFC3339), o.Report.Status)
	default:
		key = fmt.Sprintf("%s|%.4f|%.4f|%s", o.Weather.Station, o.Lat, o.Lon, o.Time.Format(time.RFC3339))
	}
	hash := sha256.Sum256([]byte(key))
	return idPrefix(o.Source) + "-" + hex.EncodeToString(hash[:8])
}

func idPrefix(src Source) string {
	switch src {
	case SourceSatellite:
		return "sat"
	case SourceUserReport:
		return "rpt"
	default:
		return "wx"
	}
}

func rawSource(raw RawObservation) (Source, error) {
	if h := raw.Headers[HeaderSource]; h != "" {
		return ParseSource(h)
	}
	var probe struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(raw.Value, &probe); err != nil {
		return "", invalidf("decode payload: %v", err)
	}
	if probe.Source == "" {
		return "", invalidf("message has no source tag")
	}
	return ParseSource(probe.Source)
}

func parseHotspot(data []byte) (Observation, error) {
	var rec RawHotspotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Observation{}, invalidf("decode hotspot: %v", err)
	}

	lat, errLat := parseFloat(rec.Latitude)
	lon, errLon := parseFloat(rec.Longitude)
	if errLat != nil || errLon != nil {
		return Observation{}, invalidf("hotspot coordinates %q,%q", rec.Latitude, rec.Longitude)
	}
	acquired, err := parseAcquisition(rec.AcqDate, rec.AcqTime)
	if err != nil {
		return Observation{}, err
	}
	if strings.TrimSpace(rec.Confidence) == "" {
		return Observation{}, invalidf("satellite confidence missing")
	}

	detail := &SatelliteDetail{
		ConfidenceCode: strings.TrimSpace(rec.Confidence),
		Satellite:      strings.TrimSpace(rec.Satellite),
		Instrument:     strings.TrimSpace(rec.Instrument),
		DayNight:       strings.TrimSpace(rec.DayNight),
	}
	brightness := rec.BrightTI4
	if strings.TrimSpace(brightness) == "" {
		brightness = rec.Brightness
	}
	if v, err := parseFloat(brightness); err == nil {
		detail.Brightness = Float(v)
	}
	if v, err := parseFloat(rec.FRP); err == nil {
		detail.FRP = Float(v)
	}

	return Observation{
		Source:    SourceSatellite,
		Lat:       lat,
		Lon:       lon,
		Time:      acquired,
		Satellite: detail,
	}, nil
}

func parseReport(data []byte) (Observation, error) {
	var rec RawReportRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Observation{}, invalidf("decode report: %v", err)
	}
	reported, err := time.Parse(time.RFC3339, strings.TrimSpace(rec.ReportedAt))
	if err != nil {
		return Observation{}, invalidf("report timestamp %q", rec.ReportedAt)
	}
	var meta map[string]string
	if rec.Description != "" {
		meta = map[string]string{"description": rec.Description}
	}
	return Observation{
		ID:     prefixedID("rpt", rec.ID),
		Source: SourceUserReport,
		Lat:    rec.Latitude,
		Lon:    rec.Longitude,
		Time:   reported,
		Report: &ReportDetail{
			Trust:      cloneFloat(rec.Trust),
			Status:     ReportStatus(rec.Status),
			ReporterID: rec.ReporterID,
			Text:       rec.Description,
		},
		Metadata: meta,
	}, nil
}

func parseWeather(data []byte) (Observation, error) {
	var rec RawWeatherRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Observation{}, invalidf("decode weather: %v", err)
	}
	observed, err := time.Parse(time.RFC3339, strings.TrimSpace(rec.ObservedAt))
	if err != nil {
		return Observation{}, invalidf("weather timestamp %q", rec.ObservedAt)
	}
	return Observation{
		Source: SourceWeather,
		Lat:    rec.Latitude,
		Lon:    rec.Longitude,
		Time:   observed,
		Weather: &WeatherDetail{
			WindSpeedKmh:         rec.WindSpeedKmh,
			WindDirectionDegrees: rec.WindDirectionDegrees,
			HumidityPercent:      rec.HumidityPercent,
			TemperatureCelsius:   rec.TemperatureCelsius,
			Station:              rec.Station,
		},
	}, nil
}

// parseAcquisition combines FIRMS acq_date (YYYY-MM-DD) and acq_time (HHMM,
// sometimes without the leading zero) into a UTC time.
func parseAcquisition(date, hhmm string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, invalidf("acquisition date %q", date)
	}
	hhmm = strings.TrimSpace(hhmm)
	if len(hhmm) > 4 || hhmm == "" {
		return time.Time{}, invalidf("acquisition time %q", hhmm)
	}
	hhmm = strings.Repeat("0", 4-len(hhmm)) + hhmm

	hour, errH := strconv.Atoi(hhmm[:2])
	mins, errM := strconv.Atoi(hhmm[2:])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || mins < 0 || mins > 59 {
		return time.Time{}, invalidf("acquisition time %q", hhmm)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, mins, 0, 0, time.UTC), nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

func prefixedID(prefix, id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, prefix+"-") {
		return id
	}
	return prefix + "-" + id
}
