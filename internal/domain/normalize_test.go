package domain

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.August, 1, 18, 0, 0, 0, time.UTC)

func satelliteRaw(body string) RawObservation {
	return RawObservation{
		Value:   []byte(body),
		Headers: map[string]string{HeaderSource: "satellite", HeaderRegion: "ca-north"},
	}
}

func TestParse_Hotspot(t *testing.T) {
	n := NewNormalizer(0, 0)

	t.Run("VIIRS row", func(t *testing.T) {
		raw := satelliteRaw(`{"latitude":"39.8121","longitude":"-121.4377","bright_ti4":"367.5","scan":"0.39","track":"0.36","acq_date":"2024-08-01","acq_time":"930","satellite":"N","instrument":"VIIRS","confidence":"h","frp":"42.7","daynight":"D"}`)
		obs, err := n.Parse(raw, testNow)

		require.NoError(t, err)
		assert.Equal(t, SourceSatellite, obs.Source)
		assert.Equal(t, 39.8121, obs.Lat)
		assert.Equal(t, -121.4377, obs.Lon)
		assert.Equal(t, time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC), obs.Time)
		require.NotNil(t, obs.Satellite)
		assert.InDelta(t, 0.90, obs.Satellite.Confidence, 1e-9)
		assert.Equal(t, "VIIRS", obs.Satellite.Instrument)
		require.NotNil(t, obs.Satellite.FRP)
		assert.InDelta(t, 42.7, *obs.Satellite.FRP, 1e-9)
		require.NotNil(t, obs.Satellite.Brightness)
		assert.InDelta(t, 367.5, *obs.Satellite.Brightness, 1e-9)
		assert.True(t, strings.HasPrefix(obs.ID, "sat-"))
	})

	t.Run("MODIS row with percentage confidence", func(t *testing.T) {
		raw := satelliteRaw(`{"latitude":"39.81","longitude":"-121.43","brightness":"331.2","acq_date":"2024-08-01","acq_time":"1745","satellite":"Aqua","instrument":"MODIS","confidence":"87","frp":"18.1"}`)
		obs, err := n.Parse(raw, testNow)

		require.NoError(t, err)
		assert.InDelta(t, 0.87, obs.Satellite.Confidence, 1e-9)
		assert.InDelta(t, 331.2, *obs.Satellite.Brightness, 1e-9)
	})

	t.Run("missing confidence", func(t *testing.T) {
		raw := satelliteRaw(`{"latitude":"39.81","longitude":"-121.43","acq_date":"2024-08-01","acq_time":"1745","instrument":"MODIS"}`)
		_, err := n.Parse(raw, testNow)
		require.ErrorIs(t, err, ErrInvalidObservation)
	})

	t.Run("unparseable confidence", func(t *testing.T) {
		raw := satelliteRaw(`{"latitude":"39.81","longitude":"-121.43","acq_date":"2024-08-01","acq_time":"1745","confidence":"maybe"}`)
		_, err := n.Parse(raw, testNow)
		require.ErrorIs(t, err, ErrInvalidObservation)
	})

	t.Run("bad acquisition time", func(t *testing.T) {
		raw := satelliteRaw(`{"latitude":"39.81","longitude":"-121.43","acq_date":"2024-08-01","acq_time":"2561","confidence":"n"}`)
		_, err := n.Parse(raw, testNow)
		require.ErrorIs(t, err, ErrInvalidObservation)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := n.Parse(satelliteRaw("{invalid json"), testNow)
		require.ErrorIs(t, err, ErrInvalidObservation)
	})

	t.Run("deterministic ID", func(t *testing.T) {
		raw := satelliteRaw(`{"latitude":"39.81","longitude":"-121.43","acq_date":"2024-08-01","acq_time":"1745","confidence":"n","satellite":"N","instrument":"VIIRS"}`)
		a, err := n.Parse(raw, testNow)
		require.NoError(t, err)
		b, err := n.Parse(raw, testNow)
		require.NoError(t, err)
		assert.Equal(t, a.ID, b.ID)
	})
}

func TestParse_SourceFromPayload(t *testing.T) {
	n := NewNormalizer(0, 0)
	raw := RawObservation{Value: []byte(`{"source":"report","id":"abc","latitude":39.8,"longitude":-121.4,"reported_at":"2024-08-01T17:00:00-07:00"}`)}

	obs, err := n.Parse(raw, testNow.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, SourceUserReport, obs.Source)
	assert.Equal(t, "rpt-abc", obs.ID)
	assert.Equal(t, time.UTC, obs.Time.Location())
	assert.Equal(t, time.Date(2024, 8, 2, 0, 0, 0, 0, time.UTC), obs.Time)
}

func TestParse_MissingSource(t *testing.T) {
	n := NewNormalizer(0, 0)
	_, err := n.Parse(RawObservation{Value: []byte(`{"latitude":1}`)}, testNow)
	require.ErrorIs(t, err, ErrInvalidObservation)
}

func TestParse_Report(t *testing.T) {
	n := NewNormalizer(0, 0)
	headers := map[string]string{HeaderSource: "user_report"}

	t.Run("default trust and status", func(t *testing.T) {
		raw := RawObservation{Headers: headers, Value: []byte(`{"id":"r1","latitude":39.8,"longitude":-121.4,"reported_at":"2024-08-01T16:00:00Z"}`)}
		obs, err := n.Parse(raw, testNow)
		require.NoError(t, err)
		require.NotNil(t, obs.Report.Trust)
		assert.InDelta(t, DefaultReportTrust, *obs.Report.Trust, 1e-9)
		assert.Equal(t, ReportFire, obs.Report.Status)
	})

	t.Run("extinguished", func(t *testing.T) {
		raw := RawObservation{Headers: headers, Value: []byte(`{"id":"r2","latitude":39.8,"longitude":-121.4,"reported_at":"2024-08-01T16:00:00Z","trust":0.8,"status":"Extinguished"}`)}
		obs, err := n.Parse(raw, testNow)
		require.NoError(t, err)
		assert.True(t, obs.Negates())
	})

	t.Run("trust out of range", func(t *testing.T) {
		raw := RawObservation{Headers: headers, Value: []byte(`{"id":"r3","latitude":39.8,"longitude":-121.4,"reported_at":"2024-08-01T16:00:00Z","trust":1.4}`)}
		_, err := n.Parse(raw, testNow)
		require.ErrorIs(t, err, ErrInvalidObservation)
	})
}

func TestParse_Weather(t *testing.T) {
	n := NewNormalizer(0, 0)
	headers := map[string]string{HeaderSource: "weather"}

	t.Run("complete sample", func(t *testing.T) {
		raw := RawObservation{Headers: headers, Value: []byte(`{"latitude":39.8,"longitude":-121.4,"observed_at":"2024-08-01T17:00:00Z","humidity_percent":18,"wind_speed_kmh":30,"wind_direction_degrees":-45,"station":"KOVE"}`)}
		obs, err := n.Parse(raw, testNow)
		require.NoError(t, err)
		assert.InDelta(t, 315, *obs.Weather.WindDirectionDegrees, 1e-9)

		w, ok := obs.WeatherSample()
		require.True(t, ok)
		assert.InDelta(t, 30, w.WindSpeedKmh, 1e-9)
		assert.True(t, w.Valid())
	})

	t.Run("missing humidity", func(t *testing.T) {
		raw := RawObservation{Headers: headers, Value: []byte(`{"latitude":39.8,"longitude":-121.4,"observed_at":"2024-08-01T17:00:00Z","wind_speed_kmh":30,"wind_direction_degrees":270}`)}
		_, err := n.Parse(raw, testNow)
		require.ErrorIs(t, err, ErrInvalidObservation)
	})
}

func TestNormalize_Rejects(t *testing.T) {
	n := NewNormalizer(0, 0)
	valid := Observation{
		Source:    SourceSatellite,
		Lat:       39.8,
		Lon:       -121.4,
		Time:      testNow.Add(-time.Hour),
		Satellite: &SatelliteDetail{ConfidenceCode: "n"},
	}

	tests := []struct {
		name   string
		mutate func(o *Observation)
	}{
		{"latitude above range", func(o *Observation) { o.Lat = 90.5 }},
		{"longitude below range", func(o *Observation) { o.Lon = -180.01 }},
		{"NaN latitude", func(o *Observation) { o.Lat = math.NaN() }},
		{"zero timestamp", func(o *Observation) { o.Time = time.Time{} }},
		{"beyond clock skew", func(o *Observation) { o.Time = testNow.Add(6 * time.Minute) }},
		{"unknown source", func(o *Observation) { o.Source = "RADAR" }},
		{"missing detail", func(o *Observation) { o.Satellite = nil }},
		{"two details", func(o *Observation) { o.Report = &ReportDetail{} }},
		{"negative FRP", func(o *Observation) { o.Satellite.FRP = Float(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := valid.Clone()
			tt.mutate(&obs)
			_, err := n.Normalize(obs, testNow)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidObservation))
		})
	}

	t.Run("within clock skew", func(t *testing.T) {
		obs := valid.Clone()
		obs.Time = testNow.Add(4 * time.Minute)
		_, err := n.Normalize(obs, testNow)
		require.NoError(t, err)
	})

	t.Run("boundary coordinates", func(t *testing.T) {
		obs := valid.Clone()
		obs.Lat, obs.Lon = -90, 180
		_, err := n.Normalize(obs, testNow)
		require.NoError(t, err)
	})
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(0, 0)
	inputs := []Observation{
		{Source: SourceSatellite, Lat: 39.8, Lon: -121.4, Time: testNow.Add(-time.Hour).In(time.FixedZone("PDT", -7*3600)), Satellite: &SatelliteDetail{ConfidenceCode: "l", Instrument: "viirs", FRP: Float(3)}},
		{Source: SourceSatellite, Lat: 39.8, Lon: -121.4, Time: testNow.Add(-time.Hour), Satellite: &SatelliteDetail{Confidence: 0.7}},
		{Source: SourceUserReport, Lat: 39.8, Lon: -121.4, Time: testNow.Add(-2 * time.Hour), Report: &ReportDetail{Status: "SMOKE"}},
		{Source: SourceWeather, Lat: 39.8, Lon: -121.4, Time: testNow, Weather: &WeatherDetail{WindSpeedKmh: Float(12), WindDirectionDegrees: Float(725), HumidityPercent: Float(40)}},
	}

	for _, in := range inputs {
		t.Run(string(in.Source), func(t *testing.T) {
			once, err := n.Normalize(in, testNow)
			require.NoError(t, err)
			twice, err := n.Normalize(once, testNow)
			require.NoError(t, err)
			assert.Equal(t, once, twice)
		})
	}
}

func TestMapSatelliteConfidence_Monotonic(t *testing.T) {
	low, err := MapSatelliteConfidence("l")
	require.NoError(t, err)
	nominal, err := MapSatelliteConfidence("nominal")
	require.NoError(t, err)
	high, err := MapSatelliteConfidence("H")
	require.NoError(t, err)

	assert.Less(t, low, nominal)
	assert.Less(t, nominal, high)

	prev := -1.0
	for pct := 0; pct <= 100; pct += 5 {
		v, err := MapSatelliteConfidence(strconv.Itoa(pct))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}

	_, err = MapSatelliteConfidence("101")
	require.ErrorIs(t, err, ErrInvalidObservation)
}

func TestParseAcquisition(t *testing.T) {
	tests := []struct {
		name    string
		hhmm    string
		want    time.Time
		wantErr bool
	}{
		{"four digits", "1510", time.Date(2024, 8, 1, 15, 10, 0, 0, time.UTC), false},
		{"three digits", "930", time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC), false},
		{"single digit", "5", time.Date(2024, 8, 1, 0, 5, 0, 0, time.UTC), false},
		{"midnight", "0000", time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), false},
		{"empty", "", time.Time{}, true},
		{"invalid hour", "2510", time.Time{}, true},
		{"invalid minute", "1299", time.Time{}, true},
		{"too long", "12345", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAcquisition("2024-08-01", tt.hhmm)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidObservation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
