package openmeteo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/couchcryptid/wildfire-fusion/internal/observability"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// currentVariables are the Open-Meteo "current" fields the predictor needs.
const currentVariables = "temperature_2m,relative_humidity_2m,wind_speed_10m,wind_direction_10m"

// timeLayout is the ISO-8601 minute precision used by Open-Meteo.
const timeLayout = "2006-01-02T15:04"

// Client implements domain.WeatherLookup using the Open-Meteo forecast API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an Open-Meteo client. baseURL is the API host, for
// example https://api.open-meteo.com.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// LookupWeather returns current conditions at a point. Open-Meteo only
// serves the current hour, so when is used for logging only.
func (c *Client) LookupWeather(ctx context.Context, at domain.Geo, when time.Time) (domain.Weather, error) {
	params := url.Values{
		"latitude":        {strconv.FormatFloat(at.Lat, 'f', 4, 64)},
		"longitude":       {strconv.FormatFloat(at.Lon, 'f', 4, 64)},
		"current":         {currentVariables},
		"wind_speed_unit": {"kmh"},
		"timezone":        {"GMT"},
	}
	fullURL := c.baseURL + "/v1/forecast?" + params.Encode()

	start := time.Now()
	w, err := c.doRequest(ctx, fullURL)
	c.metrics.WeatherAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.WeatherRequests.WithLabelValues("error").Inc()
		c.logger.Debug("weather lookup failed", "lat", at.Lat, "lon", at.Lon, "when", when, "error", err)
		return domain.Weather{}, fmt.Errorf("%w: open-meteo: %w", domain.ErrUpstreamUnavailable, err)
	}
	c.metrics.WeatherRequests.WithLabelValues("success").Inc()
	return w, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.Weather, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.Weather{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Weather{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Weather{}, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return domain.Weather{}, fmt.Errorf("decode response: %w", err)
	}
	return r.toWeather()
}

// Open-Meteo API response types.

type response struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Current   *current `json:"current"`
}

type current struct {
	Time          string   `json:"time"`
	Temperature   *float64 `json:"temperature_2m"`
	Humidity      *float64 `json:"relative_humidity_2m"`
	WindSpeed     *float64 `json:"wind_speed_10m"`
	WindDirection *float64 `json:"wind_direction_10m"`
}

func (r response) toWeather() (domain.Weather, error) {
	cur := r.Current
	if cur == nil || cur.Humidity == nil || cur.WindSpeed == nil || cur.WindDirection == nil {
		return domain.Weather{}, errors.New("response is missing current wind or humidity")
	}
	observed, err := time.Parse(timeLayout, cur.Time)
	if err != nil {
		return domain.Weather{}, fmt.Errorf("parse current time %q: %w", cur.Time, err)
	}
	w := domain.Weather{
		Location:             domain.Geo{Lat: r.Latitude, Lon: r.Longitude},
		WindSpeedKmh:         *cur.WindSpeed,
		WindDirectionDegrees: *cur.WindDirection,
		HumidityPercent:      *cur.Humidity,
		TemperatureCelsius:   cur.Temperature,
		ObservedAt:           observed.UTC(),
		Source:               "open-meteo",
	}
	if !w.Valid() {
		return domain.Weather{}, fmt.Errorf("implausible current weather: wind %.1f km/h, humidity %.1f%%", w.WindSpeedKmh, w.HumidityPercent)
	}
	return w, nil
}
