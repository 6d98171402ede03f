package pipeline

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	// weatherReachMeters is how far a weather sample may be from an event
	// and still describe it.
	weatherReachMeters = 25_000
	// weatherMaxAge is how old an in-cycle weather sample may be.
	weatherMaxAge = 3 * time.Hour
	// weatherCellDegrees is the lookup grid; events in one cell share a fetch.
	weatherCellDegrees = 0.25
	weatherFetchLimit  = 8
)

type weatherCell struct {
	row, col int
}

func cellOf(g domain.Geo) weatherCell {
	return weatherCell{
		row: int(math.Floor(g.Lat / weatherCellDegrees)),
		col: int(math.Floor(g.Lon / weatherCellDegrees)),
	}
}

func (c weatherCell) center() domain.Geo {
	return domain.Geo{
		Lat: (float64(c.row) + 0.5) * weatherCellDegrees,
		Lon: (float64(c.col) + 0.5) * weatherCellDegrees,
	}
}

// weatherSet is the weather available to one cycle: samples that arrived with
// the cycle plus lookups fetched before any event is touched.
type weatherSet struct {
	samples []domain.Weather
	fetched map[weatherCell]domain.Weather
}

// near returns the weather that describes a location, preferring the closest
// in-cycle sample.
func (s *weatherSet) near(at domain.Geo) *domain.Weather {
	best, bestDist := -1, math.Inf(1)
	for i := range s.samples {
		if d := domain.DistanceMeters(at, s.samples[i].Location); d <= weatherReachMeters && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 {
		w := s.samples[best]
		return &w
	}
	if w, ok := s.fetched[cellOf(at)]; ok {
		return &w
	}
	return nil
}

// prefetchWeather resolves weather for every location a cycle may predict
// for. Locations covered by an in-cycle sample need no lookup; the rest are
// fetched per grid cell, in parallel, bounded by the weather timeout. It
// returns the number of cells that could not be resolved.
func (e *Engine) prefetchWeather(ctx context.Context, samples []domain.Weather, locations []domain.Geo, now time.Time) (*weatherSet, int) {
	set := &weatherSet{fetched: make(map[weatherCell]domain.Weather)}
	for _, w := range samples {
		if w.Valid() && now.Sub(w.ObservedAt) <= weatherMaxAge {
			set.samples = append(set.samples, w)
		}
	}
	if e.weather == nil {
		return set, 0
	}

	var cells []weatherCell
	for _, loc := range locations {
		if set.near(loc) != nil {
			continue
		}
		if c := cellOf(loc); !slices.Contains(cells, c) {
			cells = append(cells, c)
		}
	}
	if len(cells) == 0 {
		return set, 0
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.weatherTimeout)
	defer cancel()

	var mu sync.Mutex
	misses := 0
	g, gCtx := errgroup.WithContext(fetchCtx)
	g.SetLimit(weatherFetchLimit)
	for _, c := range cells {
		g.Go(func() error {
			w, err := e.weather.LookupWeather(gCtx, c.center(), now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || !w.Valid() {
				misses++
				e.logger.Warn("weather unavailable", "cell_lat", c.center().Lat, "cell_lon", c.center().Lon, "error", err)
				return nil
			}
			set.fetched[c] = w
			return nil
		})
	}
	_ = g.Wait()
	return set, misses
}
