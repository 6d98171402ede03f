// Command replay runs the fusion core offline over a raw fixture and prints
// the resulting fire events. It uses the same configuration as the service
// but never touches Kafka, and only calls Open-Meteo when -weather is set.
//
// Usage:
//
//	go run ./cmd/replay \
//	  -fixture internal/pipeline/testdata/camp_fire_viirs.json \
//	  -source satellite -region norcal -at 2018-11-08T21:30:00Z -advance 7h
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/adapter/openmeteo"
	"github.com/couchcryptid/wildfire-fusion/internal/config"
	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/couchcryptid/wildfire-fusion/internal/observability"
	"github.com/couchcryptid/wildfire-fusion/internal/pipeline"
	"github.com/couchcryptid/wildfire-fusion/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
)

type options struct {
	fixture string
	source  string
	region  string
	at      time.Time
	advance time.Duration
	weather bool
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	fixture := flag.String("fixture", "", "JSON array of raw records (collector message bodies)")
	source := flag.String("source", "satellite", "source header for every record: satellite, report or weather")
	region := flag.String("region", domain.DefaultRegion, "region header for every record")
	at := flag.String("at", "", "cycle time as RFC3339 (default: now)")
	advance := flag.Duration("advance", 0, "run a lifecycle tick this long after the cycle")
	weather := flag.Bool("weather", false, "look up weather from WEATHER_BASE_URL")
	flag.Parse()

	if *fixture == "" {
		flag.Usage()
		return errors.New("missing required flag: -fixture")
	}
	opts := options{fixture: *fixture, source: *source, region: *region, advance: *advance, weather: *weather}
	opts.at = time.Now().UTC()
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("parse -at: %w", err)
		}
		opts.at = t.UTC()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	raws, err := loadFixture(opts.fixture, opts.source, opts.region)
	if err != nil {
		return err
	}
	return replay(context.Background(), cfg, opts, raws, os.Stdout)
}

func replay(ctx context.Context, cfg *config.Config, opts options, raws []domain.RawObservation, w io.Writer) error {
	clock := clockwork.NewFakeClockAt(opts.at)
	domain.SetClock(clock)
	defer domain.SetClock(nil)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	metrics := observability.NewMetricsForTesting()

	components := pipeline.ComponentsFromConfig(cfg, logger)
	if opts.weather {
		client := openmeteo.NewClient(cfg.WeatherBaseURL, cfg.WeatherTimeout, metrics, logger)
		components.Weather = openmeteo.NewCachedLookup(client, cfg.WeatherCacheSize, metrics)
	}
	engine := pipeline.NewEngine(components, logger, metrics)

	results, err := engine.ProcessBatch(ctx, raws)
	if err != nil {
		return err
	}
	printResults(w, "cycle", opts.at, results)

	if opts.advance > 0 {
		clock.Advance(opts.advance)
		results, err = engine.Tick(ctx)
		if err != nil {
			return err
		}
		printResults(w, "tick +"+opts.advance.String(), clock.Now(), results)
	}

	printEvents(w, clock.Now(), engine.Events(store.Query{IncludeCooling: true}))
	return nil
}

func loadFixture(path, source, region string) ([]domain.RawObservation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	raws := make([]domain.RawObservation, len(rows))
	for i, row := range rows {
		raws[i] = domain.RawObservation{
			Value:   row,
			Headers: map[string]string{domain.HeaderSource: source, domain.HeaderRegion: region},
			Offset:  int64(i),
		}
	}
	return raws, nil
}

func printResults(w io.Writer, label string, at time.Time, results []pipeline.CycleResult) {
	for _, r := range results {
		c := r.Completeness
		fmt.Fprintf(w, "%s %s region=%s clusters=%d changed=%d invalid=%d degraded=%t",
			label, at.Format(time.RFC3339), r.Region, r.Clusters, len(r.Changed), c.InvalidObservations, c.Degraded)
		if len(c.UpstreamFailures) > 0 {
			fmt.Fprintf(w, " upstream=%v", c.UpstreamFailures)
		}
		if len(r.Incidents) > 0 {
			fmt.Fprintf(w, " incidents=%d", len(r.Incidents))
		}
		fmt.Fprintln(w)
	}
}

func printEvents(w io.Writer, now time.Time, events []domain.FireEvent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nID\tSTATUS\tCONFIDENCE\tCENTROID\tRADIUS\tOBS\tINTENSITY\tLAST SEEN\tSPREAD")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.4f,%.4f\t%s\t%d\t%s\t%s\t%s\n",
			ev.ID, ev.Status, ev.Confidence, ev.Centroid.Lat, ev.Centroid.Lon,
			meters(ev.RadiusMeters), ev.ObservationCount, ev.Intensity,
			humanize.RelTime(ev.LastSeen, now, "ago", "from now"), describeSpread(ev.PredictedSpread))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%s live events\n", humanize.Comma(int64(len(events))))
}

func describeSpread(p *domain.SpreadPrediction) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f° +%s over %s (%s)", p.HeadingDegrees, meters(p.RadiusGrowthMeters), p.Horizon, p.WeatherSource)
}

func meters(m float64) string {
	v, prefix := humanize.ComputeSI(m)
	return humanize.FtoaWithDigits(v, 1) + " " + prefix + "m"
}
