// Command genmock reads a NASA FIRMS area CSV export and writes a JSON
// fixture of raw hotspot records, the message body the FIRMS collector
// publishes. Every row is run through the real normalizer so the printed
// stats match what the pipeline will see.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv data/firms/SUOMI_VIIRS_C2_USA_contiguous_and_Hawaii_24h.csv \
//	  -out internal/pipeline/testdata/viirs_24h.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/dustin/go-humanize"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "FIRMS area CSV export (VIIRS or MODIS)")
	out := flag.String("out", "", "output path for the raw JSON fixture")
	limit := flag.Int("limit", 0, "keep at most this many rows (0 keeps all)")
	flag.Parse()

	if *csvPath == "" || *out == "" {
		flag.Usage()
		return errors.New("missing required flags: -csv, -out")
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	records, err := readFIRMS(f, *limit)
	if err != nil {
		return fmt.Errorf("processing %s: %w", *csvPath, err)
	}
	log.Printf("read %s hotspot rows", humanize.Comma(int64(len(records))))

	if err := writeJSON(*out, records); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote fixture: %s", *out)

	printStats(records)
	return nil
}

// readFIRMS maps CSV rows onto RawHotspotRecord by header name, so VIIRS
// (bright_ti4) and MODIS (brightness) exports both work.
func readFIRMS(r io.Reader, limit int) ([]domain.RawHotspotRecord, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"latitude", "longitude", "acq_date", "acq_time", "confidence"} {
		if _, ok := colIdx[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	recs := make([]domain.RawHotspotRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if limit > 0 && len(recs) >= limit {
			break
		}
		recs = append(recs, domain.RawHotspotRecord{
			Latitude:   get(row, colIdx, "latitude"),
			Longitude:  get(row, colIdx, "longitude"),
			BrightTI4:  get(row, colIdx, "bright_ti4"),
			Brightness: get(row, colIdx, "brightness"),
			Scan:       get(row, colIdx, "scan"),
			Track:      get(row, colIdx, "track"),
			AcqDate:    get(row, colIdx, "acq_date"),
			AcqTime:    padHHMM(get(row, colIdx, "acq_time")),
			Satellite:  get(row, colIdx, "satellite"),
			Instrument: get(row, colIdx, "instrument"),
			Confidence: get(row, colIdx, "confidence"),
			FRP:        get(row, colIdx, "frp"),
			DayNight:   get(row, colIdx, "daynight"),
		})
	}
	return recs, nil
}

// padHHMM restores leading zeros that spreadsheet round trips strip ("42" -> "0042").
func padHHMM(s string) string {
	if s == "" || len(s) >= 4 {
		return s
	}
	return strings.Repeat("0", 4-len(s)) + s
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// statsResult holds aggregated counts for printStats reporting.
type statsResult struct {
	valid       int
	invalid     map[string]int
	confidence  map[string]int
	intensity   map[string]int
	first, last time.Time
	maxFRP      float64
}

func collectStats(records []domain.RawHotspotRecord) statsResult {
	s := statsResult{
		invalid:    map[string]int{},
		confidence: map[string]int{},
		intensity:  map[string]int{},
	}
	n := domain.NewNormalizer(domain.DefaultClockSkew, domain.DefaultReportTrust)
	now := time.Now().UTC()

	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			s.invalid["marshal"]++
			continue
		}
		obs, err := n.Parse(domain.RawObservation{
			Value:   payload,
			Headers: map[string]string{domain.HeaderSource: "satellite"},
		}, now)
		if err != nil {
			s.invalid[err.Error()]++
			continue
		}
		s.valid++
		s.confidence[obs.Satellite.ConfidenceCode]++
		s.intensity[domain.Intensity(obs.FRP())]++
		if obs.FRP() > s.maxFRP {
			s.maxFRP = obs.FRP()
		}
		if s.first.IsZero() || obs.Time.Before(s.first) {
			s.first = obs.Time
		}
		if obs.Time.After(s.last) {
			s.last = obs.Time
		}
	}
	return s
}

func printStats(records []domain.RawHotspotRecord) {
	stats := collectStats(records)

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %s, valid: %s\n", humanize.Comma(int64(len(records))), humanize.Comma(int64(stats.valid)))
	if stats.valid > 0 {
		fmt.Printf("Acquired: %s .. %s (%s)\n",
			stats.first.Format(time.RFC3339), stats.last.Format(time.RFC3339),
			humanize.RelTime(stats.first, stats.last, "", "later"))
		fmt.Printf("Max FRP: %s MW\n", humanize.FormatFloat("#,###.#", stats.maxFRP))
	}
	printCounts("By confidence", stats.confidence)
	printCounts("By intensity", stats.intensity)
	printCounts("Rejected", stats.invalid)
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return counts[keys[i]] > counts[keys[j]] })
	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %s=%d\n", k, counts[k])
	}
}
