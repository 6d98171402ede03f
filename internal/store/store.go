// Package store owns the table of fire events. Each geographic partition has
// its own lock; merges build the next state of an event on a copy, validate
// it, and only then swap it in.
package store

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Defaults for event matching and lifecycle.
const (
	DefaultMergeRadiusMeters = 4000
	DefaultCoolAfter         = 6 * time.Hour
	DefaultExpireAfter       = 24 * time.Hour
	DefaultRecencyBias       = 0.6
	DefaultMinRadiusMeters   = 375 // VIIRS I-band pixel
)

// Scorer computes the confidence of an event from its evidence.
type Scorer interface {
	Score(observations []domain.Observation, now time.Time) float64
}

// Config holds matching and lifecycle parameters.
type Config struct {
	MergeRadiusMeters float64
	CoolAfter         time.Duration
	ExpireAfter       time.Duration
	// RecencyBias is the share of a centroid update given to new evidence,
	// before weighting by confidence.
	RecencyBias     float64
	MinRadiusMeters float64
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{
		MergeRadiusMeters: DefaultMergeRadiusMeters,
		CoolAfter:         DefaultCoolAfter,
		ExpireAfter:       DefaultExpireAfter,
		RecencyBias:       DefaultRecencyBias,
		MinRadiusMeters:   DefaultMinRadiusMeters,
	}
}

// Option customizes a Store.
type Option func(*Store)

// WithArchive sets where expired events are kept. Defaults to a MemoryArchive.
func WithArchive(a Archive) Option {
	return func(s *Store) { s.archive = a }
}

// WithIDGenerator replaces the random UUID event IDs, for tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// Store is the fire event table.
type Store struct {
	cfg     Config
	scorer  Scorer
	archive Archive
	logger  *slog.Logger
	newID   func() string

	mu         sync.RWMutex
	partitions map[string]*partition
}

type partition struct {
	region string

	mu      sync.Mutex
	events  map[string]*domain.FireEvent
	owners  map[string]string   // observation ID -> event ID
	retired []domain.FireEvent // expired events whose archive write failed
}

// New creates a Store. Non-positive parameters select the defaults.
func New(cfg Config, scorer Scorer, logger *slog.Logger, opts ...Option) *Store {
	def := DefaultConfig()
	if cfg.MergeRadiusMeters <= 0 {
		cfg.MergeRadiusMeters = def.MergeRadiusMeters
	}
	if cfg.CoolAfter <= 0 {
		cfg.CoolAfter = def.CoolAfter
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = def.ExpireAfter
	}
	if cfg.RecencyBias <= 0 || cfg.RecencyBias >= 1 {
		cfg.RecencyBias = def.RecencyBias
	}
	if cfg.MinRadiusMeters < 0 {
		cfg.MinRadiusMeters = def.MinRadiusMeters
	}

	s := &Store{
		cfg:        cfg,
		scorer:     scorer,
		archive:    NewMemoryArchive(),
		logger:     logger,
		newID:      uuid.NewString,
		partitions: make(map[string]*partition),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) partition(region string) *partition {
	s.mu.RLock()
	p, ok := s.partitions[region]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[region]; ok {
		return p
	}
	p = &partition{
		region: region,
		events: make(map[string]*domain.FireEvent),
		owners: make(map[string]string),
	}
	s.partitions[region] = p
	return p
}

func (s *Store) allPartitions() []*partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *partition) int { return strings.Compare(a.region, b.region) })
	return out
}

// Regions lists every partition the store has seen, sorted.
func (s *Store) Regions() []string {
	parts := s.allPartitions()
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.region
	}
	return out
}

// Snapshot returns deep copies of the live events in a region, evidence
// included, sorted by ID.
func (s *Store) Snapshot(region string) []domain.FireEvent {
	p := s.partition(region)
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.FireEvent, 0, len(p.events))
	for _, id := range p.sortedIDs() {
		out = append(out, p.events[id].Clone())
	}
	return out
}

// Query filters ActiveEvents.
type Query struct {
	Region         string     // empty matches every region
	Bounds         *orb.Bound // centroid must fall inside; nil matches everywhere
	MinConfidence  float64
	IncludeCooling bool
}

// ActiveEvents returns matching events sorted by confidence (highest first),
// then ID. Returned events are copies without evidence.
func (s *Store) ActiveEvents(q Query) []domain.FireEvent {
	var out []domain.FireEvent
	for _, p := range s.allPartitions() {
		if q.Region != "" && p.region != q.Region {
			continue
		}
		p.mu.Lock()
		for _, ev := range p.events {
			if !q.matches(ev) {
				continue
			}
			c := ev.Clone()
			c.Evidence = nil
			out = append(out, c)
		}
		p.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b domain.FireEvent) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (q Query) matches(ev *domain.FireEvent) bool {
	switch ev.Status {
	case domain.StatusActive:
	case domain.StatusCooling:
		if !q.IncludeCooling {
			return false
		}
	default:
		return false
	}
	if ev.Confidence < q.MinConfidence {
		return false
	}
	return q.Bounds == nil || q.Bounds.Contains(ev.Centroid.Point())
}

// Event returns one event by ID, live or archived.
func (s *Store) Event(ctx context.Context, id string) (domain.FireEvent, error) {
	for _, p := range s.allPartitions() {
		p.mu.Lock()
		if ev, ok := p.events[id]; ok {
			c := ev.Clone()
			p.mu.Unlock()
			return c, nil
		}
		for i := range p.retired {
			if p.retired[i].ID == id {
				c := p.retired[i].Clone()
				p.mu.Unlock()
				return c, nil
			}
		}
		p.mu.Unlock()
	}

	return s.archive.Get(ctx, id)
}

// Archived lists the terminal records of expired events, optionally limited
// to one region. Events whose archive write is still pending are included.
func (s *Store) Archived(ctx context.Context, region string) ([]domain.FireEvent, error) {
	events, err := s.archive.List(ctx, region)
	if err != nil {
		return nil, err
	}
	for _, p := range s.allPartitions() {
		if region != "" && p.region != region {
			continue
		}
		p.mu.Lock()
		for i := range p.retired {
			events = append(events, p.retired[i].Clone())
		}
		p.mu.Unlock()
	}
	slices.SortFunc(events, func(a, b domain.FireEvent) int { return strings.Compare(a.ID, b.ID) })
	return events, nil
}

// EventHistory returns the append-only history of an event, including events
// that have already expired.
func (s *Store) EventHistory(ctx context.Context, id string) ([]domain.HistoryEntry, error) {
	ev, err := s.Event(ctx, id)
	if err != nil {
		return nil, err
	}
	return ev.History, nil
}

// ApplyPredictions attaches spread predictions to live events in a region.
// A nil prediction clears any previous one.
func (s *Store) ApplyPredictions(region string, predictions map[string]*domain.SpreadPrediction) {
	p := s.partition(region)
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, pred := range predictions {
		ev, ok := p.events[id]
		if !ok {
			continue
		}
		if pred == nil {
			ev.PredictedSpread = nil
			continue
		}
		c := *pred
		ev.PredictedSpread = &c
	}
}

func (p *partition) sortedIDs() []string {
	ids := make([]string, 0, len(p.events))
	for id := range p.events {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
