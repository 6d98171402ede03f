// Package archive persists the terminal records of expired fire events in a
// Pebble key/value store so their history survives restarts.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/couchcryptid/wildfire-fusion/internal/store"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const eventPrefix = "event|"

const defaultCacheSizeBytes = int64(16 << 20)

var errClosed = errors.New("archive: store is closed")

// PebbleArchive implements store.Archive on a Pebble database. Records are
// JSON-encoded FireEvents keyed by "event|<id>"; evidence is not kept.
type PebbleArchive struct {
	db    *pebble.DB
	cache *pebble.Cache

	mu     sync.RWMutex
	closed bool
}

var _ store.Archive = (*PebbleArchive)(nil)

// Open opens or creates the archive at path.
func Open(path string) (*PebbleArchive, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("archive: database path is empty")
	}
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("archive: %s exists and is not a directory", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("archive: stat path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure directory: %w", err)
	}

	cache := pebble.NewCache(defaultCacheSizeBytes)
	db, err := pebble.Open(path, &pebble.Options{Cache: cache})
	if err != nil {
		cache.Unref()
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return &PebbleArchive{db: db, cache: cache}, nil
}

// Put writes the event's terminal record, replacing any earlier one.
func (a *PebbleArchive) Put(_ context.Context, event domain.FireEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errClosed
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", event.ID, err)
	}
	if err := a.db.Set(eventKey(event.ID), value, pebble.Sync); err != nil {
		return fmt.Errorf("archive: put %s: %w", event.ID, err)
	}
	return nil
}

// Get returns the archived event, wrapping domain.ErrEventNotFound when absent.
func (a *PebbleArchive) Get(_ context.Context, id string) (domain.FireEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return domain.FireEvent{}, errClosed
	}

	value, closer, err := a.db.Get(eventKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return domain.FireEvent{}, fmt.Errorf("archive get %s: %w", id, domain.ErrEventNotFound)
	}
	if err != nil {
		return domain.FireEvent{}, fmt.Errorf("archive: get %s: %w", id, err)
	}
	defer closer.Close()

	var ev domain.FireEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return domain.FireEvent{}, fmt.Errorf("archive: decode %s: %w", id, err)
	}
	return ev, nil
}

// List returns every archived event in key order, optionally limited to one region.
func (a *PebbleArchive) List(_ context.Context, region string) ([]domain.FireEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, errClosed
	}

	lower := []byte(eventPrefix)
	iter, err := a.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixUpperBound(lower)})
	if err != nil {
		return nil, fmt.Errorf("archive: list iterator: %w", err)
	}
	defer iter.Close()

	var events []domain.FireEvent
	for iter.First(); iter.Valid(); iter.Next() {
		var ev domain.FireEvent
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("archive: decode %s: %w", iter.Key(), err)
		}
		if region != "" && ev.Region != region {
			continue
		}
		events = append(events, ev)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("archive: iterate: %w", err)
	}
	return events, nil
}

// Close flushes and closes the database. Later calls return an error.
func (a *PebbleArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	err := a.db.Close()
	a.cache.Unref()
	return err
}

func eventKey(id string) []byte {
	return []byte(eventPrefix + id)
}

func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
