package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
)

// Archive keeps the terminal record of expired events so their history stays
// queryable after they leave the live table.
type Archive interface {
	Put(ctx context.Context, event domain.FireEvent) error
	Get(ctx context.Context, id string) (domain.FireEvent, error)
	// List returns archived events ordered by ID. An empty region lists all.
	List(ctx context.Context, region string) ([]domain.FireEvent, error)
}

// MemoryArchive is an in-process Archive.
type MemoryArchive struct {
	mu     sync.RWMutex
	events map[string]domain.FireEvent
}

var _ Archive = (*MemoryArchive)(nil)

// NewMemoryArchive creates an empty MemoryArchive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{events: make(map[string]domain.FireEvent)}
}

func (a *MemoryArchive) Put(_ context.Context, event domain.FireEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events[event.ID] = event.Clone()
	return nil
}

func (a *MemoryArchive) Get(_ context.Context, id string) (domain.FireEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ev, ok := a.events[id]
	if !ok {
		return domain.FireEvent{}, fmt.Errorf("archive get %s: %w", id, domain.ErrEventNotFound)
	}
	return ev.Clone(), nil
}

func (a *MemoryArchive) List(_ context.Context, region string) ([]domain.FireEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.FireEvent, 0, len(a.events))
	for _, ev := range a.events {
		if region == "" || ev.Region == region {
			out = append(out, ev.Clone())
		}
	}
	slices.SortFunc(out, func(x, y domain.FireEvent) int { return strings.Compare(x.ID, y.ID) })
	return out, nil
}

// Len returns the number of archived events.
func (a *MemoryArchive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events)
}
