package pipeline

import (
	"sync"

	"github.com/zeebo/xxh3"
)

const lockStripes = 64

// partitionLocks serializes cycles per region. Regions hash onto a fixed set
// of mutexes, so two regions may occasionally share a stripe but one region
// never runs two cycles at once.
type partitionLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *partitionLocks) lock(region string) func() {
	m := &l.stripes[xxh3.HashString(region)%lockStripes]
	m.Lock()
	return m.Unlock
}
