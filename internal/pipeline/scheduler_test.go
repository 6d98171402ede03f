package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsJob(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler(context.Background(), "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}, slog.Default())
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler(context.Background(), "every now and then", func(context.Context) error { return nil }, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every now and then")
}

func TestPartitionLocks_SerializeRegion(t *testing.T) {
	var l partitionLocks
	var inside, overlaps atomic.Int32
	done := make(chan struct{})

	for range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			unlock := l.lock("norcal")
			defer unlock()
			if inside.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	for range 8 {
		<-done
	}
	assert.Zero(t, overlaps.Load())
}
