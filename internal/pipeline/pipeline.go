package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/couchcryptid/wildfire-fusion/internal/observability"
)

// BatchExtractor reads up to batchSize raw observations from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawObservation, error)
}

// CycleRunner runs fusion cycles over raw input or on a schedule.
type CycleRunner interface {
	ProcessBatch(ctx context.Context, raws []domain.RawObservation) ([]CycleResult, error)
	Tick(ctx context.Context) ([]CycleResult, error)
}

// BatchLoader writes fire events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.FireEvent) error
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline feeds extracted observations through the engine and publishes
// every event a cycle changes.
type Pipeline struct {
	extractor BatchExtractor
	runner    CycleRunner
	loader    BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, r CycleRunner, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		runner:    r,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has completed a cycle,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a cycle yet")
	}
	return nil
}

// Run executes the extract-fuse-publish loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// Tick runs a scheduled cycle over every known region and publishes the
// resulting lifecycle changes.
func (p *Pipeline) Tick(ctx context.Context) error {
	results, err := p.runner.Tick(ctx)
	if err != nil {
		return err
	}
	backoff := initialBackoff
	if !p.publish(ctx, results, &backoff) {
		return ctx.Err()
	}
	p.ready.Store(true)
	return nil
}

// processBatch runs one extract-fuse-load cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = initialBackoff

	results, err := p.runner.ProcessBatch(ctx, rawBatch)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("process batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}

	if !p.publish(ctx, results, backoff) {
		return false
	}

	// Offsets are committed only after the changes are published. Invalid
	// messages are committed too; they were counted and logged by the engine.
	for _, raw := range rawBatch {
		p.commitOffset(ctx, raw)
	}
	p.ready.Store(true)
	return true
}

// publish loads every changed event, retrying with backoff until it succeeds
// or the context ends. Merges are idempotent, so retrying after a restart
// republishes the same state. Returns false if the pipeline should stop.
func (p *Pipeline) publish(ctx context.Context, results []CycleResult, backoff *time.Duration) bool {
	var events []domain.FireEvent
	for _, r := range results {
		events = append(events, r.Changed...)
		for _, err := range r.Incidents {
			p.logger.Error("merge incident", "region", r.Region, "error", err)
		}
	}
	if len(events) == 0 {
		return true
	}

	for {
		err := p.loader.LoadBatch(ctx, events)
		if err == nil {
			break
		}
		p.logger.Error("load batch failed", "error", err, "batch_size", len(events))
		if !p.backoffOrStop(ctx, backoff) {
			return false
		}
	}
	*backoff = initialBackoff
	p.metrics.MessagesProduced.Add(float64(len(events)))
	return true
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawObservation) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
