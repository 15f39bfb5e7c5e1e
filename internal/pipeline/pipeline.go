package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/ensemble-etl/internal/domain"
	"github.com/couchcryptid/ensemble-etl/internal/observability"
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer absorbs a raw event and returns the output events it released,
// which may be none.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) ([]domain.OutputEvent, error)
}

// BatchLoader writes multiple output events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline drives the extract-assemble-load loop. Member planes are absorbed
// one message at a time; whatever products they release are loaded as one
// batch before the batch's offsets are committed.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has absorbed at least one
// member plane.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not absorbed any messages yet")
	}
	return nil
}

// Run executes the loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	r := retry{delay: initialBackoff}
	for ctx.Err() == nil {
		if !p.processBatch(ctx, &r) {
			break
		}
	}
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// processBatch runs one extract-assemble-load cycle. It returns false once
// the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, r *retry) bool {
	start := time.Now()

	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return r.wait(ctx)
	}
	if len(batch) == 0 {
		return true
	}
	r.reset()

	p.metrics.MessagesConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))

	absorbed, released := p.absorb(ctx, batch)

	// Products are only held in this batch; the planes that produced them
	// are already released from their assembly, so a failed load cannot be
	// recomputed and must be retried.
	for len(released) > 0 {
		err := p.loader.LoadBatch(ctx, released)
		if err == nil {
			p.metrics.MessagesProduced.Add(float64(len(released)))
			break
		}
		p.logger.Error("load batch failed", "error", err, "products", len(released))
		if !r.wait(ctx) {
			return false
		}
	}
	r.reset()

	for _, raw := range absorbed {
		p.commit(ctx, raw)
	}
	if len(absorbed) == 0 {
		return true
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	if len(released) > 0 {
		p.logger.Debug("batch loaded",
			"messages", len(batch),
			"absorbed", len(absorbed),
			"products", len(released),
			"duration", time.Since(start),
		)
	}
	return true
}

// absorb hands each message to the transformer. Messages it rejects are
// committed immediately so a poison message is not redelivered; the rest are
// returned for commit after the load.
func (p *Pipeline) absorb(ctx context.Context, batch []domain.RawEvent) (absorbed []domain.RawEvent, released []domain.OutputEvent) {
	absorbed = make([]domain.RawEvent, 0, len(batch))
	for _, raw := range batch {
		outs, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.logger.Warn("transform failed, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.TransformErrors.Inc()
			p.commit(ctx, raw)
			continue
		}
		released = append(released, outs...)
		absorbed = append(absorbed, raw)
	}
	return absorbed, released
}

// commit commits the message offset if a commit function is available.
func (p *Pipeline) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

// retry is an exponential backoff doubling from initialBackoff to maxBackoff.
type retry struct {
	delay time.Duration
}

func (r *retry) reset() { r.delay = initialBackoff }

// wait sleeps for the current delay and doubles it. It returns false if ctx
// ends first.
func (r *retry) wait(ctx context.Context) bool {
	timer := time.NewTimer(r.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	r.delay = min(2*r.delay, maxBackoff)
	return true
}
