package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/instrument-refresh/internal/model"
)

// DefaultBatchSize is used when Config.BatchSize is not positive.
const DefaultBatchSize = 100

// Sink persists flushed snapshots.
type Sink interface {
	SaveSnapshots(ctx context.Context, ps []model.Payload) error
	MarkUpdated(ctx context.Context, symbol string, c model.Capability, at time.Time) error
}

// Config contains configuration for the snapshot writer.
type Config struct {
	// BatchSize is the number of payloads to accumulate before flushing.
	BatchSize int
}

// Metrics holds counters for a writer.
type Metrics struct {
	Inserts int64 // Payloads saved
	Dropped int64 // Payloads lost to failed flushes
	Errors  int64 // Failed flushes and timestamp updates
	Flushes int64
}

// SnapshotWriter buffers payloads and writes them in batches.
type SnapshotWriter struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	// Batching
	batch   []model.Payload
	batchMu sync.Mutex

	// Serializes flushes so timestamps follow snapshot order.
	flushMu sync.Mutex

	// Metrics
	metricsMu sync.Mutex
	metrics   Metrics
}

// NewSnapshotWriter creates a writer over sink.
func NewSnapshotWriter(cfg Config, sink Sink, logger *slog.Logger) *SnapshotWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &SnapshotWriter{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		batch:  make([]model.Payload, 0, cfg.BatchSize),
	}
}

// Add queues a payload and flushes when the batch is full.
func (w *SnapshotWriter) Add(ctx context.Context, p model.Payload) {
	w.batchMu.Lock()
	w.batch = append(w.batch, p)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.Flush(ctx)
	}
}

// Flush writes any queued payloads.
func (w *SnapshotWriter) Flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]model.Payload, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.sink.SaveSnapshots(ctx, batch); err != nil {
		w.logger.Error("snapshot flush failed", "err", err, "count", len(batch))
		w.metricsMu.Lock()
		w.metrics.Errors++
		w.metrics.Dropped += int64(len(batch))
		w.metricsMu.Unlock()
		return
	}

	var markErrors int64
	for _, p := range batch {
		if err := w.sink.MarkUpdated(ctx, p.Symbol, p.Capability, p.FetchedAt); err != nil {
			w.logger.Warn("failed to mark entity updated",
				"symbol", p.Symbol,
				"capability", p.Capability,
				"err", err,
			)
			markErrors++
		}
	}

	w.metricsMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Errors += markErrors
	w.metrics.Flushes++
	w.metricsMu.Unlock()

	w.logger.Debug("flushed snapshots",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// Pending returns the number of queued payloads.
func (w *SnapshotWriter) Pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.batch)
}

// Stats returns current metrics.
func (w *SnapshotWriter) Stats() Metrics {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	return w.metrics
}
