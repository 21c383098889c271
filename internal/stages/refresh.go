package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/instrument-refresh/internal/batch"
	"github.com/rickgao/instrument-refresh/internal/clock"
	"github.com/rickgao/instrument-refresh/internal/fallback"
	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/scheduler"
	"github.com/rickgao/instrument-refresh/internal/writer"
)

// Resolver fetches one capability with provider fallback.
type Resolver interface {
	FetchWithFallback(ctx context.Context, symbol string, c model.Capability) fallback.Resolution
}

// SnapshotWriter buffers payloads for the store.
type SnapshotWriter interface {
	Add(ctx context.Context, p model.Payload)
	Flush(ctx context.Context)
	Stats() writer.Metrics
}

// errSaveFailed fails a stage when every snapshot flush failed.
var errSaveFailed = errors.New("no snapshots could be saved")

// RefreshConfig describes a refresh stage.
type RefreshConfig struct {
	Capability model.Capability
	StaleAfter time.Duration
	Batch      batch.Options // Gate is supplied by the scheduler budget
}

// Refresh updates one capability for stale entities.
type Refresh struct {
	cfg    RefreshConfig
	source EntitySource
	chain  Resolver
	writer SnapshotWriter
	runner *batch.Runner
	clock  clock.Clock
	logger *slog.Logger
}

// NewRefresh creates a refresh stage.
func NewRefresh(cfg RefreshConfig, source EntitySource, chain Resolver, w SnapshotWriter, runner *batch.Runner, clk clock.Clock, logger *slog.Logger) *Refresh {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = batch.NewRunner(clk, logger)
	}
	return &Refresh{
		cfg:    cfg,
		source: source,
		chain:  chain,
		writer: w,
		runner: runner,
		clock:  clk,
		logger: logger.With("capability", cfg.Capability),
	}
}

// Work is the stage's scheduler.WorkFunc.
func (r *Refresh) Work(ctx context.Context, b *scheduler.Budget) (scheduler.Result, error) {
	items, err := r.source.LoadTrackedEntities(ctx)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("load tracked entities: %w", err)
	}

	symbols := staleFirst(items, r.cfg.Capability, r.clock.Now(), r.cfg.StaleAfter)
	r.logger.Info("refreshing entities", "tracked", len(items), "stale", len(symbols))

	opts := r.cfg.Batch
	opts.Gate = b

	before := r.writer.Stats()
	agg := r.runner.Run(ctx, symbols, opts, r.refreshOne)
	r.writer.Flush(context.WithoutCancel(ctx))
	after := r.writer.Stats()

	res := toResult(agg)
	dropped := int(after.Dropped - before.Dropped)
	if dropped > 0 {
		res.Succeeded -= dropped
		res.Failed += dropped
	}

	if agg.Err != nil {
		return res, fmt.Errorf("refresh %s: %w", r.cfg.Capability, agg.Err)
	}
	if dropped > 0 && after.Inserts == before.Inserts {
		return res, errSaveFailed
	}
	return res, nil
}

func (r *Refresh) refreshOne(ctx context.Context, symbol string) (batch.Disposition, error) {
	res := r.chain.FetchWithFallback(ctx, symbol, r.cfg.Capability)

	p, ok := res.Outcome.Payload()
	if ok {
		r.writer.Add(ctx, p)
		return batch.Updated, nil
	}

	if res.Outcome.Kind() == model.OutcomeNotFound {
		// Removal is decided by the existence stage, not here.
		r.logger.Debug("no provider has data", "symbol", symbol, "attempts", len(res.Attempts))
		return batch.Unchanged, nil
	}
	return batch.Failed, fmt.Errorf("%s via %s: %s", r.cfg.Capability, res.Provider, res.Outcome)
}
