package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/instrument-refresh/internal/batch"
	"github.com/rickgao/instrument-refresh/internal/clock"
	"github.com/rickgao/instrument-refresh/internal/consensus"
	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/scheduler"
	"github.com/rickgao/instrument-refresh/internal/store"
)

// ExistenceChecker runs the removal quorum for one symbol.
type ExistenceChecker interface {
	CheckExistence(ctx context.Context, symbol string) consensus.Result
}

// Tracker is the store surface the existence stage writes to.
type Tracker interface {
	EntitySource
	MarkRemoved(ctx context.Context, symbol string, at time.Time) error
	MarkUpdated(ctx context.Context, symbol string, c model.Capability, at time.Time) error
}

// errNoVerdict marks an entity where no provider answered definitively.
var errNoVerdict = errors.New("no definitive existence answer")

// ExistenceConfig describes the existence stage.
type ExistenceConfig struct {
	StaleAfter time.Duration
	Batch      batch.Options
}

// Existence removes entities that a quorum of providers no longer lists.
type Existence struct {
	cfg       ExistenceConfig
	tracker   Tracker
	validator ExistenceChecker
	runner    *batch.Runner
	clock     clock.Clock
	logger    *slog.Logger
}

// NewExistence creates the existence stage.
func NewExistence(cfg ExistenceConfig, tracker Tracker, validator ExistenceChecker, runner *batch.Runner, clk clock.Clock, logger *slog.Logger) *Existence {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = batch.NewRunner(clk, logger)
	}
	return &Existence{
		cfg:       cfg,
		tracker:   tracker,
		validator: validator,
		runner:    runner,
		clock:     clk,
		logger:    logger,
	}
}

// Work is the stage's scheduler.WorkFunc.
func (e *Existence) Work(ctx context.Context, b *scheduler.Budget) (scheduler.Result, error) {
	items, err := e.tracker.LoadTrackedEntities(ctx)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("load tracked entities: %w", err)
	}

	symbols := staleFirst(items, model.CapExistence, e.clock.Now(), e.cfg.StaleAfter)
	e.logger.Info("checking existence", "tracked", len(items), "due", len(symbols))

	opts := e.cfg.Batch
	opts.Gate = b

	agg := e.runner.Run(ctx, symbols, opts, e.checkOne)
	res := toResult(agg)
	if agg.Err != nil {
		return res, fmt.Errorf("check existence: %w", agg.Err)
	}
	return res, nil
}

func (e *Existence) checkOne(ctx context.Context, symbol string) (batch.Disposition, error) {
	res := e.validator.CheckExistence(ctx, symbol)
	now := e.clock.Now()

	if res.ShouldRemove {
		if err := e.tracker.MarkRemoved(ctx, symbol, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return batch.Unchanged, nil
			}
			return batch.Failed, fmt.Errorf("mark removed: %w", err)
		}
		e.logger.Info("entity removed from tracking",
			"symbol", symbol,
			"not_found", res.NotFound,
			"found", res.Found,
			"quorum", res.Quorum,
		)
		return batch.Removed, nil
	}

	if res.Responded() == 0 {
		return batch.Failed, fmt.Errorf("%w (rate limited %d, errors %d)", errNoVerdict, res.RateLimited, res.Errors)
	}

	if err := e.tracker.MarkUpdated(ctx, symbol, model.CapExistence, now); err != nil {
		return batch.Failed, fmt.Errorf("mark checked: %w", err)
	}
	return batch.Unchanged, nil
}
