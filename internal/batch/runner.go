package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/instrument-refresh/internal/clock"
)

// Disposition is what an operation did to one entity.
type Disposition int

const (
	Unchanged Disposition = iota
	Updated
	Removed
	Failed
)

func (d Disposition) String() string {
	switch d {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Op processes one symbol. A non-nil error marks the entity failed
// regardless of the returned Disposition.
type Op func(ctx context.Context, symbol string) (Disposition, error)

// Gate decides whether another entity may be processed.
type Gate interface {
	Allow() bool
}

// Options controls batching.
type Options struct {
	BatchSize int           // Entities per batch; <= 0 means one batch
	Delay     time.Duration // Pause between batches
	Workers   int           // Concurrent entities within a batch; <= 1 is sequential
	Gate      Gate          // Optional; nil allows everything
}

// EntityError pairs a symbol with the error it produced.
type EntityError struct {
	Symbol string
	Err    error
}

func (e EntityError) Error() string { return e.Symbol + ": " + e.Err.Error() }

// Aggregate summarizes a run.
type Aggregate struct {
	Total     int // Symbols handed to Run
	Attempted int
	Updated   int
	Removed   int
	Unchanged int
	Failed    int
	Errors    []EntityError
	Batches   int // Batches started
	Delays    int // Inter-batch pauses taken
	Stopped   bool  // Gate refused before every symbol was attempted
	Err       error // Context error when the run was cancelled
}

// Runner executes batched operations.
type Runner struct {
	clock  clock.Clock
	logger *slog.Logger
}

// NewRunner creates a runner. A nil clock uses the wall clock.
func NewRunner(clk clock.Clock, logger *slog.Logger) *Runner {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{clock: clk, logger: logger}
}

// Run applies op to every symbol. It sleeps opts.Delay between consecutive
// batches but never after the last one.
func (r *Runner) Run(ctx context.Context, symbols []string, opts Options, op Op) Aggregate {
	agg := Aggregate{Total: len(symbols)}
	if len(symbols) == 0 {
		return agg
	}

	size := opts.BatchSize
	if size <= 0 || size > len(symbols) {
		size = len(symbols)
	}

	var mu sync.Mutex
	record := func(symbol string, d Disposition, err error) {
		mu.Lock()
		defer mu.Unlock()
		agg.Attempted++
		if err != nil {
			agg.Failed++
			agg.Errors = append(agg.Errors, EntityError{Symbol: symbol, Err: err})
			return
		}
		switch d {
		case Updated:
			agg.Updated++
		case Removed:
			agg.Removed++
		case Failed:
			agg.Failed++
		default:
			agg.Unchanged++
		}
	}

	stop := func() {
		mu.Lock()
		agg.Stopped = ctx.Err() == nil
		agg.Err = ctx.Err()
		mu.Unlock()
	}

	for start := 0; start < len(symbols); start += size {
		// The gate is asked for the next batch's first entity before the
		// delay, so a refusal at a batch boundary costs no sleep.
		granted := false
		if start > 0 {
			if ctx.Err() != nil || (opts.Gate != nil && !opts.Gate.Allow()) {
				stop()
				break
			}
			granted = opts.Gate != nil
			if opts.Delay > 0 {
				if err := r.clock.Sleep(ctx, opts.Delay); err != nil {
					agg.Err = err
					break
				}
				agg.Delays++
			}
		}

		end := min(start+size, len(symbols))
		agg.Batches++

		if !r.runBatch(ctx, symbols[start:end], opts, granted, op, record) {
			stop()
			break
		}
	}

	r.logger.Debug("batch run complete",
		"total", agg.Total,
		"attempted", agg.Attempted,
		"updated", agg.Updated,
		"removed", agg.Removed,
		"failed", agg.Failed,
		"batches", agg.Batches,
		"stopped", agg.Stopped,
	)
	return agg
}

// runBatch processes one batch and reports whether the run may continue.
// granted means the gate already allowed the first entity.
func (r *Runner) runBatch(ctx context.Context, batch []string, opts Options, granted bool, op Op, record func(string, Disposition, error)) bool {
	workers := max(opts.Workers, 1)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	cont := true

	for i, symbol := range batch {
		if ctx.Err() != nil {
			cont = false
			break
		}
		if opts.Gate != nil && !(i == 0 && granted) && !opts.Gate.Allow() {
			cont = false
			break
		}

		if workers == 1 {
			d, err := safeApply(ctx, op, symbol)
			record(symbol, d, err)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			cont = false
		}
		if !cont {
			break
		}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()
			d, err := safeApply(ctx, op, symbol)
			record(symbol, d, err)
		}(symbol)
	}

	wg.Wait()
	return cont
}

// safeApply runs op, converting a panic into an error.
func safeApply(ctx context.Context, op Op, symbol string) (d Disposition, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d, err = Failed, fmt.Errorf("panic: %v", rec)
		}
	}()
	return op(ctx, symbol)
}
