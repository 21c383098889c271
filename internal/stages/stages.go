package stages

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/rickgao/instrument-refresh/internal/batch"
	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/scheduler"
)

// EntitySource lists the tracked universe.
type EntitySource interface {
	LoadTrackedEntities(ctx context.Context) ([]model.TrackedItem, error)
}

// staleFirst returns symbols whose capability c was last refreshed before
// now-staleAfter, least recently refreshed first. Never-refreshed entities
// lead. A zero staleAfter selects everything.
func staleFirst(items []model.TrackedItem, c model.Capability, now time.Time, staleAfter time.Duration) []string {
	type candidate struct {
		symbol string
		at     time.Time
	}

	cutoff := now.Add(-staleAfter)
	picked := make([]candidate, 0, len(items))
	for _, it := range items {
		at := it.UpdatedAt(c)
		if staleAfter > 0 && !at.IsZero() && at.After(cutoff) {
			continue
		}
		picked = append(picked, candidate{symbol: it.Symbol, at: at})
	}

	slices.SortFunc(picked, func(a, b candidate) int {
		if n := a.at.Compare(b.at); n != 0 {
			return n
		}
		return cmp.Compare(a.symbol, b.symbol)
	})

	out := make([]string, len(picked))
	for i, p := range picked {
		out[i] = p.symbol
	}
	return out
}

// toResult converts a batch aggregate into the scheduler's stage result.
func toResult(agg batch.Aggregate) scheduler.Result {
	return scheduler.Result{
		Attempted: agg.Attempted,
		Succeeded: agg.Updated + agg.Unchanged,
		Removed:   agg.Removed,
		Failed:    agg.Failed,
	}
}
