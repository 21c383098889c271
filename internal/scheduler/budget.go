package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rickgao/instrument-refresh/internal/clock"
)

// ErrBudgetExceeded may be returned by stage work that stopped because its
// budget refused further entities. The stage is then reported as truncated
// rather than failed.
var ErrBudgetExceeded = errors.New("stage budget exceeded")

// Budget limits a single stage. It is created when the stage starts and
// discarded when it ends.
type Budget struct {
	clock       clock.Clock
	limit       time.Duration
	maxEntities int // 0 means no cap

	mu         sync.Mutex
	start      time.Time
	processed  int
	truncation State // NotStarted until a limit is hit
}

// NewBudget starts a budget at the current clock time.
func NewBudget(clk clock.Clock, limit time.Duration, maxEntities int) *Budget {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Budget{
		clock:       clk,
		limit:       limit,
		maxEntities: maxEntities,
		start:       clk.Now(),
	}
}

// Allow reserves a slot for one more entity. It returns false once the
// wall-clock limit has elapsed or the entity cap is reached, and keeps
// returning false afterwards.
func (b *Budget) Allow() bool {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncation != NotStarted {
		return false
	}
	if now.Sub(b.start) >= b.limit {
		b.truncation = TruncatedByBudget
		return false
	}
	if b.maxEntities > 0 && b.processed >= b.maxEntities {
		b.truncation = TruncatedByCount
		return false
	}
	b.processed++
	return true
}

// Processed returns the number of entities admitted so far.
func (b *Budget) Processed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processed
}

// Elapsed returns time since the stage started.
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.start)
}

// Remaining returns the unspent wall-clock allowance (never negative).
func (b *Budget) Remaining() time.Duration {
	return max(b.limit-b.Elapsed(), 0)
}

// Limit returns the wall-clock limit.
func (b *Budget) Limit() time.Duration { return b.limit }

// Truncation returns TruncatedByBudget or TruncatedByCount once Allow has
// refused, and NotStarted before that.
func (b *Budget) Truncation() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncation
}

// Err returns ErrBudgetExceeded wrapped with the reason once truncated.
func (b *Budget) Err() error {
	switch b.Truncation() {
	case TruncatedByBudget:
		return fmt.Errorf("%w: %s elapsed", ErrBudgetExceeded, b.limit)
	case TruncatedByCount:
		return fmt.Errorf("%w: %d entities processed", ErrBudgetExceeded, b.maxEntities)
	default:
		return nil
	}
}

func (b *Budget) reason() string {
	switch b.Truncation() {
	case TruncatedByBudget:
		return fmt.Sprintf("wall-clock budget %s exhausted after %d entities", b.limit, b.Processed())
	case TruncatedByCount:
		return fmt.Sprintf("entity cap %d reached", b.maxEntities)
	default:
		return ""
	}
}

type budgetKey struct{}

// WithBudget returns a context carrying b.
func WithBudget(ctx context.Context, b *Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// BudgetFrom returns the budget stored in ctx, if any.
func BudgetFrom(ctx context.Context) (*Budget, bool) {
	b, ok := ctx.Value(budgetKey{}).(*Budget)
	return b, ok
}
