package provider

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/instrument-refresh/internal/clock"
)

// Quota counts calls issued to a provider within a wall-clock period.
// Periods are aligned with time.Truncate, so a 24h quota resets at UTC midnight.
type Quota struct {
	limit  int
	period time.Duration
	clock  clock.Clock

	mu          sync.Mutex
	windowStart time.Time
	used        int
}

// QuotaStats is a point-in-time view of a Quota.
type QuotaStats struct {
	Limit       int       `json:"limit"`
	Used        int       `json:"used"`
	WindowStart time.Time `json:"window_start"`
}

// NewQuota creates a quota of limit calls per period. A non-positive limit
// never refuses but still counts.
func NewQuota(limit int, period time.Duration, clk clock.Clock) *Quota {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Quota{limit: limit, period: period, clock: clk}
}

// Reserve claims one call slot. It returns false, without claiming, when
// the current period is exhausted.
func (q *Quota) Reserve() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollLocked(q.clock.Now())
	if q.limit > 0 && q.used >= q.limit {
		return false
	}
	q.used++
	return true
}

// Stats returns the current counter.
func (q *Quota) Stats() QuotaStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollLocked(q.clock.Now())
	return QuotaStats{Limit: q.limit, Used: q.used, WindowStart: q.windowStart}
}

func (q *Quota) rollLocked(now time.Time) {
	start := now
	if q.period > 0 {
		start = now.Truncate(q.period)
	}
	if q.windowStart.IsZero() || (q.period > 0 && !start.Equal(q.windowStart)) {
		q.windowStart = start
		q.used = 0
	}
}

// KeyPool hands out API keys round-robin.
type KeyPool struct {
	keys []string
	next atomic.Uint64
}

// NewKeyPool keeps the non-empty keys in order.
func NewKeyPool(keys []string) *KeyPool {
	kept := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			kept = append(kept, k)
		}
	}
	return &KeyPool{keys: kept}
}

// Next returns the next key, or "" for an empty pool.
func (p *KeyPool) Next() string {
	if len(p.keys) == 0 {
		return ""
	}
	i := p.next.Add(1) - 1
	return p.keys[i%uint64(len(p.keys))]
}

// Len returns the number of keys.
func (p *KeyPool) Len() int {
	return len(p.keys)
}
