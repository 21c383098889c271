package fallback

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/instrument-refresh/internal/model"
)

// Fetcher is one member of the chain.
type Fetcher interface {
	Name() string
	Supports(c model.Capability) bool
	Fetch(ctx context.Context, symbol string, c model.Capability) model.FetchOutcome
}

// Attempt records one non-winning call made by FetchWithFallback.
type Attempt struct {
	Provider string
	Outcome  model.FetchOutcome
}

// Resolution is the result of FetchWithFallback.
type Resolution struct {
	Outcome  model.FetchOutcome
	Provider string    // Fetcher that produced Outcome ("" when none supported the capability)
	Attempts []Attempt // Failed calls before Outcome, in order
}

// Response is one fetcher's answer in QueryAll.
type Response struct {
	Provider string
	Outcome  model.FetchOutcome
}

// DefaultConcurrency bounds QueryAll fan-out.
const DefaultConcurrency = 8

// Chain tries fetchers in configured order.
type Chain struct {
	fetchers    []Fetcher
	concurrency int
	logger      *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithConcurrency bounds the number of simultaneous QueryAll calls.
func WithConcurrency(n int) Option {
	return func(c *Chain) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a chain over fetchers, preserving their order.
func New(fetchers []Fetcher, opts ...Option) *Chain {
	c := &Chain{
		fetchers:    append([]Fetcher(nil), fetchers...),
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Len returns the number of fetchers in the chain.
func (c *Chain) Len() int { return len(c.fetchers) }

// Supporting returns how many fetchers serve capability.
func (c *Chain) Supporting(capability model.Capability) int {
	n := 0
	for _, f := range c.fetchers {
		if f.Supports(capability) {
			n++
		}
	}
	return n
}

// FetchWithFallback returns the first Success in chain order. Any other
// outcome is recorded and the next fetcher is tried. When every fetcher
// fails, the last outcome seen is returned.
func (c *Chain) FetchWithFallback(ctx context.Context, symbol string, capability model.Capability) Resolution {
	var res Resolution
	tried := false

	for _, f := range c.fetchers {
		if !f.Supports(capability) {
			continue
		}
		if tried && ctx.Err() != nil {
			break
		}
		tried = true

		out := safeFetch(ctx, f, symbol, capability)
		if out.IsSuccess() {
			res.Outcome = out
			res.Provider = f.Name()
			return res
		}

		c.logger.Debug("provider miss, falling back",
			"provider", f.Name(),
			"symbol", symbol,
			"capability", capability,
			"outcome", out.Kind(),
			"reason", out.Reason(),
		)
		res.Attempts = append(res.Attempts, Attempt{Provider: f.Name(), Outcome: out})
	}

	if !tried {
		res.Outcome = model.Failure(fmt.Sprintf("no provider supports %s", capability))
		return res
	}

	last := res.Attempts[len(res.Attempts)-1]
	res.Outcome = last.Outcome
	res.Provider = last.Provider
	return res
}

// QueryAll asks every supporting fetcher for capability concurrently and returns
// their answers in chain order.
func (c *Chain) QueryAll(ctx context.Context, symbol string, capability model.Capability) []Response {
	members := make([]Fetcher, 0, len(c.fetchers))
	for _, f := range c.fetchers {
		if f.Supports(capability) {
			members = append(members, f)
		}
	}

	responses := make([]Response, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, f := range members {
		g.Go(func() error {
			responses[i] = Response{Provider: f.Name(), Outcome: safeFetch(gctx, f, symbol, capability)}
			return nil
		})
	}
	_ = g.Wait() // Workers never return errors.

	return responses
}

// safeFetch converts a panicking fetcher into an Error outcome.
func safeFetch(ctx context.Context, f Fetcher, symbol string, capability model.Capability) (out model.FetchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = model.Failure(fmt.Sprintf("panic: %v", r))
		}
	}()
	return f.Fetch(ctx, symbol, capability)
}
