package consensus

import (
	"context"
	"log/slog"

	"github.com/rickgao/instrument-refresh/internal/fallback"
	"github.com/rickgao/instrument-refresh/internal/model"
)

// DefaultQuorum is the number of NotFound answers needed to remove an entity.
const DefaultQuorum = 2

// QueryAller fans a request out to every supporting provider.
type QueryAller interface {
	QueryAll(ctx context.Context, symbol string, c model.Capability) []fallback.Response
	Supporting(c model.Capability) int
}

// Result is the per-entity verdict.
type Result struct {
	Symbol       string
	Found        int
	NotFound     int
	RateLimited  int
	Errors       int
	Responses    []fallback.Response
	Quorum       int
	ShouldRemove bool
}

// Responded returns the number of providers that gave a definitive answer.
func (r Result) Responded() int { return r.Found + r.NotFound }

// Decide buckets responses and applies the quorum rule.
func Decide(responses []fallback.Response, k int) Result {
	res := Result{Responses: responses, Quorum: k}
	for _, r := range responses {
		switch r.Outcome.Kind() {
		case model.OutcomeSuccess:
			res.Found++
		case model.OutcomeNotFound:
			res.NotFound++
		case model.OutcomeRateLimited:
			res.RateLimited++
		default:
			res.Errors++
		}
	}
	res.ShouldRemove = k > 0 && res.NotFound >= k
	return res
}

// Validator runs existence consensus over a provider chain.
type Validator struct {
	chain    QueryAller
	quorum   int
	disabled bool
	logger   *slog.Logger
}

// New creates a validator requiring quorum NotFound answers. If fewer than
// quorum providers support existence, removal is disabled and a warning is
// logged once.
func New(chain QueryAller, quorum int, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if quorum <= 0 {
		quorum = DefaultQuorum
	}

	v := &Validator{chain: chain, quorum: quorum, logger: logger}

	supporting := chain.Supporting(model.CapExistence)
	if supporting < quorum {
		v.disabled = true
		logger.Warn("existence quorum unreachable, removal disabled",
			"quorum", quorum,
			"supporting_providers", supporting,
		)
	}
	return v
}

// Quorum returns K.
func (v *Validator) Quorum() int { return v.quorum }

// Enabled reports whether ShouldRemove can ever be true.
func (v *Validator) Enabled() bool { return !v.disabled }

// CheckExistence queries every existence-capable provider for symbol.
func (v *Validator) CheckExistence(ctx context.Context, symbol string) Result {
	responses := v.chain.QueryAll(ctx, symbol, model.CapExistence)
	res := Decide(responses, v.quorum)
	res.Symbol = symbol
	if v.disabled {
		res.ShouldRemove = false
	}

	v.logger.Debug("existence consensus",
		"symbol", symbol,
		"found", res.Found,
		"not_found", res.NotFound,
		"rate_limited", res.RateLimited,
		"errors", res.Errors,
		"remove", res.ShouldRemove,
	)
	return res
}
