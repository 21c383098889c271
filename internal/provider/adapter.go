package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/rickgao/instrument-refresh/internal/clock"
	"github.com/rickgao/instrument-refresh/internal/model"
)

// ReasonUnsupported is the Error reason for a capability the adapter does not serve.
const ReasonUnsupported = "unsupported"

// ErrNoKeys is returned by New for a provider configured without credentials.
var ErrNoKeys = errors.New("provider has no api keys")

// Config describes one adapter.
type Config struct {
	Name         string
	Kind         Kind
	BaseURL      string
	Keys         []string
	Capabilities []model.Capability // Empty means everything the kind serves
	QuotaLimit   int
	QuotaPeriod  time.Duration
	RPS          float64
	Burst        int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPClient   *http.Client // Optional, mainly for tests
}

// Adapter is a rate-limited, credential-rotating wrapper around one provider.
type Adapter struct {
	name    string
	kind    Kind
	caps    []model.Capability
	backend backend
	client  *Client
	keys    *KeyPool
	quota   *Quota
	clock   clock.Clock
	logger  *slog.Logger
}

// New builds an adapter. It returns ErrNoKeys when cfg has no usable keys.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}

	be, err := newBackend(cfg.Kind)
	if err != nil {
		return nil, err
	}

	keys := NewKeyPool(cfg.Keys)
	if keys.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrNoKeys)
	}

	caps := be.capabilities()
	if len(cfg.Capabilities) > 0 {
		for _, c := range cfg.Capabilities {
			if !slices.Contains(caps, c) {
				return nil, fmt.Errorf("%s: %s provider cannot serve %q", cfg.Name, cfg.Kind, c)
			}
		}
		caps = slices.Clone(cfg.Capabilities)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = be.defaultBaseURL()
	}

	name := cfg.Name
	if name == "" {
		name = cfg.Kind.String()
	}
	logger = logger.With("provider", name)

	opts := []ClientOption{
		WithLogger(logger),
		WithClientClock(clk),
		WithRateLimit(cfg.RPS, cfg.Burst),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	opts = append(opts, WithRetries(cfg.MaxRetries, cfg.RetryBackoff))

	return &Adapter{
		name:    name,
		kind:    cfg.Kind,
		caps:    caps,
		backend: be,
		client:  NewClient(baseURL, opts...),
		keys:    keys,
		quota:   NewQuota(cfg.QuotaLimit, cfg.QuotaPeriod, clk),
		clock:   clk,
		logger:  logger,
	}, nil
}

// Name returns the configured adapter name.
func (a *Adapter) Name() string { return a.name }

// Kind returns the provider implementation.
func (a *Adapter) Kind() Kind { return a.kind }

// Supports reports whether the adapter serves c.
func (a *Adapter) Supports(c model.Capability) bool {
	return slices.Contains(a.caps, c)
}

// QuotaStats returns the adapter's quota usage for the current period.
func (a *Adapter) QuotaStats() QuotaStats {
	return a.quota.Stats()
}

// Fetch requests capability c for symbol and classifies the result.
func (a *Adapter) Fetch(ctx context.Context, symbol string, c model.Capability) model.FetchOutcome {
	if !a.Supports(c) {
		return model.Failure(ReasonUnsupported)
	}

	// Local decision: no I/O once the period is exhausted. The slot is taken
	// per issued call, so 404s, 5xx and decode failures use up quota too.
	if !a.quota.Reserve() {
		return model.RateLimited("local quota exhausted")
	}

	body, err := a.client.getWithRetry(ctx, a.name, a.backend.endpoint(c, symbol), a.keys.Next(), a.backend.authorize)
	if err != nil {
		return a.classify(symbol, err)
	}

	payload, err := a.backend.decode(c, symbol, body)
	switch {
	case errors.Is(err, errAbsent):
		return model.NotFound(err.Error())
	case errors.Is(err, errThrottled):
		return model.RateLimited(err.Error())
	case err != nil:
		a.logger.Debug("decode failed", "symbol", symbol, "capability", c, "err", err)
		return model.Failure(err.Error())
	}

	payload.Provider = a.name
	payload.FetchedAt = a.clock.Now()
	return model.Success(payload)
}

// classify maps a transport or HTTP error to an outcome.
func (a *Adapter) classify(symbol string, err error) model.FetchOutcome {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return model.RateLimited(apiErr.Error())
		case http.StatusNotFound:
			return model.NotFound(apiErr.Error())
		}
	}

	a.logger.Debug("fetch failed", "symbol", symbol, "err", err)
	return model.Failure(err.Error())
}
