package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/rickgao/instrument-refresh/internal/batch"
	"github.com/rickgao/instrument-refresh/internal/clock"
	"github.com/rickgao/instrument-refresh/internal/config"
	"github.com/rickgao/instrument-refresh/internal/consensus"
	"github.com/rickgao/instrument-refresh/internal/fallback"
	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/provider"
	"github.com/rickgao/instrument-refresh/internal/scheduler"
	"github.com/rickgao/instrument-refresh/internal/stages"
	"github.com/rickgao/instrument-refresh/internal/store"
	"github.com/rickgao/instrument-refresh/internal/writer"
)

// ErrNoProviders is returned when no configured provider has usable keys.
var ErrNoProviders = errors.New("no provider could be constructed")

// Job is a configured refresher.
type Job struct {
	cfg       *config.RefresherConfig
	store     store.Store
	adapters  []*provider.Adapter
	chain     *fallback.Chain
	validator *consensus.Validator
	writer    *writer.SnapshotWriter
	runner    *batch.Runner
	scheduler *scheduler.Scheduler
	clock     clock.Clock
	logger    *slog.Logger

	runMu   sync.Mutex // Serializes runs
	mu      sync.Mutex // Guards last and running
	last    *scheduler.RunReport
	running bool
}

type options struct {
	clock      clock.Clock
	httpClient *http.Client
	store      store.Store
}

// Option configures New.
type Option func(*options)

// WithClock sets the time source for quotas, budgets and batch delays.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithHTTPClient sets the client used by every provider adapter.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithStore uses an already open store instead of cfg.Store.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// New wires a job from validated configuration.
func New(ctx context.Context, cfg *config.RefresherConfig, logger *slog.Logger, opts ...Option) (*Job, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}

	adapters, err := BuildAdapters(cfg.Providers, o.clock, o.httpClient, logger)
	if err != nil {
		return nil, err
	}

	st := o.store
	if st == nil {
		st, err = store.Open(ctx, cfg.Store, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	if err := seedUniverse(ctx, st, cfg.Universe, logger); err != nil {
		if o.store == nil {
			_ = st.Close()
		}
		return nil, err
	}

	fetchers := make([]fallback.Fetcher, len(adapters))
	for i, a := range adapters {
		fetchers[i] = a
	}
	chain := fallback.New(fetchers,
		fallback.WithConcurrency(cfg.Consensus.Concurrency),
		fallback.WithLogger(logger),
	)

	j := &Job{
		cfg:       cfg,
		store:     st,
		adapters:  adapters,
		chain:     chain,
		validator: consensus.New(chain, cfg.Consensus.Quorum, logger),
		writer:    writer.NewSnapshotWriter(writer.Config{BatchSize: cfg.Batch.Size}, st, logger),
		runner:    batch.NewRunner(o.clock, logger),
		scheduler: scheduler.New(
			scheduler.WithClock(o.clock),
			scheduler.WithLogger(logger),
			scheduler.WithRecorder(st),
			scheduler.WithTotalBudget(cfg.Run.TotalBudget),
		),
		clock:  o.clock,
		logger: logger,
	}

	logger.Info("refresher assembled",
		"instance_id", cfg.Instance.ID,
		"providers", len(adapters),
		"existence_providers", chain.Supporting(model.CapExistence),
		"quorum", cfg.Consensus.Quorum,
		"store", cfg.Store.Driver,
	)
	return j, nil
}

// seedUniverse tracks symbols when the store has nothing tracked yet. A store
// that already holds a universe is left alone so removals stick.
func seedUniverse(ctx context.Context, st store.Store, symbols []string, logger *slog.Logger) error {
	if len(symbols) == 0 {
		return nil
	}
	items, err := st.LoadTrackedEntities(ctx)
	if err != nil {
		return fmt.Errorf("load tracked entities: %w", err)
	}
	if len(items) > 0 {
		logger.Debug("store already tracks entities, universe not seeded", "tracked", len(items))
		return nil
	}
	added, err := st.Track(ctx, symbols)
	if err != nil {
		return fmt.Errorf("seed universe: %w", err)
	}
	logger.Info("tracked universe seeded", "added", added)
	return nil
}

// BuildAdapters constructs adapters in configured order. Providers without
// keys are left out of the chain.
func BuildAdapters(providers []config.ProviderConfig, clk clock.Clock, hc *http.Client, logger *slog.Logger) ([]*provider.Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	adapters := make([]*provider.Adapter, 0, len(providers))
	for _, pc := range providers {
		kind, err := provider.ParseKind(pc.Kind)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}

		caps := make([]model.Capability, 0, len(pc.Capabilities))
		for _, s := range pc.Capabilities {
			c, err := model.ParseCapability(s)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
			caps = append(caps, c)
		}

		a, err := provider.New(provider.Config{
			Name:         pc.Name,
			Kind:         kind,
			BaseURL:      pc.BaseURL,
			Keys:         pc.Keys,
			Capabilities: caps,
			QuotaLimit:   pc.Quota.Limit,
			QuotaPeriod:  pc.Quota.Period,
			RPS:          pc.RPS,
			Burst:        pc.Burst,
			Timeout:      pc.Timeout,
			MaxRetries:   pc.MaxRetries,
			RetryBackoff: pc.RetryBackoff,
			HTTPClient:   hc,
		}, clk, logger)
		if errors.Is(err, provider.ErrNoKeys) {
			logger.Info("provider has no api keys, skipping", "provider", pc.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("build provider: %w", err)
		}
		adapters = append(adapters, a)
	}

	if len(adapters) == 0 {
		return nil, ErrNoProviders
	}
	return adapters, nil
}

// Stages builds the scheduler plan. A non-empty only restricts the plan to
// the named stages, keeping configured order.
func (j *Job) Stages(only []string) ([]scheduler.Stage, error) {
	for _, name := range only {
		if !slices.ContainsFunc(j.cfg.Stages, func(s config.StageConfig) bool { return s.Name == name }) {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
	}

	plan := make([]scheduler.Stage, 0, len(j.cfg.Stages))
	for _, sc := range j.cfg.Stages {
		if len(only) > 0 && !slices.Contains(only, sc.Name) {
			continue
		}

		opts := batch.Options{BatchSize: sc.BatchSize, Delay: sc.Delay, Workers: sc.Workers}
		logger := j.logger.With("stage", sc.Name)

		var work scheduler.WorkFunc
		switch sc.Kind {
		case config.StageKindExistence:
			work = stages.NewExistence(
				stages.ExistenceConfig{StaleAfter: sc.StaleAfter, Batch: opts},
				j.store, j.validator, j.runner, j.clock, logger,
			).Work
		case config.StageKindRefresh:
			c, err := model.ParseCapability(sc.Capability)
			if err != nil {
				return nil, fmt.Errorf("stage %s: %w", sc.Name, err)
			}
			work = stages.NewRefresh(
				stages.RefreshConfig{Capability: c, StaleAfter: sc.StaleAfter, Batch: opts},
				j.store, j.chain, j.writer, j.runner, j.clock, logger,
			).Work
		default:
			return nil, fmt.Errorf("stage %s: unknown kind %q", sc.Name, sc.Kind)
		}

		plan = append(plan, scheduler.Stage{
			Name:        sc.Name,
			Budget:      sc.Budget,
			MaxEntities: sc.MaxEntities,
			Critical:    sc.Critical,
			Work:        work,
		})
	}
	return plan, nil
}

// Run executes one refresh run. Concurrent calls are serialized.
func (j *Job) Run(ctx context.Context, only []string) (scheduler.RunReport, error) {
	plan, err := j.Stages(only)
	if err != nil {
		return scheduler.RunReport{}, err
	}

	j.runMu.Lock()
	defer j.runMu.Unlock()

	j.setRunning(true)
	report := j.scheduler.Run(ctx, plan)
	j.logQuotas()

	j.mu.Lock()
	j.last = &report
	j.running = false
	j.mu.Unlock()
	return report, nil
}

func (j *Job) setRunning(v bool) {
	j.mu.Lock()
	j.running = v
	j.mu.Unlock()
}

// Running reports whether a run is in progress.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// LastReport returns the most recent run report.
func (j *Job) LastReport() (scheduler.RunReport, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.last == nil {
		return scheduler.RunReport{}, false
	}
	return *j.last, true
}

// ProviderStatus is a provider's quota usage.
type ProviderStatus struct {
	Name         string              `json:"name"`
	Kind         string              `json:"kind"`
	Capabilities []model.Capability  `json:"capabilities"`
	Quota        provider.QuotaStats `json:"quota"`
}

// Providers reports each adapter's capabilities and quota usage.
func (j *Job) Providers() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(j.adapters))
	for _, a := range j.adapters {
		var caps []model.Capability
		for _, c := range model.Capabilities {
			if a.Supports(c) {
				caps = append(caps, c)
			}
		}
		out = append(out, ProviderStatus{
			Name:         a.Name(),
			Kind:         a.Kind().String(),
			Capabilities: caps,
			Quota:        a.QuotaStats(),
		})
	}
	return out
}

// QuorumReachable reports whether the existence stage can ever remove entities.
func (j *Job) QuorumReachable() bool { return j.validator.Enabled() }

// Store returns the job's store.
func (j *Job) Store() store.Store { return j.store }

// Close releases the store.
func (j *Job) Close() error {
	return j.store.Close()
}

func (j *Job) logQuotas() {
	for _, p := range j.Providers() {
		j.logger.Info("provider quota",
			"provider", p.Name,
			"used", p.Quota.Used,
			"limit", p.Quota.Limit,
		)
	}
}
