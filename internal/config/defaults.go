package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultProviderTimeout = 30 * time.Second
	DefaultMaxRetries      = 2
	DefaultRetryBackoff    = 1 * time.Second
	DefaultQuotaPeriod     = time.Hour
	DefaultQuorum          = 2
	DefaultConcurrency     = 8
	DefaultBatchSize       = 50
	DefaultBatchDelay      = 2 * time.Second
	DefaultWorkers         = 4
	DefaultStageBudget     = 30 * time.Minute
	DefaultTotalBudget     = 3 * time.Hour
	DefaultLockPath        = "/tmp/instrument-refresh.lock"
	DefaultScheduleAt      = "02:00"
	DefaultTimezone        = "Asia/Ho_Chi_Minh"
	DefaultStoreDriver     = "postgres"
	DefaultSQLitePath      = "instrument-refresh.db"
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultHealthPort      = 8080
	DefaultLogLevel        = "info"
)

// Stage kinds.
const (
	StageKindRefresh   = "refresh"
	StageKindExistence = "existence"
)

// DefaultStages is the plan used when the config lists no stages.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{Name: "quote", Kind: StageKindRefresh, Capability: "quote", Budget: 45 * time.Minute, StaleAfter: 12 * time.Hour},
		{Name: "profile", Kind: StageKindRefresh, Capability: "profile", Budget: 20 * time.Minute, StaleAfter: 7 * 24 * time.Hour},
		{Name: "existence", Kind: StageKindExistence, Budget: 30 * time.Minute, Critical: true},
	}
}

func (c *RefresherConfig) applyDefaults() {
	// Provider defaults
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			p.Name = p.Kind
		}
		if p.Timeout == 0 {
			p.Timeout = DefaultProviderTimeout
		}
		if p.MaxRetries == 0 {
			p.MaxRetries = DefaultMaxRetries
		}
		if p.RetryBackoff == 0 {
			p.RetryBackoff = DefaultRetryBackoff
		}
		if p.Quota.Limit > 0 && p.Quota.Period == 0 {
			p.Quota.Period = DefaultQuotaPeriod
		}
	}

	// Consensus defaults
	if c.Consensus.Quorum == 0 {
		c.Consensus.Quorum = DefaultQuorum
	}
	if c.Consensus.Concurrency == 0 {
		c.Consensus.Concurrency = DefaultConcurrency
	}

	// Batch defaults
	if c.Batch.Size == 0 {
		c.Batch.Size = DefaultBatchSize
	}
	if c.Batch.Delay == 0 {
		c.Batch.Delay = DefaultBatchDelay
	}
	if c.Batch.Workers == 0 {
		c.Batch.Workers = DefaultWorkers
	}

	// Stage defaults, inheriting batching from the batch section
	if len(c.Stages) == 0 {
		c.Stages = DefaultStages()
	}
	for i := range c.Stages {
		s := &c.Stages[i]
		if s.Kind == "" {
			s.Kind = StageKindRefresh
		}
		if s.Kind == StageKindExistence && s.Capability == "" {
			s.Capability = "existence"
		}
		switch {
		case s.BudgetSetting != nil:
			s.Budget = *s.BudgetSetting
		case s.Budget == 0:
			s.Budget = DefaultStageBudget
		}
		if s.BatchSize == 0 {
			s.BatchSize = c.Batch.Size
		}
		if s.Delay == 0 {
			s.Delay = c.Batch.Delay
		}
		if s.Workers == 0 {
			s.Workers = c.Batch.Workers
		}
	}

	// Run defaults
	if c.Run.TotalBudget == 0 {
		c.Run.TotalBudget = DefaultTotalBudget
	}
	if c.Run.LockPath == "" {
		c.Run.LockPath = DefaultLockPath
	}

	// Schedule defaults
	if c.Schedule.At == "" {
		c.Schedule.At = DefaultScheduleAt
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = DefaultTimezone
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	applyDBDefaults(&c.Store.Postgres)
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = DefaultSQLitePath
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
