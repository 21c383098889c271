package config

import "time"

// RefresherConfig is the root configuration for a refresher instance.
type RefresherConfig struct {
	Instance  InstanceConfig   `yaml:"instance"`
	Providers []ProviderConfig `yaml:"providers"`
	Universe  []string         `yaml:"universe"` // Seeds an empty store
	Consensus ConsensusConfig  `yaml:"consensus"`
	Batch     BatchConfig      `yaml:"batch"`
	Stages    []StageConfig    `yaml:"stages"`
	Run       RunConfig        `yaml:"run"`
	Schedule  ScheduleConfig   `yaml:"schedule"`
	Store     StoreConfig      `yaml:"store"`
	Health    HealthConfig     `yaml:"health"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// InstanceConfig identifies this refresher.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ProviderConfig describes one provider adapter. Providers are tried in the
// order they are listed.
type ProviderConfig struct {
	Name         string        `yaml:"name"`
	Kind         string        `yaml:"kind"` // ssi, vndirect, tcbs
	BaseURL      string        `yaml:"base_url"`
	Keys         []string      `yaml:"keys"`
	Capabilities []string      `yaml:"capabilities"` // Empty means everything the kind serves
	Quota        QuotaConfig   `yaml:"quota"`
	RPS          float64       `yaml:"rps"` // 0 disables pacing
	Burst        int           `yaml:"burst"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// QuotaConfig is a provider's call allowance per period.
type QuotaConfig struct {
	Limit  int           `yaml:"limit"` // 0 means unlimited
	Period time.Duration `yaml:"period"`
}

// ConsensusConfig holds existence quorum settings.
type ConsensusConfig struct {
	Quorum      int `yaml:"quorum"`
	Concurrency int `yaml:"concurrency"`
}

// BatchConfig holds default batching for stages that do not override it.
type BatchConfig struct {
	Size    int           `yaml:"size"`
	Delay   time.Duration `yaml:"delay"`
	Workers int           `yaml:"workers"`
}

// StageConfig describes one stage of a run.
type StageConfig struct {
	Name        string        `yaml:"name"`
	Kind        string        `yaml:"kind"`       // refresh or existence
	Capability  string        `yaml:"capability"` // refresh stages only
	MaxEntities int           `yaml:"max_entities"`
	Critical    bool          `yaml:"critical"`
	StaleAfter  time.Duration `yaml:"stale_after"` // refresh stages skip entities updated more recently
	BatchSize   int           `yaml:"batch_size"`
	Delay       time.Duration `yaml:"delay"`
	Workers     int           `yaml:"workers"`

	// BudgetSetting is the budget as written in the file; nil when omitted.
	// An explicit 0s is kept and gives a stage that processes nothing.
	BudgetSetting *time.Duration `yaml:"budget"`

	// Budget is the effective limit after defaults.
	Budget time.Duration `yaml:"-"`
}

// RunConfig bounds a whole run.
type RunConfig struct {
	TotalBudget time.Duration `yaml:"total_budget"`
	LockPath    string        `yaml:"lock_path"`
}

// ScheduleConfig is the daemon's daily trigger.
type ScheduleConfig struct {
	At       string `yaml:"at"` // HH:MM
	Timezone string `yaml:"timezone"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver   string       `yaml:"driver"` // postgres, sqlite, memory
	Postgres DBConfig     `yaml:"postgres"`
	SQLite   SQLiteConfig `yaml:"sqlite"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// SQLiteConfig holds the sqlite database location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// HealthConfig holds the daemon's health server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}
