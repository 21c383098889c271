package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata" // schedule.timezone must resolve on hosts without zoneinfo

	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/provider"
)

// Validate checks that all required fields are set and values are valid.
func (c *RefresherConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Providers) == 0 {
		return errors.New("providers must list at least one provider")
	}
	names := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if err := c.Providers[i].validate(prefix); err != nil {
			return err
		}
		if names[c.Providers[i].Name] {
			return fmt.Errorf("%s.name %q is duplicated", prefix, c.Providers[i].Name)
		}
		names[c.Providers[i].Name] = true
	}

	if c.Consensus.Quorum < 1 {
		return errors.New("consensus.quorum must be >= 1")
	}
	if c.Consensus.Concurrency < 1 {
		return errors.New("consensus.concurrency must be >= 1")
	}

	if c.Batch.Size < 1 {
		return errors.New("batch.size must be >= 1")
	}
	if c.Batch.Delay < 0 {
		return errors.New("batch.delay must be >= 0")
	}
	if c.Batch.Workers < 1 {
		return errors.New("batch.workers must be >= 1")
	}

	if len(c.Stages) == 0 {
		return errors.New("stages must list at least one stage")
	}
	stages := make(map[string]bool, len(c.Stages))
	critical := ""
	for i := range c.Stages {
		s := &c.Stages[i]
		prefix := fmt.Sprintf("stages[%d]", i)
		if err := s.validate(prefix); err != nil {
			return err
		}
		if stages[s.Name] {
			return fmt.Errorf("%s.name %q is duplicated", prefix, s.Name)
		}
		stages[s.Name] = true
		if s.Critical {
			if critical != "" {
				return fmt.Errorf("%s.critical: only one critical stage allowed, %q is already critical", prefix, critical)
			}
			critical = s.Name
		}
	}

	if c.Run.TotalBudget < 0 {
		return errors.New("run.total_budget must be >= 0")
	}
	if c.Run.LockPath == "" {
		return errors.New("run.lock_path is required")
	}

	if _, err := time.Parse("15:04", c.Schedule.At); err != nil {
		return fmt.Errorf("schedule.at must be HH:MM, got %q", c.Schedule.At)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}

	switch c.Store.Driver {
	case "postgres":
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return errors.New("store.sqlite.path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be postgres, sqlite or memory, got %q", c.Store.Driver)
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// SlogLevel parses the configured log level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, err
	}
	return level, nil
}

// Critical returns the name of the critical stage, if any.
func (c *RefresherConfig) Critical() string {
	for _, s := range c.Stages {
		if s.Critical {
			return s.Name
		}
	}
	return ""
}

func (p *ProviderConfig) validate(prefix string) error {
	if p.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if _, err := provider.ParseKind(p.Kind); err != nil {
		return fmt.Errorf("%s.kind: %w", prefix, err)
	}
	for j, c := range p.Capabilities {
		if _, err := model.ParseCapability(c); err != nil {
			return fmt.Errorf("%s.capabilities[%d]: %w", prefix, j, err)
		}
	}
	if p.Quota.Limit < 0 {
		return fmt.Errorf("%s.quota.limit must be >= 0", prefix)
	}
	if p.Quota.Limit > 0 && p.Quota.Period <= 0 {
		return fmt.Errorf("%s.quota.period must be > 0 when a limit is set", prefix)
	}
	if p.RPS < 0 {
		return fmt.Errorf("%s.rps must be >= 0", prefix)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries must be >= 0", prefix)
	}
	return nil
}

func (s *StageConfig) validate(prefix string) error {
	if s.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	switch s.Kind {
	case StageKindRefresh:
		c, err := model.ParseCapability(s.Capability)
		if err != nil {
			return fmt.Errorf("%s.capability: %w", prefix, err)
		}
		if c == model.CapExistence {
			return fmt.Errorf("%s.capability: refresh stages cannot use existence, use kind existence", prefix)
		}
	case StageKindExistence:
		if s.Capability != string(model.CapExistence) {
			return fmt.Errorf("%s.capability must be existence for an existence stage", prefix)
		}
	default:
		return fmt.Errorf("%s.kind must be refresh or existence, got %q", prefix, s.Kind)
	}
	if s.Budget < 0 {
		return fmt.Errorf("%s.budget must be >= 0", prefix)
	}
	if s.MaxEntities < 0 {
		return fmt.Errorf("%s.max_entities must be >= 0", prefix)
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("%s.batch_size must be >= 1", prefix)
	}
	if s.Workers < 1 {
		return fmt.Errorf("%s.workers must be >= 1", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
