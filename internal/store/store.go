package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/instrument-refresh/internal/config"
	"github.com/rickgao/instrument-refresh/internal/database"
	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/scheduler"
)

// ErrNotFound is returned when a symbol is not tracked.
var ErrNotFound = errors.New("symbol not tracked")

// Store is the persistence boundary of a run.
type Store interface {
	// LoadTrackedEntities returns active entities ordered by symbol.
	LoadTrackedEntities(ctx context.Context) ([]model.TrackedItem, error)

	// Track adds symbols, reactivating any that were removed.
	Track(ctx context.Context, symbols []string) (int, error)

	// MarkRemoved deactivates symbol permanently.
	MarkRemoved(ctx context.Context, symbol string, at time.Time) error

	// MarkUpdated records a successful refresh of capability c.
	MarkUpdated(ctx context.Context, symbol string, c model.Capability, at time.Time) error

	// SaveSnapshot upserts the latest payload for (symbol, capability).
	SaveSnapshot(ctx context.Context, p model.Payload) error

	// SaveSnapshots upserts many payloads in one round trip.
	SaveSnapshots(ctx context.Context, ps []model.Payload) error

	// RecordStageProgress stores one stage summary for runID.
	RecordStageProgress(ctx context.Context, runID string, s scheduler.StageSummary) error

	Ping(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s := NewPostgres(pool, logger)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLite.Path, logger)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
