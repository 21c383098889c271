package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/scheduler"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tracked_entities (
	symbol     TEXT PRIMARY KEY,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	added_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	removed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS entity_updates (
	symbol     TEXT NOT NULL REFERENCES tracked_entities(symbol),
	capability TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (symbol, capability)
);

CREATE TABLE IF NOT EXISTS snapshots (
	symbol     TEXT NOT NULL,
	capability TEXT NOT NULL,
	provider   TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	payload    JSONB NOT NULL,
	PRIMARY KEY (symbol, capability)
);

CREATE TABLE IF NOT EXISTS stage_progress (
	run_id      UUID NOT NULL,
	stage       TEXT NOT NULL,
	state       TEXT NOT NULL,
	critical    BOOLEAN NOT NULL,
	attempted   INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	removed     INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	elapsed_ms  BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, stage)
);
`

const upsertSnapshotSQL = `
	INSERT INTO snapshots (symbol, capability, provider, fetched_at, payload)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (symbol, capability) DO UPDATE SET
		provider = EXCLUDED.provider,
		fetched_at = EXCLUDED.fetched_at,
		payload = EXCLUDED.payload
`

// Postgres is a Store backed by a pgx pool.
type Postgres struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres wraps an open pool. The store owns the pool and closes it.
func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}
}

// EnsureSchema creates missing tables.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create postgres schema: %w", err)
	}
	return nil
}

func (s *Postgres) LoadTrackedEntities(ctx context.Context) ([]model.TrackedItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.symbol, u.capability, u.updated_at
		FROM tracked_entities t
		LEFT JOIN entity_updates u ON u.symbol = t.symbol
		WHERE t.active
		ORDER BY t.symbol`)
	if err != nil {
		return nil, fmt.Errorf("query tracked entities: %w", err)
	}
	defer rows.Close()

	var out []model.TrackedItem
	for rows.Next() {
		var (
			symbol string
			c      *string
			at     *time.Time
		)
		if err := rows.Scan(&symbol, &c, &at); err != nil {
			return nil, fmt.Errorf("scan tracked entity: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Symbol != symbol {
			out = append(out, model.TrackedItem{
				Symbol:      symbol,
				Active:      true,
				LastUpdated: map[model.Capability]time.Time{},
			})
		}
		if c != nil && at != nil {
			out[len(out)-1].LastUpdated[model.Capability(*c)] = *at
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked entities: %w", err)
	}
	return out, nil
}

func (s *Postgres) Track(ctx context.Context, symbols []string) (int, error) {
	batch := &pgx.Batch{}
	queued := 0
	for _, sym := range symbols {
		sym = model.NormalizeSymbol(sym)
		if sym == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO tracked_entities (symbol) VALUES ($1)
			ON CONFLICT (symbol) DO UPDATE SET active = TRUE, removed_at = NULL
			WHERE NOT tracked_entities.active`, sym)
		queued++
	}
	if queued == 0 {
		return 0, nil
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	added := 0
	for range queued {
		ct, err := results.Exec()
		if err != nil {
			return added, fmt.Errorf("track symbols: %w", err)
		}
		added += int(ct.RowsAffected())
	}
	return added, nil
}

func (s *Postgres) MarkRemoved(ctx context.Context, symbol string, at time.Time) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE tracked_entities SET active = FALSE, removed_at = $2 WHERE symbol = $1`, symbol, at)
	if err != nil {
		return fmt.Errorf("mark removed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkUpdated(ctx context.Context, symbol string, c model.Capability, at time.Time) error {
	ct, err := s.db.Exec(ctx, `
		INSERT INTO entity_updates (symbol, capability, updated_at)
		SELECT symbol, $2, $3 FROM tracked_entities WHERE symbol = $1
		ON CONFLICT (symbol, capability) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		symbol, string(c), at)
	if err != nil {
		return fmt.Errorf("mark updated: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SaveSnapshot(ctx context.Context, p model.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", p.Symbol, err)
	}
	if _, err := s.db.Exec(ctx, upsertSnapshotSQL, p.Symbol, string(p.Capability), p.Provider, p.FetchedAt, data); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", p.Symbol, err)
	}
	return nil
}

// SaveSnapshots upserts payloads using pgx.Batch.
func (s *Postgres) SaveSnapshots(ctx context.Context, ps []model.Payload) error {
	if len(ps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range ps {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode snapshot %s: %w", p.Symbol, err)
		}
		batch.Queue(upsertSnapshotSQL, p.Symbol, string(p.Capability), p.Provider, p.FetchedAt, data)
	}

	start := time.Now()
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, p := range ps {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert snapshot %s: %w", p.Symbol, err)
		}
	}

	s.logger.Debug("flushed snapshots", "count", len(ps), "duration", time.Since(start))
	return nil
}

func (s *Postgres) RecordStageProgress(ctx context.Context, runID string, sum scheduler.StageSummary) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO stage_progress
			(run_id, stage, state, critical, attempted, succeeded, removed, failed, reason, error, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, stage) DO UPDATE SET
			state = EXCLUDED.state,
			attempted = EXCLUDED.attempted,
			succeeded = EXCLUDED.succeeded,
			removed = EXCLUDED.removed,
			failed = EXCLUDED.failed,
			reason = EXCLUDED.reason,
			error = EXCLUDED.error,
			elapsed_ms = EXCLUDED.elapsed_ms,
			recorded_at = now()`,
		runID, sum.Name, sum.State.String(), sum.Critical,
		sum.Attempted, sum.Succeeded, sum.Removed, sum.Failed,
		sum.Reason, sum.Error, sum.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("record stage progress: %w", err)
	}
	return nil
}

// Snapshot returns the stored payload for (symbol, c).
func (s *Postgres) Snapshot(ctx context.Context, symbol string, c model.Capability) (model.Payload, error) {
	var p model.Payload
	err := s.db.QueryRow(ctx,
		`SELECT payload FROM snapshots WHERE symbol = $1 AND capability = $2`, symbol, string(c)).Scan(&p)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Payload{}, ErrNotFound
	}
	if err != nil {
		return model.Payload{}, fmt.Errorf("query snapshot: %w", err)
	}
	return p, nil
}

// Ping checks pool connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the pool.
func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}
