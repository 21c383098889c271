package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/scheduler"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tracked_entities (
	symbol     TEXT PRIMARY KEY,
	active     INTEGER NOT NULL DEFAULT 1,
	added_at   TEXT NOT NULL,
	removed_at TEXT
);

CREATE TABLE IF NOT EXISTS entity_updates (
	symbol     TEXT NOT NULL REFERENCES tracked_entities(symbol),
	capability TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (symbol, capability)
);

CREATE TABLE IF NOT EXISTS snapshots (
	symbol     TEXT NOT NULL,
	capability TEXT NOT NULL,
	provider   TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (symbol, capability)
);

CREATE TABLE IF NOT EXISTS stage_progress (
	run_id      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	state       TEXT NOT NULL,
	critical    INTEGER NOT NULL,
	attempted   INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	removed     INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	elapsed_ms  INTEGER NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (run_id, stage)
);
`

// SQLite is a Store backed by a single sqlite file.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	logger.Debug("sqlite store opened", "path", path)
	return &SQLite{db: db, path: path, logger: logger}, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *SQLite) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func (s *SQLite) LoadTrackedEntities(ctx context.Context) ([]model.TrackedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.symbol, u.capability, u.updated_at
		FROM tracked_entities t
		LEFT JOIN entity_updates u ON u.symbol = t.symbol
		WHERE t.active = 1
		ORDER BY t.symbol`)
	if err != nil {
		return nil, fmt.Errorf("query tracked entities: %w", err)
	}
	defer rows.Close()

	var out []model.TrackedItem
	for rows.Next() {
		var (
			symbol string
			c, at  sql.NullString
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
		if c.Valid && at.Valid {
			ts, err := parseTime(at.String)
			if err != nil {
				return nil, fmt.Errorf("parse updated_at for %s: %w", symbol, err)
			}
			out[len(out)-1].LastUpdated[model.Capability(c.String)] = ts
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked entities: %w", err)
	}
	return out, nil
}

func (s *SQLite) Track(ctx context.Context, symbols []string) (int, error) {
	now := formatTime(time.Now())
	added := 0
	for _, sym := range symbols {
		sym = model.NormalizeSymbol(sym)
		if sym == "" {
			continue
		}
		res, err := s.exec(ctx, `
			INSERT INTO tracked_entities (symbol, active, added_at) VALUES (?, 1, ?)
			ON CONFLICT(symbol) DO UPDATE SET active = 1, removed_at = NULL
			WHERE tracked_entities.active = 0`, sym, now)
		if err != nil {
			return added, fmt.Errorf("track %s: %w", sym, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

func (s *SQLite) MarkRemoved(ctx context.Context, symbol string, at time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE tracked_entities SET active = 0, removed_at = ? WHERE symbol = ?`,
		formatTime(at), symbol)
	if err != nil {
		return fmt.Errorf("mark removed: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) MarkUpdated(ctx context.Context, symbol string, c model.Capability, at time.Time) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tracked_entities WHERE symbol = ?`, symbol).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup entity: %w", err)
	}

	if _, err := s.exec(ctx, `
		INSERT INTO entity_updates (symbol, capability, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(symbol, capability) DO UPDATE SET updated_at = excluded.updated_at`,
		symbol, string(c), formatTime(at)); err != nil {
		return fmt.Errorf("mark updated: %w", err)
	}
	return nil
}

func (s *SQLite) SaveSnapshot(ctx context.Context, p model.Payload) error {
	return s.SaveSnapshots(ctx, []model.Payload{p})
}

func (s *SQLite) SaveSnapshots(ctx context.Context, ps []model.Payload) error {
	if len(ps) == 0 {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin snapshot tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO snapshots (symbol, capability, provider, fetched_at, payload) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(symbol, capability) DO UPDATE SET
				provider = excluded.provider,
				fetched_at = excluded.fetched_at,
				payload = excluded.payload`)
		if err != nil {
			return fmt.Errorf("prepare snapshot upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range ps {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encode snapshot %s: %w", p.Symbol, err)
			}
			if _, err := stmt.ExecContext(ctx, p.Symbol, string(p.Capability), p.Provider, formatTime(p.FetchedAt), string(data)); err != nil {
				return fmt.Errorf("upsert snapshot %s: %w", p.Symbol, err)
			}
		}
		return tx.Commit()
	})
}

// Snapshot returns the stored payload for (symbol, c).
func (s *SQLite) Snapshot(ctx context.Context, symbol string, c model.Capability) (model.Payload, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE symbol = ? AND capability = ?`, symbol, string(c)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payload{}, ErrNotFound
	}
	if err != nil {
		return model.Payload{}, fmt.Errorf("query snapshot: %w", err)
	}
	var p model.Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return model.Payload{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return p, nil
}

func (s *SQLite) RecordStageProgress(ctx context.Context, runID string, sum scheduler.StageSummary) error {
	_, err := s.exec(ctx, `
		INSERT INTO stage_progress
			(run_id, stage, state, critical, attempted, succeeded, removed, failed, reason, error, elapsed_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, stage) DO UPDATE SET
			state = excluded.state,
			attempted = excluded.attempted,
			succeeded = excluded.succeeded,
			removed = excluded.removed,
			failed = excluded.failed,
			reason = excluded.reason,
			error = excluded.error,
			elapsed_ms = excluded.elapsed_ms,
			recorded_at = excluded.recorded_at`,
		runID, sum.Name, sum.State.String(), sum.Critical,
		sum.Attempted, sum.Succeeded, sum.Removed, sum.Failed,
		sum.Reason, sum.Error, sum.Elapsed.Milliseconds(), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record stage progress: %w", err)
	}
	return nil
}

// Progress returns the summaries recorded for runID in insertion order.
func (s *SQLite) Progress(ctx context.Context, runID string) ([]scheduler.StageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, state, critical, attempted, succeeded, removed, failed, reason, error, elapsed_ms
		FROM stage_progress WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stage progress: %w", err)
	}
	defer rows.Close()

	var out []scheduler.StageSummary
	for rows.Next() {
		var (
			sum       scheduler.StageSummary
			state     string
			elapsedMS int64
		)
		if err := rows.Scan(&sum.Name, &state, &sum.Critical, &sum.Attempted, &sum.Succeeded,
			&sum.Removed, &sum.Failed, &sum.Reason, &sum.Error, &elapsedMS); err != nil {
			return nil, fmt.Errorf("scan stage progress: %w", err)
		}
		if err := sum.State.UnmarshalText([]byte(state)); err != nil {
			return nil, err
		}
		sum.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
