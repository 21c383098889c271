package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/scheduler"
)

type snapshotKey struct {
	symbol string
	c      model.Capability
}

// Memory is an in-process Store.
type Memory struct {
	mu        sync.Mutex
	items     map[string]*model.TrackedItem
	removedAt map[string]time.Time
	snapshots map[snapshotKey]model.Payload
	progress  map[string][]scheduler.StageSummary
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items:     make(map[string]*model.TrackedItem),
		removedAt: make(map[string]time.Time),
		snapshots: make(map[snapshotKey]model.Payload),
		progress:  make(map[string][]scheduler.StageSummary),
	}
}

func (m *Memory) LoadTrackedEntities(ctx context.Context) ([]model.TrackedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.TrackedItem, 0, len(m.items))
	for _, it := range m.items {
		if !it.Active {
			continue
		}
		out = append(out, model.TrackedItem{
			Symbol:      it.Symbol,
			Active:      true,
			LastUpdated: maps.Clone(it.LastUpdated),
		})
	}
	slices.SortFunc(out, func(a, b model.TrackedItem) int {
		return strings.Compare(a.Symbol, b.Symbol)
	})
	return out, nil
}

func (m *Memory) Track(_ context.Context, symbols []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, s := range symbols {
		s = model.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		it, ok := m.items[s]
		if !ok {
			m.items[s] = &model.TrackedItem{Symbol: s, Active: true, LastUpdated: map[model.Capability]time.Time{}}
			added++
			continue
		}
		if !it.Active {
			it.Active = true
			delete(m.removedAt, s)
			added++
		}
	}
	return added, nil
}

func (m *Memory) MarkRemoved(_ context.Context, symbol string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[symbol]
	if !ok {
		return ErrNotFound
	}
	it.Active = false
	m.removedAt[symbol] = at
	return nil
}

func (m *Memory) MarkUpdated(_ context.Context, symbol string, c model.Capability, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[symbol]
	if !ok {
		return ErrNotFound
	}
	it.LastUpdated[c] = at
	return nil
}

func (m *Memory) SaveSnapshot(_ context.Context, p model.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshotKey{p.Symbol, p.Capability}] = p
	return nil
}

func (m *Memory) SaveSnapshots(ctx context.Context, ps []model.Payload) error {
	for _, p := range ps {
		if err := m.SaveSnapshot(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) RecordStageProgress(_ context.Context, runID string, s scheduler.StageSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[runID] = append(m.progress[runID], s)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Snapshot returns the stored payload for (symbol, c).
func (m *Memory) Snapshot(symbol string, c model.Capability) (model.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.snapshots[snapshotKey{symbol, c}]
	return p, ok
}

// RemovedAt returns when symbol was removed.
func (m *Memory) RemovedAt(symbol string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.removedAt[symbol]
	return at, ok
}

// Progress returns the summaries recorded for runID.
func (m *Memory) Progress(runID string) []scheduler.StageSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.progress[runID])
}
