package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/instrument-refresh/internal/config"
	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/scheduler"
)

var now = time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "state.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestStore_TrackAndLoad(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			added, err := s.Track(ctx, []string{"vnm", " FPT ", "HPG", "", "vnm"})
			if err != nil {
				t.Fatalf("Track: %v", err)
			}
			if added != 3 {
				t.Errorf("Track added %d, want 3", added)
			}

			items, err := s.LoadTrackedEntities(ctx)
			if err != nil {
				t.Fatalf("LoadTrackedEntities: %v", err)
			}
			want := []string{"FPT", "HPG", "VNM"}
			if len(items) != len(want) {
				t.Fatalf("items = %d, want %d", len(items), len(want))
			}
			for i, it := range items {
				if it.Symbol != want[i] || !it.Active {
					t.Errorf("items[%d] = %+v, want active %s", i, it, want[i])
				}
				if !it.UpdatedAt(model.CapQuote).IsZero() {
					t.Errorf("%s has a refresh time before any update", it.Symbol)
				}
			}
		})
	}
}

func TestStore_MarkUpdated(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Track(ctx, []string{"VNM", "FPT"}); err != nil {
				t.Fatalf("Track: %v", err)
			}

			if err := s.MarkUpdated(ctx, "VNM", model.CapQuote, now); err != nil {
				t.Fatalf("MarkUpdated: %v", err)
			}
			later := now.Add(time.Hour)
			if err := s.MarkUpdated(ctx, "VNM", model.CapQuote, later); err != nil {
				t.Fatalf("MarkUpdated again: %v", err)
			}
			if err := s.MarkUpdated(ctx, "VNM", model.CapProfile, now); err != nil {
				t.Fatalf("MarkUpdated profile: %v", err)
			}

			items, err := s.LoadTrackedEntities(ctx)
			if err != nil {
				t.Fatalf("LoadTrackedEntities: %v", err)
			}
			var vnm model.TrackedItem
			for _, it := range items {
				if it.Symbol == "VNM" {
					vnm = it
				}
			}
			if got := vnm.UpdatedAt(model.CapQuote); !got.Equal(later) {
				t.Errorf("quote updated at %v, want %v", got, later)
			}
			if got := vnm.UpdatedAt(model.CapProfile); !got.Equal(now) {
				t.Errorf("profile updated at %v, want %v", got, now)
			}

			if err := s.MarkUpdated(ctx, "XXX", model.CapQuote, now); !errors.Is(err, ErrNotFound) {
				t.Errorf("MarkUpdated unknown = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_MarkRemoved(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Track(ctx, []string{"VNM", "ROS"}); err != nil {
				t.Fatalf("Track: %v", err)
			}

			if err := s.MarkRemoved(ctx, "ROS", now); err != nil {
				t.Fatalf("MarkRemoved: %v", err)
			}
			items, _ := s.LoadTrackedEntities(ctx)
			if len(items) != 1 || items[0].Symbol != "VNM" {
				t.Errorf("items after removal = %+v", items)
			}

			if err := s.MarkRemoved(ctx, "XXX", now); !errors.Is(err, ErrNotFound) {
				t.Errorf("MarkRemoved unknown = %v, want ErrNotFound", err)
			}

			// Tracking again reactivates.
			added, err := s.Track(ctx, []string{"ROS"})
			if err != nil || added != 1 {
				t.Errorf("re-Track = %d, %v; want 1, nil", added, err)
			}
			items, _ = s.LoadTrackedEntities(ctx)
			if len(items) != 2 {
				t.Errorf("items after re-track = %d, want 2", len(items))
			}
		})
	}
}

func TestStore_Snapshots(t *testing.T) {
	quote := func(price string, provider string) model.Payload {
		return model.Payload{
			Symbol:     "VNM",
			Provider:   provider,
			Capability: model.CapQuote,
			FetchedAt:  now,
			Quote:      &model.Quote{Exchange: "HOSE", Price: decimal.RequireFromString(price), Volume: 1200},
		}
	}

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := s.SaveSnapshot(ctx, quote("61.5", "ssi")); err != nil {
				t.Fatalf("SaveSnapshot: %v", err)
			}
			batch := []model.Payload{
				quote("62.1", "tcbs"),
				{Symbol: "FPT", Provider: "vndirect", Capability: model.CapProfile, FetchedAt: now,
					Profile: &model.Profile{Name: "FPT Corp", Exchange: "HOSE"}},
			}
			if err := s.SaveSnapshots(ctx, batch); err != nil {
				t.Fatalf("SaveSnapshots: %v", err)
			}
			if err := s.SaveSnapshots(ctx, nil); err != nil {
				t.Errorf("SaveSnapshots(nil) = %v", err)
			}

			got, ok := snapshotOf(t, s, "VNM", model.CapQuote)
			if !ok {
				t.Fatal("VNM quote snapshot missing")
			}
			if got.Provider != "tcbs" || !got.Quote.Price.Equal(decimal.RequireFromString("62.1")) {
				t.Errorf("snapshot = %+v, want latest tcbs 62.1", got)
			}
			if p, ok := snapshotOf(t, s, "FPT", model.CapProfile); !ok || p.Profile.Name != "FPT Corp" {
				t.Errorf("FPT profile = %+v, %v", p, ok)
			}
		})
	}
}

func snapshotOf(t *testing.T, s Store, symbol string, c model.Capability) (model.Payload, bool) {
	t.Helper()
	switch st := s.(type) {
	case *Memory:
		return st.Snapshot(symbol, c)
	case *SQLite:
		p, err := st.Snapshot(context.Background(), symbol, c)
		if errors.Is(err, ErrNotFound) {
			return model.Payload{}, false
		}
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		return p, true
	}
	t.Fatalf("unexpected store %T", s)
	return model.Payload{}, false
}

func TestStore_RecordStageProgress(t *testing.T) {
	summaries := []scheduler.StageSummary{
		{Name: "quote", State: scheduler.TruncatedByBudget, Attempted: 40, Succeeded: 38, Failed: 2,
			Reason: "wall-clock budget 45m0s exhausted after 40 entities", Elapsed: 45 * time.Minute},
		{Name: "existence", State: scheduler.Completed, Critical: true, Attempted: 10, Removed: 1, Elapsed: 90 * time.Second},
	}

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, sum := range summaries {
				if err := s.RecordStageProgress(ctx, "run-1", sum); err != nil {
					t.Fatalf("RecordStageProgress: %v", err)
				}
			}

			var got []scheduler.StageSummary
			switch st := s.(type) {
			case *Memory:
				got = st.Progress("run-1")
			case *SQLite:
				var err error
				if got, err = st.Progress(ctx, "run-1"); err != nil {
					t.Fatalf("Progress: %v", err)
				}
			}

			if len(got) != 2 {
				t.Fatalf("progress rows = %d, want 2", len(got))
			}
			if got[0].State != scheduler.TruncatedByBudget || got[0].Reason != summaries[0].Reason {
				t.Errorf("got[0] = %+v", got[0])
			}
			if !got[1].Critical || got[1].Removed != 1 || got[1].Elapsed != 90*time.Second {
				t.Errorf("got[1] = %+v", got[1])
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, config.StoreConfig{Driver: "memory"}, nil)
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := mem.(*Memory); !ok {
		t.Errorf("Open memory returned %T", mem)
	}

	sq, err := Open(ctx, config.StoreConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "s.db")}}, nil)
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer sq.Close()
	if err := sq.Ping(ctx); err != nil {
		t.Errorf("Ping sqlite: %v", err)
	}

	if _, err := Open(ctx, config.StoreConfig{Driver: "mysql"}, nil); err == nil {
		t.Error("Open with unknown driver succeeded")
	}
}
