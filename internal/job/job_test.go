package job

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/instrument-refresh/internal/clock"
	"github.com/rickgao/instrument-refresh/internal/config"
	"github.com/rickgao/instrument-refresh/internal/model"
	"github.com/rickgao/instrument-refresh/internal/scheduler"
	"github.com/rickgao/instrument-refresh/internal/store"
)

// listed is the set of symbols the fake providers know about.
var listed = map[string]float64{"VNM": 61.5, "FPT": 96.2}

func ssiServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ssi-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		symbol := strings.TrimPrefix(r.URL.Path, "/v2/stock/")
		price, ok := listed[symbol]
		if !ok {
			fmt.Fprint(w, `{"code":"SUCCESS","data":[]}`)
			return
		}
		fmt.Fprintf(w, `{"code":"SUCCESS","data":[{"ss":%q,"st":"hose","mp":%v,"cg":0.5,"pct":0.82,"tvol":120000}]}`, symbol, price)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tcbsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/tcanalysis/v1/ticker/") {
			symbol := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/tcanalysis/v1/ticker/"), "/overview")
			if _, ok := listed[symbol]; !ok {
				http.NotFound(w, r)
				return
			}
			fmt.Fprintf(w, `{"ticker":%q,"exchange":"HOSE","shortName":"%s Corp","industry":"Food"}`, symbol, symbol)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func loadConfig(t *testing.T, yaml string) *config.RefresherConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refresher.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}
	return cfg
}

func testConfig(t *testing.T) *config.RefresherConfig {
	ssi := ssiServer(t)
	tcbs := tcbsServer(t)
	return loadConfig(t, fmt.Sprintf(`
instance:
  id: job-test
providers:
  - name: ssi
    kind: ssi
    base_url: %s
    keys: [ssi-key]
    max_retries: 1
    retry_backoff: 1ms
  - name: vndirect
    kind: vndirect
    keys: ["${JOB_TEST_UNSET_KEY}"]
  - name: tcbs
    kind: tcbs
    base_url: %s
    keys: [tcbs-key]
    max_retries: 1
    retry_backoff: 1ms
batch:
  size: 2
  delay: 1s
  workers: 1
stages:
  - name: quote
    kind: refresh
    capability: quote
    budget: 10m
  - name: existence
    kind: existence
    budget: 10m
    critical: true
store:
  driver: memory
`, ssi.URL, tcbs.URL))
}

func newTestJob(t *testing.T, cfg *config.RefresherConfig) (*Job, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	if _, err := mem.Track(context.Background(), []string{"VNM", "FPT", "DEAD"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	fake := clock.NewFake(time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC))
	j, err := New(context.Background(), cfg, nil, WithStore(mem), WithClock(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j, mem
}

func TestJob_Run(t *testing.T) {
	j, mem := newTestJob(t, testConfig(t))

	if got := len(j.Providers()); got != 2 {
		t.Fatalf("providers = %d, want 2 (keyless provider skipped)", got)
	}
	if !j.QuorumReachable() {
		t.Fatal("quorum unreachable with two existence providers")
	}

	report, err := j.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	quote, _ := report.Stage("quote")
	if quote.State != scheduler.Completed {
		t.Errorf("quote stage = %+v", quote)
	}
	if quote.Attempted != 3 || quote.Succeeded != 3 || quote.Failed != 0 {
		t.Errorf("quote counts = %+v", quote)
	}

	existence, _ := report.Stage("existence")
	if existence.State != scheduler.Completed || existence.Removed != 1 {
		t.Errorf("existence stage = %+v", existence)
	}

	p, ok := mem.Snapshot("VNM", model.CapQuote)
	if !ok {
		t.Fatal("VNM quote not stored")
	}
	if p.Provider != "ssi" || p.Quote.Price.String() != "61.5" {
		t.Errorf("VNM snapshot = %+v", p)
	}

	if _, removed := mem.RemovedAt("DEAD"); !removed {
		t.Error("DEAD not removed after two providers reported it missing")
	}
	items, _ := mem.LoadTrackedEntities(context.Background())
	if len(items) != 2 {
		t.Errorf("tracked after run = %d, want 2", len(items))
	}

	if got := mem.Progress(report.RunID); len(got) != 2 {
		t.Errorf("recorded progress = %d stages, want 2", len(got))
	}
	if j.Running() {
		t.Error("Running() true after Run returned")
	}
	if last, ok := j.LastReport(); !ok || last.RunID != report.RunID {
		t.Error("LastReport does not match the run")
	}

	for _, ps := range j.Providers() {
		if ps.Quota.Used == 0 {
			t.Errorf("provider %s quota shows no calls", ps.Name)
		}
	}
}

func TestJob_RunSelectedStages(t *testing.T) {
	j, mem := newTestJob(t, testConfig(t))

	report, err := j.Run(context.Background(), []string{"existence"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Stages) != 1 || report.Stages[0].Name != "existence" {
		t.Errorf("stages = %+v", report.Stages)
	}
	if _, ok := mem.Snapshot("VNM", model.CapQuote); ok {
		t.Error("quote stage ran although not selected")
	}

	if _, err := j.Run(context.Background(), []string{"history"}); err == nil {
		t.Error("Run with unknown stage succeeded")
	}
}

func TestBuildAdapters_NoKeys(t *testing.T) {
	_, err := BuildAdapters([]config.ProviderConfig{
		{Name: "ssi", Kind: "ssi"},
		{Name: "tcbs", Kind: "tcbs", Keys: []string{""}},
	}, nil, nil, nil)
	if !errors.Is(err, ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders", err)
	}
}

func TestBuildAdapters_KeepsOrder(t *testing.T) {
	adapters, err := BuildAdapters([]config.ProviderConfig{
		{Name: "b", Kind: "tcbs", Keys: []string{"k"}},
		{Name: "a", Kind: "ssi", Keys: []string{"k"}, Capabilities: []string{"existence"}},
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("BuildAdapters: %v", err)
	}
	if adapters[0].Name() != "b" || adapters[1].Name() != "a" {
		t.Errorf("order = %s, %s", adapters[0].Name(), adapters[1].Name())
	}
	if adapters[1].Supports(model.CapQuote) {
		t.Error("capability restriction ignored")
	}
}

func TestJob_UniverseSeedsOnlyEmptyStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Universe = []string{"hpg", "MWG"}

	empty := store.NewMemory()
	j, err := New(context.Background(), cfg, nil, WithStore(empty))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items, _ := empty.LoadTrackedEntities(context.Background())
	if len(items) != 2 || items[0].Symbol != "HPG" {
		t.Errorf("seeded = %+v", items)
	}
	_ = j.Close()

	// DEAD was removed earlier; listing it in the universe must not revive it.
	existing := store.NewMemory()
	ctx := context.Background()
	_, _ = existing.Track(ctx, []string{"VNM", "DEAD"})
	_ = existing.MarkRemoved(ctx, "DEAD", time.Now())
	cfg.Universe = []string{"DEAD", "HPG"}

	if _, err := New(ctx, cfg, nil, WithStore(existing)); err != nil {
		t.Fatalf("New: %v", err)
	}
	items, _ = existing.LoadTrackedEntities(ctx)
	if len(items) != 1 || items[0].Symbol != "VNM" {
		t.Errorf("tracked after New = %+v, want only VNM", items)
	}
}
