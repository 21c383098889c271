package consensus

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rickgao/instrument-refresh/internal/fallback"
	"github.com/rickgao/instrument-refresh/internal/model"
)

type stubFetcher struct {
	name    string
	outcome model.FetchOutcome
	caps    []model.Capability
}

func (s stubFetcher) Name() string { return s.name }

func (s stubFetcher) Supports(c model.Capability) bool {
	if s.caps == nil {
		return true
	}
	for _, have := range s.caps {
		if have == c {
			return true
		}
	}
	return false
}

func (s stubFetcher) Fetch(context.Context, string, model.Capability) model.FetchOutcome {
	return s.outcome
}

var (
	found    = model.Success(model.Payload{Symbol: "VNM"})
	notFound = model.NotFound("delisted")
	limited  = model.RateLimited("429")
	failed   = model.Failure("timeout")
)

func chainOf(outcomes ...model.FetchOutcome) *fallback.Chain {
	fetchers := make([]fallback.Fetcher, len(outcomes))
	for i, o := range outcomes {
		fetchers[i] = stubFetcher{name: string(rune('a' + i)), outcome: o}
	}
	return fallback.New(fetchers)
}

func responses(outcomes ...model.FetchOutcome) []fallback.Response {
	out := make([]fallback.Response, len(outcomes))
	for i, o := range outcomes {
		out[i] = fallback.Response{Provider: string(rune('a' + i)), Outcome: o}
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestCheckExistence_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		outcomes   []model.FetchOutcome
		wantRemove bool
		wantCounts [4]int // found, not found, rate limited, errors
	}{
		{
			name:       "two not found, one rate limited",
			outcomes:   []model.FetchOutcome{notFound, notFound, limited},
			wantRemove: true,
			wantCounts: [4]int{0, 2, 1, 0},
		},
		{
			name:       "one not found, one rate limited, one error",
			outcomes:   []model.FetchOutcome{notFound, limited, failed},
			wantRemove: false,
			wantCounts: [4]int{0, 1, 1, 1},
		},
		{
			name:       "found does not veto",
			outcomes:   []model.FetchOutcome{found, notFound, notFound},
			wantRemove: true,
			wantCounts: [4]int{1, 2, 0, 0},
		},
		{
			name:       "all found",
			outcomes:   []model.FetchOutcome{found, found, found},
			wantRemove: false,
			wantCounts: [4]int{3, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(chainOf(tt.outcomes...), 2, quietLogger())
			res := v.CheckExistence(context.Background(), "VNM")

			if res.ShouldRemove != tt.wantRemove {
				t.Errorf("ShouldRemove = %v, want %v", res.ShouldRemove, tt.wantRemove)
			}
			got := [4]int{res.Found, res.NotFound, res.RateLimited, res.Errors}
			if got != tt.wantCounts {
				t.Errorf("counts = %v, want %v", got, tt.wantCounts)
			}
			if res.Symbol != "VNM" {
				t.Errorf("Symbol = %q", res.Symbol)
			}
			if len(res.Responses) != len(tt.outcomes) {
				t.Errorf("Responses = %d, want %d", len(res.Responses), len(tt.outcomes))
			}
		})
	}
}

// Every combination of four responses, for K in 1..5.
func TestDecide_QuorumRule(t *testing.T) {
	pool := []model.FetchOutcome{found, notFound, limited, failed}

	for a := range pool {
		for b := range pool {
			for c := range pool {
				for d := range pool {
					rs := responses(pool[a], pool[b], pool[c], pool[d])
					prev := true
					for k := 1; k <= 5; k++ {
						res := Decide(rs, k)
						if res.ShouldRemove != (res.NotFound >= k) {
							t.Fatalf("k=%d %v: ShouldRemove=%v NotFound=%d", k, rs, res.ShouldRemove, res.NotFound)
						}
						if res.Found+res.NotFound+res.RateLimited+res.Errors != len(rs) {
							t.Fatalf("buckets do not partition responses: %+v", res)
						}
						// Raising K never turns a keep into a remove.
						if res.ShouldRemove && !prev {
							t.Fatalf("removal not monotone in k at k=%d for %v", k, rs)
						}
						prev = res.ShouldRemove
					}
				}
			}
		}
	}
}

func TestDecide_TransientNeverRemoves(t *testing.T) {
	rs := responses(limited, limited, failed, failed, limited)
	for k := 1; k <= 3; k++ {
		if Decide(rs, k).ShouldRemove {
			t.Errorf("k=%d: rate limited and error responses caused removal", k)
		}
	}
}

func TestNew_QuorumUnreachable(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	v := New(chainOf(notFound, notFound), 3, logger)
	if v.Enabled() {
		t.Fatal("Enabled() = true with fewer providers than quorum")
	}
	if !strings.Contains(buf.String(), "removal disabled") {
		t.Errorf("missing configuration warning, log: %s", buf.String())
	}

	res := v.CheckExistence(context.Background(), "VNM")
	if res.ShouldRemove {
		t.Error("ShouldRemove = true while disabled")
	}
	if res.NotFound != 2 {
		t.Errorf("NotFound = %d, want 2", res.NotFound)
	}

	buf.Reset()
	v.CheckExistence(context.Background(), "FPT")
	if strings.Contains(buf.String(), "removal disabled") {
		t.Error("warning repeated per check")
	}
}

func TestNew_CountsOnlyExistenceProviders(t *testing.T) {
	chain := fallback.New([]fallback.Fetcher{
		stubFetcher{name: "a", outcome: notFound},
		stubFetcher{name: "b", outcome: notFound, caps: []model.Capability{model.CapProfile}},
	})
	v := New(chain, 2, quietLogger())
	if v.Enabled() {
		t.Error("profile-only provider counted towards existence quorum")
	}
}

func TestNew_DefaultQuorum(t *testing.T) {
	v := New(chainOf(notFound, notFound), 0, quietLogger())
	if v.Quorum() != DefaultQuorum {
		t.Errorf("Quorum() = %d, want %d", v.Quorum(), DefaultQuorum)
	}
}
