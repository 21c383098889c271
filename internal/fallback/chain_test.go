package fallback

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/instrument-refresh/internal/model"
)

// fakeFetcher returns a fixed outcome and counts calls.
type fakeFetcher struct {
	name    string
	caps    []model.Capability
	outcome model.FetchOutcome
	panics  bool
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Supports(c model.Capability) bool {
	if f.caps == nil {
		return true
	}
	for _, have := range f.caps {
		if have == c {
			return true
		}
	}
	return false
}

func (f *fakeFetcher) Fetch(ctx context.Context, symbol string, c model.Capability) model.FetchOutcome {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("provider exploded")
	}
	return f.outcome
}

func success(provider string) model.FetchOutcome {
	return model.Success(model.Payload{Symbol: "VNM", Provider: provider})
}

func TestFetchWithFallback_ContinuesPastFailures(t *testing.T) {
	a := &fakeFetcher{name: "a", outcome: model.NotFound("empty")}
	b := &fakeFetcher{name: "b", outcome: model.RateLimited("quota")}
	c := &fakeFetcher{name: "c", outcome: model.Failure("timeout")}
	d := &fakeFetcher{name: "d", outcome: success("d")}
	e := &fakeFetcher{name: "e", outcome: success("e")}

	chain := New([]Fetcher{a, b, c, d, e})
	res := chain.FetchWithFallback(context.Background(), "VNM", model.CapQuote)

	if !res.Outcome.IsSuccess() {
		t.Fatalf("Outcome = %v, want success", res.Outcome)
	}
	if res.Provider != "d" {
		t.Errorf("Provider = %q, want d", res.Provider)
	}
	if len(res.Attempts) != 3 {
		t.Fatalf("Attempts = %d, want 3", len(res.Attempts))
	}
	wantKinds := []model.OutcomeKind{model.OutcomeNotFound, model.OutcomeRateLimited, model.OutcomeError}
	for i, k := range wantKinds {
		if res.Attempts[i].Outcome.Kind() != k {
			t.Errorf("Attempts[%d] = %v, want %v", i, res.Attempts[i].Outcome.Kind(), k)
		}
	}
	if e.calls.Load() != 0 {
		t.Errorf("fetcher after the winner was called %d times", e.calls.Load())
	}
}

func TestFetchWithFallback_ExhaustedReturnsLast(t *testing.T) {
	chain := New([]Fetcher{
		&fakeFetcher{name: "a", outcome: model.Failure("boom")},
		&fakeFetcher{name: "b", outcome: model.RateLimited("429")},
	})

	res := chain.FetchWithFallback(context.Background(), "VNM", model.CapQuote)
	if res.Outcome.Kind() != model.OutcomeRateLimited {
		t.Errorf("Outcome = %v, want last-seen rate limited", res.Outcome)
	}
	if res.Provider != "b" {
		t.Errorf("Provider = %q, want b", res.Provider)
	}
}

func TestFetchWithFallback_SkipsUnsupported(t *testing.T) {
	profileOnly := &fakeFetcher{name: "profile-only", caps: []model.Capability{model.CapProfile}, outcome: success("profile-only")}
	quote := &fakeFetcher{name: "quote", caps: []model.Capability{model.CapQuote}, outcome: success("quote")}

	res := New([]Fetcher{profileOnly, quote}).FetchWithFallback(context.Background(), "VNM", model.CapQuote)

	if res.Provider != "quote" {
		t.Errorf("Provider = %q, want quote", res.Provider)
	}
	if len(res.Attempts) != 0 {
		t.Errorf("unsupported fetcher recorded as attempt: %+v", res.Attempts)
	}
	if profileOnly.calls.Load() != 0 {
		t.Error("unsupported fetcher was called")
	}
}

func TestFetchWithFallback_NoSupporters(t *testing.T) {
	res := New([]Fetcher{
		&fakeFetcher{name: "a", caps: []model.Capability{model.CapProfile}},
	}).FetchWithFallback(context.Background(), "VNM", model.CapExistence)

	if res.Outcome.Kind() != model.OutcomeError {
		t.Fatalf("Outcome = %v, want error", res.Outcome)
	}
	if !strings.Contains(res.Outcome.Reason(), "no provider supports existence") {
		t.Errorf("Reason = %q", res.Outcome.Reason())
	}

	empty := New(nil).FetchWithFallback(context.Background(), "VNM", model.CapQuote)
	if empty.Outcome.Kind() != model.OutcomeError {
		t.Errorf("empty chain Outcome = %v, want error", empty.Outcome)
	}
}

func TestFetchWithFallback_RecoversPanic(t *testing.T) {
	chain := New([]Fetcher{
		&fakeFetcher{name: "bad", panics: true},
		&fakeFetcher{name: "good", outcome: success("good")},
	})

	res := chain.FetchWithFallback(context.Background(), "VNM", model.CapQuote)
	if res.Provider != "good" {
		t.Fatalf("Provider = %q, want good", res.Provider)
	}
	if !strings.HasPrefix(res.Attempts[0].Outcome.Reason(), "panic:") {
		t.Errorf("panic attempt reason = %q", res.Attempts[0].Outcome.Reason())
	}
}

// Success is reached iff at least one fetcher succeeds, for every ordering.
func TestFetchWithFallback_SuccessIffAnySucceeds(t *testing.T) {
	pool := []model.FetchOutcome{
		model.NotFound("nf"),
		model.RateLimited("rl"),
		model.Failure("err"),
		success("s"),
	}

	// Every assignment of pool outcomes to 3 fetchers, every ordering of them.
	for a := range pool {
		for b := range pool {
			for c := range pool {
				outcomes := []model.FetchOutcome{pool[a], pool[b], pool[c]}
				anySuccess := false
				for _, o := range outcomes {
					anySuccess = anySuccess || o.IsSuccess()
				}

				for _, perm := range permutations([]int{0, 1, 2}) {
					fetchers := make([]Fetcher, 0, 3)
					for _, idx := range perm {
						fetchers = append(fetchers, &fakeFetcher{name: fmt.Sprintf("f%d", idx), outcome: outcomes[idx]})
					}
					res := New(fetchers).FetchWithFallback(context.Background(), "VNM", model.CapQuote)
					if res.Outcome.IsSuccess() != anySuccess {
						t.Fatalf("outcomes %v order %v: success = %v, want %v",
							outcomes, perm, res.Outcome.IsSuccess(), anySuccess)
					}
				}
			}
		}
	}
}

func permutations(xs []int) [][]int {
	if len(xs) <= 1 {
		return [][]int{append([]int(nil), xs...)}
	}
	var out [][]int
	for i := range xs {
		rest := make([]int, 0, len(xs)-1)
		rest = append(rest, xs[:i]...)
		rest = append(rest, xs[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]int{xs[i]}, p...))
		}
	}
	return out
}

func TestQueryAll(t *testing.T) {
	a := &fakeFetcher{name: "a", outcome: success("a")}
	b := &fakeFetcher{name: "b", outcome: model.NotFound("nf")}
	skip := &fakeFetcher{name: "skip", caps: []model.Capability{model.CapQuote}}
	c := &fakeFetcher{name: "c", panics: true}
	d := &fakeFetcher{name: "d", outcome: model.NotFound("nf")}

	chain := New([]Fetcher{a, b, skip, c, d})
	got := chain.QueryAll(context.Background(), "VNM", model.CapExistence)

	wantNames := []string{"a", "b", "c", "d"}
	wantKinds := []model.OutcomeKind{model.OutcomeSuccess, model.OutcomeNotFound, model.OutcomeError, model.OutcomeNotFound}
	if len(got) != len(wantNames) {
		t.Fatalf("responses = %d, want %d", len(got), len(wantNames))
	}
	for i := range wantNames {
		if got[i].Provider != wantNames[i] {
			t.Errorf("responses[%d].Provider = %q, want %q", i, got[i].Provider, wantNames[i])
		}
		if got[i].Outcome.Kind() != wantKinds[i] {
			t.Errorf("responses[%d] = %v, want %v", i, got[i].Outcome.Kind(), wantKinds[i])
		}
	}
	if a.calls.Load() != 1 || d.calls.Load() != 1 {
		t.Error("QueryAll must not short-circuit on success")
	}
	if skip.calls.Load() != 0 {
		t.Error("unsupported fetcher was queried")
	}
	if chain.Supporting(model.CapExistence) != 4 {
		t.Errorf("Supporting(existence) = %d, want 4", chain.Supporting(model.CapExistence))
	}
}

func TestQueryAll_Concurrent(t *testing.T) {
	var fetchers []Fetcher
	for i := 0; i < 4; i++ {
		fetchers = append(fetchers, &fakeFetcher{
			name:    fmt.Sprintf("p%d", i),
			outcome: model.NotFound("nf"),
			delay:   50 * time.Millisecond,
		})
	}

	start := time.Now()
	got := New(fetchers, WithConcurrency(4)).QueryAll(context.Background(), "VNM", model.CapExistence)
	elapsed := time.Since(start)

	if len(got) != 4 {
		t.Fatalf("responses = %d, want 4", len(got))
	}
	if elapsed >= 180*time.Millisecond {
		t.Errorf("QueryAll took %v, expected concurrent execution", elapsed)
	}
}
