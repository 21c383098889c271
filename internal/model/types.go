package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// -----------------------------------------------------------------------------
// Tracked Universe
// -----------------------------------------------------------------------------

// Capability names a kind of data a provider can serve.
type Capability string

const (
	CapExistence Capability = "existence" // Does the provider still list the symbol
	CapQuote     Capability = "quote"     // Latest price snapshot
	CapProfile   Capability = "profile"   // Company metadata
)

// Capabilities lists every known capability in a stable order.
var Capabilities = []Capability{CapExistence, CapQuote, CapProfile}

// ParseCapability converts a config string into a Capability.
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Capabilities {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// TrackedItem is one instrument in the tracked universe.
type TrackedItem struct {
	Symbol      string                   // Primary key (e.g., "VNM")
	Active      bool                     // False once removed from tracking
	LastUpdated map[Capability]time.Time // Last successful refresh per category
}

// UpdatedAt returns the last refresh time for a capability (zero if never).
func (t TrackedItem) UpdatedAt(c Capability) time.Time {
	if t.LastUpdated == nil {
		return time.Time{}
	}
	return t.LastUpdated[c]
}

// NormalizeSymbol trims and upper-cases a ticker symbol.
// A Caser is stateful, so one is built per call.
func NormalizeSymbol(s string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(s))
}

// -----------------------------------------------------------------------------
// Provider Payloads
// -----------------------------------------------------------------------------

// Quote is a price snapshot for one instrument.
type Quote struct {
	Exchange      string          `json:"exchange,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
}

// Profile is static company metadata.
type Profile struct {
	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// Payload is the data returned by a successful fetch.
type Payload struct {
	Symbol     string     `json:"symbol"`
	Provider   string     `json:"provider"`
	Capability Capability `json:"capability"`
	FetchedAt  time.Time  `json:"fetched_at"`
	Quote      *Quote     `json:"quote,omitempty"`
	Profile    *Profile   `json:"profile,omitempty"`
}

// -----------------------------------------------------------------------------
// Fetch Outcomes
// -----------------------------------------------------------------------------

// OutcomeKind tags a FetchOutcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNotFound
	OutcomeRateLimited
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// FetchOutcome is the classified result of one provider call.
type FetchOutcome struct {
	kind    OutcomeKind
	payload Payload
	reason  string
}

// Success wraps a payload.
func Success(p Payload) FetchOutcome {
	return FetchOutcome{kind: OutcomeSuccess, payload: p}
}

// NotFound reports authoritative absence from one provider.
func NotFound(reason string) FetchOutcome {
	return FetchOutcome{kind: OutcomeNotFound, reason: reason}
}

// RateLimited reports a local or server-side throttle.
func RateLimited(reason string) FetchOutcome {
	return FetchOutcome{kind: OutcomeRateLimited, reason: reason}
}

// Failure reports any other failure (network, parse, auth, unsupported).
func Failure(reason string) FetchOutcome {
	return FetchOutcome{kind: OutcomeError, reason: reason}
}

// Kind returns the outcome tag.
func (o FetchOutcome) Kind() OutcomeKind { return o.kind }

// IsSuccess reports whether the outcome carries a payload.
func (o FetchOutcome) IsSuccess() bool { return o.kind == OutcomeSuccess }

// Payload returns the payload and whether one is present.
func (o FetchOutcome) Payload() (Payload, bool) {
	return o.payload, o.kind == OutcomeSuccess
}

// Reason returns the failure detail (empty for success).
func (o FetchOutcome) Reason() string { return o.reason }

func (o FetchOutcome) String() string {
	if o.reason == "" {
		return o.kind.String()
	}
	return o.kind.String() + ": " + o.reason
}
