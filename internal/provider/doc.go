// Package provider implements the rate-limited provider adapters.
//
// An Adapter wraps one external market-data provider behind a uniform Fetch
// operation:
//   - rejects capabilities the provider does not serve
//   - enforces a local call quota per wall-clock period
//   - rotates round-robin across the provider's API keys
//   - classifies every response as Success, NotFound, RateLimited or Error
//
// Provider-specific request building and response decoding live behind the
// backend interface; the set of backends is closed and selected by Kind.
package provider
