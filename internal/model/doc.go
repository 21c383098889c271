// Package model defines the core data types shared across the refresher.
//
// Types are organized by purpose:
//   - Tracked universe: TrackedItem, Capability
//   - Provider results: FetchOutcome, Payload, Quote, Profile
//
// FetchOutcome is a closed tagged variant. Values are built with Success,
// NotFound, RateLimited or Failure and never change afterwards.
package model
