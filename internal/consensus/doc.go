// Package consensus decides whether an instrument should be removed from
// tracking by polling every provider that supports existence checks.
//
// Removal requires at least K independent NotFound answers. Rate-limited and
// failed responses neither count towards nor against the quorum, and a Found
// answer never vetoes removal.
package consensus
