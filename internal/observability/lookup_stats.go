// Package observability provides lookup counters for the replay service.
package observability

import (
	"sync/atomic"
	"time"
)

// LookupStats counts lookup outcomes. All methods are safe for concurrent
// use and never block.
type LookupStats struct {
	hits           atomic.Int64
	misses         atomic.Int64
	invalid        atomic.Int64
	collisionDraws atomic.Int64
	started        time.Time
}

// Snapshot is a point-in-time copy of LookupStats.
type Snapshot struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Invalid        int64   `json:"invalid_requests"`
	CollisionDraws int64   `json:"collision_draws"`
	Total          int64   `json:"total"`
	HitRate        float64 `json:"hit_rate"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewLookupStats creates a tracker whose uptime starts at now.
func NewLookupStats(now time.Time) *LookupStats {
	return &LookupStats{started: now}
}

// RecordHit records a successful lookup. collision is true when the key had
// more than one candidate and a random draw was made.
func (s *LookupStats) RecordHit(collision bool) {
	s.hits.Add(1)
	if collision {
		s.collisionDraws.Add(1)
	}
}

// RecordMiss records a well-formed request with no stored response.
func (s *LookupStats) RecordMiss() {
	s.misses.Add(1)
}

// RecordInvalid records a request that could not be canonicalized.
func (s *LookupStats) RecordInvalid() {
	s.invalid.Add(1)
}

// Snapshot returns the current counters. Counters are read individually, so
// a snapshot taken under load may be off by in-flight requests.
func (s *LookupStats) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		Hits:           s.hits.Load(),
		Misses:         s.misses.Load(),
		Invalid:        s.invalid.Load(),
		CollisionDraws: s.collisionDraws.Load(),
		UptimeSeconds:  now.Sub(s.started).Seconds(),
	}
	snap.Total = snap.Hits + snap.Misses + snap.Invalid
	if snap.Total > 0 {
		snap.HitRate = float64(snap.Hits) / float64(snap.Total)
	}
	return snap
}
