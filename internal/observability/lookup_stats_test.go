package observability

import (
	"sync"
	"testing"
	"time"
)

// TestLookupStatsConcurrent tests concurrent recording for race conditions.
func TestLookupStatsConcurrent(t *testing.T) {
	start := time.Unix(1700000000, 0)
	s := NewLookupStats(start)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				s.RecordHit(j%2 == 0)
				s.RecordMiss()
				s.RecordInvalid()
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot(start.Add(10 * time.Second))
	n := int64(numGoroutines * recordsPerGoroutine)
	if snap.Hits != n || snap.Misses != n || snap.Invalid != n {
		t.Errorf("unexpected counts: %+v", snap)
	}
	if snap.CollisionDraws != n/2 {
		t.Errorf("expected %d collision draws, got %d", n/2, snap.CollisionDraws)
	}
	if snap.Total != 3*n {
		t.Errorf("expected total %d, got %d", 3*n, snap.Total)
	}
	if snap.UptimeSeconds != 10 {
		t.Errorf("expected uptime 10s, got %v", snap.UptimeSeconds)
	}
}

func TestLookupStatsHitRate(t *testing.T) {
	now := time.Now()
	s := NewLookupStats(now)
	if got := s.Snapshot(now).HitRate; got != 0 {
		t.Errorf("empty hit rate should be 0, got %v", got)
	}
	s.RecordHit(false)
	s.RecordHit(false)
	s.RecordHit(false)
	s.RecordMiss()
	if got := s.Snapshot(now).HitRate; got != 0.75 {
		t.Errorf("expected 0.75, got %v", got)
	}
}
