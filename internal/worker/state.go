package worker

import (
	"sync"
	"time"
)

// clientState tracks one client's in-flight gate and rate-limit window.
type clientState struct {
	mu       sync.Mutex
	busy     bool
	hits     []time.Time
	lastSeen time.Time
}

func newClientState() *clientState {
	return &clientState{lastSeen: time.Now()}
}

func (s *clientState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *clientState) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// allow records a hit and reports whether the sliding window still has room.
func (s *clientState) allow(limit int, window time.Duration) bool {
	now := time.Now()
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := 0
	for _, t := range s.hits {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	if idx > 0 {
		s.hits = s.hits[idx:]
	}
	if len(s.hits) >= limit {
		return false
	}
	s.hits = append(s.hits, now)
	return true
}

func (s *clientState) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *clientState) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busy && s.lastSeen.Before(cutoff)
}
