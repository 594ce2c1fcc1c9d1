// Package dedup provides a TTL keyed set used to suppress repeated
// observations of the same trade.
package dedup

import (
	"sync"
	"time"
)

// Set remembers keys for a time-to-live window. It is safe for
// concurrent use.
type Set struct {
	seen map[string]time.Time // key -> last seen time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewSet creates a Set that considers a key a duplicate if it has been
// seen within the given ttl.
func NewSet(ttl time.Duration) *Set {
	return &Set{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Set) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Seen returns true if the key has been recorded within the TTL window.
// If the key has not been seen (or has expired), it is recorded and
// false is returned.
func (s *Set) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if lastSeen, ok := s.seen[key]; ok {
		if now.Sub(lastSeen) < s.ttl {
			return true
		}
	}

	s.seen[key] = now
	return false
}

// SeenNear reports whether the key was recorded with a timestamp within
// tol of at. If it was not, at is recorded under the key. Unlike Seen,
// the comparison uses the caller's timestamps, not the wall clock, so
// events replayed long after the fact still match their original.
func (s *Set) SeenNear(key string, at time.Time, tol time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.seen[key]; ok {
		diff := at.Sub(last)
		if diff < 0 {
			diff = -diff
		}
		if diff < tol {
			return true
		}
	}
	s.seen[key] = at
	return false
}

// Contains reports whether the key is live in the window without
// recording it.
func (s *Set) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastSeen, ok := s.seen[key]
	return ok && s.now().Sub(lastSeen) < s.ttl
}

// Mark records the key unconditionally, refreshing its expiry.
func (s *Set) Mark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = s.now()
}

// Cleanup removes entries that have expired beyond the TTL. This should
// be called periodically to prevent unbounded memory growth.
func (s *Set) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, ts := range s.seen {
		if now.Sub(ts) >= s.ttl {
			delete(s.seen, key)
		}
	}
}

// Len reports how many keys are currently held, expired or not.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
