package utils

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum interval between successive operations. It is safe
// for concurrent use; callers queue up behind each other.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a Pacer allowing one operation per interval. A non-positive
// interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next operation may proceed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Jitter returns a uniformly random duration in [min, max).
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TokenSet is a thread-safe set for tracking listing tokens already seen.
// Each token remembers when it was added so old entries can be pruned.
type TokenSet struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

// NewTokenSet creates an empty TokenSet.
func NewTokenSet() *TokenSet {
	return &TokenSet{seen: make(map[string]time.Time)}
}

// Add records token as seen at the given time. It returns true if the token
// was newly added, false if already present.
func (s *TokenSet) Add(token string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[token]; exists {
		return false
	}
	s.seen[token] = at
	return true
}

// Contains returns true if the token has already been seen.
func (s *TokenSet) Contains(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[token]
	return exists
}

// Prune drops tokens added before cutoff and returns how many were dropped.
func (s *TokenSet) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, token)
			n++
		}
	}
	return n
}

// Size returns the number of unique tokens tracked.
func (s *TokenSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
