package utils

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenSetNoDuplicates(t *testing.T) {
	s := NewTokenSet()

	if !s.Add("gZx1", time.Now()) {
		t.Error("first Add should return true")
	}
	if s.Add("gZx1", time.Now()) {
		t.Error("second Add of same token should return false")
	}
	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
	if !s.Contains("gZx1") {
		t.Error("Contains should report an added token")
	}
}

func TestTokenSetPrune(t *testing.T) {
	s := NewTokenSet()
	base := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	s.Add("old", base)
	s.Add("edge", base.Add(24*time.Hour))
	s.Add("new", base.Add(47*time.Hour))

	if n := s.Prune(base.Add(24 * time.Hour)); n != 1 {
		t.Errorf("pruned: got %d, want 1", n)
	}
	if s.Contains("old") || !s.Contains("edge") || !s.Contains("new") {
		t.Errorf("after prune: old=%v edge=%v new=%v", s.Contains("old"), s.Contains("edge"), s.Contains("new"))
	}
	if !s.Add("old", base.Add(48*time.Hour)) {
		t.Error("a pruned token should be addable again")
	}
}

func TestTokenSetConcurrency(t *testing.T) {
	s := NewTokenSet()
	var added int64
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Add("same", time.Now()) {
				atomic.AddInt64(&added, 1)
			}
		}()
	}
	wg.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestPacerSpacesCalls(t *testing.T) {
	interval := 50 * time.Millisecond
	p := NewPacer(interval)
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
		stamps = append(stamps, time.Now())
	}

	// Allow a little scheduler slack below the nominal interval.
	min := interval - 10*time.Millisecond
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < min {
			t.Errorf("gap between call %d and %d: %v < minimum %v", i-1, i, gap, min)
		}
	}
}

func TestPacerDisabled(t *testing.T) {
	p := NewPacer(0)
	start := time.Now()
	for i := 0; i < 10; i++ {
		_ = p.Wait(context.Background())
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("disabled pacer should not block")
	}
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := Jitter(1500*time.Millisecond, 3500*time.Millisecond)
		if d < 1500*time.Millisecond || d >= 3500*time.Millisecond {
			t.Fatalf("jitter out of range: %v", d)
		}
	}
	if got := Jitter(time.Second, time.Second); got != time.Second {
		t.Errorf("degenerate jitter: got %v, want 1s", got)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); err == nil {
		t.Error("expected cancellation error")
	}
}
