// Package ratelimit throttles the public chain-of-custody endpoints per
// client address using a sliding window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result describes the outcome of a single admission check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds
}

// Store counts requests per key within a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

type slidingWindow struct {
	timestamps []time.Time
}

// cleanup drops timestamps that fell out of the window.
func (sw *slidingWindow) cleanup(cutoff time.Time) {
	kept := sw.timestamps[:0]
	for _, ts := range sw.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	sw.timestamps = kept
}

// Memory is a process-local sliding window store. Windows that empty out are
// dropped so the key set stays bounded by the clients seen in one window.
type Memory struct {
	mu        sync.Mutex
	windows   map[string]*slidingWindow
	now       func() time.Time
	lastSweep time.Time
}

// MemoryOption configures the Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		windows: make(map[string]*slidingWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-window)
	m.evictIdle(now, cutoff, window)

	sw, ok := m.windows[key]
	if ok {
		sw.cleanup(cutoff)
		if len(sw.timestamps) == 0 {
			delete(m.windows, key)
			ok = false
		}
	}

	count := 0
	if ok {
		count = len(sw.timestamps)
	}
	if count >= limit {
		resetAt := now.Add(window)
		if ok {
			resetAt = sw.timestamps[0].Add(window)
		}
		return &Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt.Sub(now)),
		}, nil
	}

	if !ok {
		sw = &slidingWindow{}
		m.windows[key] = sw
	}
	sw.timestamps = append(sw.timestamps, now)
	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(sw.timestamps),
		ResetAt:   sw.timestamps[0].Add(window),
	}, nil
}

// evictIdle drops every window whose newest hit is older than cutoff. It runs
// at most once per window length. Caller holds m.mu.
func (m *Memory) evictIdle(now, cutoff time.Time, window time.Duration) {
	if now.Sub(m.lastSweep) < window {
		return
	}
	m.lastSweep = now
	for key, sw := range m.windows {
		if n := len(sw.timestamps); n == 0 || !sw.timestamps[n-1].After(cutoff) {
			delete(m.windows, key)
		}
	}
}

// retryAfter rounds up to whole seconds with a floor of one.
func retryAfter(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
