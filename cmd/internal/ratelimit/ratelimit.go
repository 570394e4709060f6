// Package ratelimit bounds how often a keyed action may happen inside a window.
//
// Limiter is injected into services; FixedWindow keeps counters in process,
// RedisLimiter shares them across instances.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults for verification-email resends.
const (
	DefaultLimit  = 5
	DefaultWindow = 15 * time.Minute
)

// Limiter is check-and-increment over a per-key window.
type Limiter interface {
	// Allow records an attempt for key at now and reports whether it is within the limit.
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// FixedWindow is an in-process Limiter.
//
// The first attempt for a key opens a window with count 1. Attempts inside an
// open window are rejected once count has reached limit; otherwise they
// increment. The next attempt after the window elapses starts over at 1.
// Entries are created on first use and pruned lazily after expiry.
type FixedWindow struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	entries map[string]window
}

// NewFixedWindow constructs a FixedWindow. Non-positive values fall back to the defaults.
func NewFixedWindow(limit int, win time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if win <= 0 {
		win = DefaultWindow
	}
	return &FixedWindow{limit: limit, window: win, entries: make(map[string]window)}
}

const pruneThreshold = 4096

// Allow implements Limiter.
func (l *FixedWindow) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if now.IsZero() {
		now = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= pruneThreshold {
		l.pruneLocked(now)
	}

	w, ok := l.entries[key]
	if !ok || !now.Before(w.resetAt) {
		l.entries[key] = window{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	l.entries[key] = w
	return true, nil
}

func (l *FixedWindow) pruneLocked(now time.Time) {
	for k, w := range l.entries {
		if !now.Before(w.resetAt) {
			delete(l.entries, k)
		}
	}
}

// Len reports the number of tracked keys.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

var _ Limiter = (*FixedWindow)(nil)
