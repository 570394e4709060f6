package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow is an in-process Limiter that keeps the timestamps of the
// last limit attempts per key. Used for chat posting.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	events map[string][]time.Time
}

// NewSlidingWindow constructs a SlidingWindow. Non-positive values fall back to the defaults.
func NewSlidingWindow(limit int, win time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if win <= 0 {
		win = DefaultWindow
	}
	return &SlidingWindow{limit: limit, window: win, events: make(map[string][]time.Time)}
}

// Allow implements Limiter.
func (l *SlidingWindow) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if now.IsZero() {
		now = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) >= pruneThreshold {
		l.pruneLocked(now)
	}

	cut := now.Add(-l.window)
	evs := l.events[key]
	dst := evs[:0]
	for _, t := range evs {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= l.limit {
		l.events[key] = dst
		return false, nil
	}
	l.events[key] = append(dst, now)
	return true, nil
}

func (l *SlidingWindow) pruneLocked(now time.Time) {
	cut := now.Add(-l.window)
	for k, evs := range l.events {
		if len(evs) == 0 || !evs[len(evs)-1].After(cut) {
			delete(l.events, k)
		}
	}
}

var _ Limiter = (*SlidingWindow)(nil)
