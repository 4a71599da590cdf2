// Package ratelimit provides per-sender sliding-window message throttling.
package ratelimit

import (
	"sync"
	"time"
)

// Window tracks message timestamps per key and rejects a key once it has
// sent more than limit messages within span. State lives in process memory
// only and resets on restart.
type Window struct {
	mu      sync.Mutex
	limit   int
	span    time.Duration
	maxKeys int
	now     func() time.Time
	seen    map[string][]time.Time
}

func NewWindow(limit int, span time.Duration) *Window {
	if limit <= 0 {
		limit = 3
	}
	if span <= 0 {
		span = 10 * time.Second
	}
	return &Window{
		limit:   limit,
		span:    span,
		maxKeys: 10000,
		now:     time.Now,
		seen:    make(map[string][]time.Time),
	}
}

// Allow records one message for key and reports whether it is within the
// limit. The message that crosses the limit is the first rejected one.
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.span)

	stamps := w.seen[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)

	if len(w.seen) >= w.maxKeys {
		w.prune(cutoff)
	}
	w.seen[key] = kept

	return len(kept) <= w.limit
}

// prune drops keys whose entries have all aged out (must be called with the
// lock held).
func (w *Window) prune(cutoff time.Time) {
	for key, stamps := range w.seen {
		live := false
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(w.seen, key)
		}
	}
}

// Keys reports how many senders are currently tracked.
func (w *Window) Keys() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
