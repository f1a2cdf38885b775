package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// ActionMessage is the admission key for message sends.
const ActionMessage = "message"

// Default ceiling: 30 messages per 60 second window.
const (
	DefaultWindow  = 60 * time.Second
	DefaultCeiling = 30
)

// Limiter is a per-(identity, action) sliding-window admission gate.
// Attempt timestamps are pruned lazily on each check; the check and the
// recording of an admitted attempt happen under one lock so the admission
// decision cannot interleave with a concurrent check.
//
// State is in-memory only. If the internal state is unreadable the limiter
// fails open: availability is preferred over strictness here, unlike the
// moderation pipeline which always blocks critical categories.
type Limiter struct {
	window  time.Duration
	ceiling int
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

// New creates a Limiter. Non-positive arguments fall back to the defaults.
func New(window time.Duration, ceiling int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Limiter{
		window:  window,
		ceiling: ceiling,
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func key(identity, action string) string {
	return fmt.Sprintf("%s:%s", identity, action)
}

// Allow reports whether the identity may perform the action now, and if so
// records the attempt atomically with the decision.
func (l *Limiter) Allow(identity, action string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.entries == nil {
		// Unreadable state: fail open.
		return true
	}

	k := key(identity, action)
	kept := l.prune(k)
	if len(kept) >= l.ceiling {
		return false
	}

	l.entries[k] = append(kept, l.now())
	return true
}

// Remaining returns how many attempts the identity has left in the
// current window.
func (l *Limiter) Remaining(identity, action string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.entries == nil {
		return l.ceiling
	}

	kept := l.prune(key(identity, action))
	if len(kept) >= l.ceiling {
		return 0
	}
	return l.ceiling - len(kept)
}

// Reset clears all recorded attempts for the identity and action.
func (l *Limiter) Reset(identity, action string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key(identity, action))
}

// prune drops timestamps outside the trailing window and stores the kept
// slice back. Caller must hold the lock.
func (l *Limiter) prune(k string) []time.Time {
	cutoff := l.now().Add(-l.window)
	stamps := l.entries[k]

	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) == 0 {
		delete(l.entries, k)
		return nil
	}
	l.entries[k] = kept
	return kept
}
