package ratelimit

import (
	"testing"
	"time"
)

// clock is a manually advanced time source for deterministic window tests.
type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(window time.Duration, ceiling int) (*Limiter, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := New(window, ceiling)
	l.now = c.now
	return l, c
}

func TestAllow_AdmitsUpToCeiling(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 5)

	for i := 0; i < 5; i++ {
		if !l.Allow("user-1", ActionMessage) {
			t.Fatalf("attempt %d denied, want admitted", i+1)
		}
	}
	if l.Allow("user-1", ActionMessage) {
		t.Error("attempt over ceiling admitted, want denied")
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	l, c := newTestLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow("user-1", ActionMessage) {
			t.Fatalf("attempt %d denied", i+1)
		}
		c.advance(10 * time.Second)
	}
	// 30s in, window full.
	if l.Allow("user-1", ActionMessage) {
		t.Fatal("admitted with window full")
	}

	// First attempt falls out of the trailing window.
	c.advance(31 * time.Second)
	if !l.Allow("user-1", ActionMessage) {
		t.Error("denied after oldest attempt expired")
	}
}

func TestAllow_IdentitiesAndActionsIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 1)

	if !l.Allow("user-1", ActionMessage) {
		t.Fatal("first user-1 attempt denied")
	}
	if l.Allow("user-1", ActionMessage) {
		t.Error("user-1 over ceiling admitted")
	}
	if !l.Allow("user-2", ActionMessage) {
		t.Error("user-2 denied by user-1's attempts")
	}
	if !l.Allow("user-1", "typing") {
		t.Error("separate action denied by message attempts")
	}
}

func TestRemaining(t *testing.T) {
	l, c := newTestLimiter(time.Minute, 3)

	if got := l.Remaining("user-1", ActionMessage); got != 3 {
		t.Errorf("Remaining = %d, want 3", got)
	}
	l.Allow("user-1", ActionMessage)
	l.Allow("user-1", ActionMessage)
	if got := l.Remaining("user-1", ActionMessage); got != 1 {
		t.Errorf("Remaining = %d, want 1", got)
	}
	l.Allow("user-1", ActionMessage)
	if got := l.Remaining("user-1", ActionMessage); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}

	c.advance(61 * time.Second)
	if got := l.Remaining("user-1", ActionMessage); got != 3 {
		t.Errorf("Remaining after window = %d, want 3", got)
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 2)

	l.Allow("user-1", ActionMessage)
	l.Allow("user-1", ActionMessage)
	if l.Allow("user-1", ActionMessage) {
		t.Fatal("admitted over ceiling")
	}

	l.Reset("user-1", ActionMessage)
	if !l.Allow("user-1", ActionMessage) {
		t.Error("denied after reset")
	}
}

func TestAllow_FailsOpenOnNilState(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 1)
	l.entries = nil

	for i := 0; i < 10; i++ {
		if !l.Allow("user-1", ActionMessage) {
			t.Fatal("denied with unreadable state, want fail open")
		}
	}
	if got := l.Remaining("user-1", ActionMessage); got != 1 {
		t.Errorf("Remaining with nil state = %d, want ceiling", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	l := New(0, 0)
	if l.window != DefaultWindow {
		t.Errorf("window = %v, want %v", l.window, DefaultWindow)
	}
	if l.ceiling != DefaultCeiling {
		t.Errorf("ceiling = %d, want %d", l.ceiling, DefaultCeiling)
	}
}
