package cache

import (
	"sync"
	"time"
)

// GCTimer drives a Cache's GC off a single-shot timer, reprogramming
// itself from the cache's reported next-expiry, as described in §4.C.
// Mirrors the reference CacheControl class, which attaches to a GLib main
// loop timeout source; here a time.Timer plays that role.
type GCTimer struct {
	mu      sync.Mutex
	cache   *Cache
	min     time.Duration
	max     time.Duration
	timer   *time.Timer
	enabled bool
}

// NewGCTimer builds a disabled timer bound to cache. min is the floor
// applied to any reprogram value (default 500ms per §4.C, to avoid thrash
// on rounding skew); max bounds it from above (the event loop's maximum
// representable timeout).
func NewGCTimer(cache *Cache, min, max time.Duration) *GCTimer {
	return &GCTimer{cache: cache, min: min, max: max}
}

// Enable is idempotent: turns on rescheduling and fires the first tick.
func (t *GCTimer) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return
	}
	t.enabled = true
	t.scheduleUnlocked(t.min)
}

// Disable is idempotent. It does not cancel an in-flight eviction (there
// isn't one to cancel: GC runs synchronously on the timer goroutine) but
// suppresses rescheduling once the current tick, if any, completes.
func (t *GCTimer) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.enabled = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// TriggerNow runs GC immediately, as if the timer had just fired, and
// reprograms the next tick exactly as fire() would.
func (t *GCTimer) TriggerNow() {
	t.fire()
}

func (t *GCTimer) scheduleUnlocked(d time.Duration) {
	if t.timer != nil {
		// TriggerNow can reprogram while a scheduled tick is still
		// pending; a single-shot timer means there is never more than
		// one outstanding.
		t.timer.Stop()
	}
	d = t.clamp(d)
	t.timer = time.AfterFunc(d, t.fire)
}

func (t *GCTimer) clamp(d time.Duration) time.Duration {
	if d < t.min {
		return t.min
	}
	if t.max > 0 && d > t.max {
		return t.max
	}
	return d
}

func (t *GCTimer) fire() {
	next := t.cache.GC()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.scheduleUnlocked(next)
}
