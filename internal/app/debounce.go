package app

import (
	"time"

	"github.com/dkeye/Parley/internal/core"
)

// Debouncer lets one event per key through per window. Owned by a room
// actor, so it carries no lock.
type Debouncer struct {
	clock  core.Clock
	window time.Duration
	last   map[string]time.Time
}

func NewDebouncer(clock core.Clock, window time.Duration) *Debouncer {
	return &Debouncer{clock: clock, window: window, last: make(map[string]time.Time)}
}

func (d *Debouncer) Allow(key string) bool {
	now := d.clock.Now()
	if prev, ok := d.last[key]; ok && now.Sub(prev) < d.window {
		return false
	}
	// keep the map bounded by evicting keys whose window has passed
	for k, t := range d.last {
		if now.Sub(t) >= d.window {
			delete(d.last, k)
		}
	}
	d.last[key] = now
	return true
}
