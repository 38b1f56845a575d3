package app

import (
	"time"

	"github.com/dkeye/Parley/internal/core"
)

// GraceManager owns the single host-reconnect timer of a room. It does not
// mutate room state: on expiry it hands a generation token to fire, which
// the owner must route through the room queue and check with Expired.
type GraceManager struct {
	clock    core.Clock
	duration time.Duration
	timer    core.Timer
	gen      uint64
	armed    bool
}

func NewGraceManager(clock core.Clock, d time.Duration) *GraceManager {
	return &GraceManager{clock: clock, duration: d}
}

// Arm starts the window, replacing any pending one.
func (g *GraceManager) Arm(fire func(gen uint64)) uint64 {
	g.stop()
	g.gen++
	gen := g.gen
	g.armed = true
	g.timer = g.clock.AfterFunc(g.duration, func() { fire(gen) })
	return gen
}

// Cancel disarms the window. It reports whether one was pending.
func (g *GraceManager) Cancel() bool {
	if !g.armed {
		return false
	}
	g.stop()
	g.gen++
	g.armed = false
	return true
}

// Expired consumes a fire event. Stale generations (cancelled or replaced
// before the event was ordered) return false.
func (g *GraceManager) Expired(gen uint64) bool {
	if !g.armed || gen != g.gen {
		return false
	}
	g.armed = false
	g.timer = nil
	return true
}

func (g *GraceManager) Pending() bool { return g.armed }

func (g *GraceManager) Duration() time.Duration { return g.duration }

func (g *GraceManager) stop() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
