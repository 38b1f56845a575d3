package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClockFiresInDeadlineOrder(t *testing.T) {
	c := NewManualClock(t0)
	var fired []string
	c.AfterFunc(3*time.Second, func() { fired = append(fired, "late") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "early") })
	assert.Equal(t, 2, c.Pending())

	c.Advance(500 * time.Millisecond)
	assert.Empty(t, fired)

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Equal(t, 0, c.Pending())
	assert.True(t, c.Now().Equal(t0.Add(3500*time.Millisecond)))
}

func TestManualClockStop(t *testing.T) {
	c := NewManualClock(t0)
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.False(t, called)
	assert.Equal(t, 0, c.Pending())
}

func TestManualClockStopAfterFire(t *testing.T) {
	c := NewManualClock(t0)
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	assert.False(t, timer.Stop())
}

func TestManualClockCallbackMayArmAgain(t *testing.T) {
	c := NewManualClock(t0)
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(time.Second)
	c.Advance(time.Second)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, c.Pending())
}
