package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/Parley/internal/domain"
)

func TestRoomRateLimiter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRoomRateLimiter(2, 10*time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u2"))

	now = now.Add(10 * time.Second)
	assert.True(t, rl.Allow("u1"))
}

func TestRoomRateLimiterPrune(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRoomRateLimiter(1, time.Second)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(500 * time.Millisecond)
	rl.Allow("fresh")
	now = now.Add(700 * time.Millisecond)
	rl.Prune()

	assert.NotContains(t, rl.history, domain.UserID("old"))
	assert.Contains(t, rl.history, domain.UserID("fresh"))
}

func TestMillis(t *testing.T) {
	assert.True(t, millis(0).IsZero())
	assert.Equal(t, int64(1700000000123), millis(1700000000123).UnixMilli())
}
