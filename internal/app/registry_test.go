package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type stubConn struct{ id domain.ConnID }

func (s stubConn) ID() domain.ConnID      { return s.id }
func (stubConn) TrySend(core.Frame) error { return nil }
func (stubConn) Close()                   {}

func TestRegistryUsers(t *testing.T) {
	r := NewRegistry()
	u := r.GetOrCreateUser("u1")
	assert.Equal(t, "guest", u.Username)

	require.NoError(t, r.UpdateUsername("u1", " alice "))
	assert.Equal(t, "alice", r.GetOrCreateUser("u1").Username)

	assert.ErrorIs(t, r.UpdateUsername("u1", ""), domain.ErrUsernameEmpty)
	assert.Equal(t, "alice", r.GetOrCreateUser("u1").Username)

	require.NoError(t, r.UpdateUsername("u2", "bob"))
	assert.Equal(t, "bob", r.GetOrCreateUser("u2").Username)
}

func TestRegistryConnRouting(t *testing.T) {
	r := NewRegistry()
	cancelled := false
	r.BindConn("u1", stubConn{id: "c1"}, func() { cancelled = true })
	assert.Equal(t, 1, r.ConnCount())

	conn, ok := r.Conn("c1")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("c1"), conn.ID())

	_, _, ok = r.RoomOf("c1")
	assert.False(t, ok)

	assert.True(t, r.UpdateRoom("c1", "room-1"))
	assert.False(t, r.UpdateRoom("missing", "room-1"))
	room, user, ok := r.RoomOf("c1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("room-1"), room)
	assert.Equal(t, domain.UserID("u1"), user)

	// a stale removal for another room keeps the current association
	r.RemoveRoom("c1", "room-0")
	_, _, ok = r.RoomOf("c1")
	assert.True(t, ok)
	r.RemoveRoom("c1", "room-1")
	_, _, ok = r.RoomOf("c1")
	assert.False(t, ok)

	assert.True(t, r.Cancel("c1"))
	assert.True(t, cancelled)
	assert.False(t, r.Cancel("missing"))

	r.UpdateRoom("c1", "room-2")
	room, user, ok = r.Unbind("c1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("room-2"), room)
	assert.Equal(t, domain.UserID("u1"), user)
	assert.Equal(t, 0, r.ConnCount())
	_, _, ok = r.Unbind("c1")
	assert.False(t, ok)
}
