package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type connEntry struct {
	UserID domain.UserID
	RoomID domain.RoomID
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry binds live transport connections to identities and to the room
// each connection currently sits in. Room state itself lives in the
// coordinator; this is only the adapter-side routing table.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
	users map[domain.UserID]*domain.User
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*connEntry),
		users: make(map[domain.UserID]*domain.User),
	}
}

func (r *Registry) GetOrCreateUser(id domain.UserID) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return *u
	}
	u := &domain.User{ID: id, Username: "guest"}
	r.users[id] = u
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("created new user")
	return *u
}

func (r *Registry) UpdateUsername(id domain.UserID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		u = &domain.User{ID: id}
	}
	if err := u.SetUsername(name); err != nil {
		return err
	}
	r.users[id] = u
	log.Info().Str("module", "app.registry").Str("user", string(id)).Str("username", u.Username).Msg("updated username")
	return nil
}

func (r *Registry) BindConn(user domain.UserID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = &connEntry{UserID: user, Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(conn.ID())).Str("user", string(user)).Msg("bound connection")
}

func (r *Registry) Conn(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (r *Registry) RoomOf(id domain.ConnID) (domain.RoomID, domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.RoomID == "" {
		return "", "", false
	}
	return e.RoomID, e.UserID, true
}

func (r *Registry) UpdateRoom(id domain.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.RoomID = room
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(room)).Msg("updated room")
	return true
}

// RemoveRoom clears the room association if it still points at room.
func (r *Registry) RemoveRoom(id domain.ConnID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok && e.RoomID == room {
		e.RoomID = ""
	}
}

// Unbind forgets the connection and returns the room it was in.
func (r *Registry) Unbind(id domain.ConnID) (domain.RoomID, domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return "", "", false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind connection")
	return e.RoomID, e.UserID, true
}

func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
