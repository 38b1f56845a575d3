package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var errFull = errors.New("send buffer full")

type fakeConn struct {
	id domain.ConnID

	mu     sync.Mutex
	frames []domain.Outbound
	full   bool
	closed bool
}

func (f *fakeConn) ID() domain.ConnID { return f.id }

func (f *fakeConn) TrySend(frame core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return errFull
	}
	var out domain.Outbound
	if err := json.Unmarshal(frame, &out); err != nil {
		return err
	}
	f.frames = append(f.frames, out)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) received() []domain.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Outbound(nil), f.frames...)
}

func (f *fakeConn) count(typ string) int {
	n := 0
	for _, o := range f.received() {
		if o.Type == typ {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(typ string) (domain.Outbound, bool) {
	frames := f.received()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == typ {
			return frames[i], true
		}
	}
	return domain.Outbound{}, false
}

// flagged counts message:new frames carrying flag.
func (f *fakeConn) flagged(flag domain.Flags) int {
	n := 0
	for _, o := range f.received() {
		if o.Type == domain.OutMessageNew && o.Message != nil && o.Message.Flags.Has(flag) {
			n++
		}
	}
	return n
}

type fakeDirectory struct {
	mu      sync.Mutex
	conns   map[domain.ConnID]*fakeConn
	removed []domain.ConnID

	// delay stalls every lookup; busy is signalled when a stalled lookup starts.
	delay time.Duration
	busy  chan struct{}
}

func (d *fakeDirectory) Conn(id domain.ConnID) (core.SignalConnection, bool) {
	d.mu.Lock()
	c, ok := d.conns[id]
	delay, busy := d.delay, d.busy
	d.mu.Unlock()
	if delay > 0 {
		select {
		case busy <- struct{}{}:
		default:
		}
		time.Sleep(delay)
	}
	if !ok {
		return nil, false
	}
	return c, true
}

// stall makes lookups slow and returns a channel fed when one begins.
func (d *fakeDirectory) stall(delay time.Duration) <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
	d.busy = make(chan struct{}, 1)
	return d.busy
}

func (d *fakeDirectory) RemoveRoom(id domain.ConnID, _ domain.RoomID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, id)
}

func (d *fakeDirectory) wasRemoved(id domain.ConnID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.removed {
		if r == id {
			return true
		}
	}
	return false
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *core.ManualClock
	dir   *fakeDirectory
	coord *Coordinator
}

func newHarness(t *testing.T, repo core.RoomRepository, policy app.Policy) *harness {
	t.Helper()
	return newHarnessWith(t, Settings{}, repo, policy)
}

func newHarnessWith(t *testing.T, cfg Settings, repo core.RoomRepository, policy app.Policy) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		clock: core.NewManualClock(epoch),
		dir:   &fakeDirectory{conns: make(map[domain.ConnID]*fakeConn)},
	}
	h.coord = New(cfg, Deps{Policy: policy, Repo: repo, Clock: h.clock, Directory: h.dir})
	t.Cleanup(func() { _ = h.coord.Close() })
	return h
}

func (h *harness) conn(id domain.ConnID) *fakeConn {
	h.dir.mu.Lock()
	defer h.dir.mu.Unlock()
	c := &fakeConn{id: id}
	h.dir.conns[id] = c
	return c
}

func (h *harness) room(req CreateRoomRequest) domain.RoomID {
	h.t.Helper()
	room, err := h.coord.CreateRoom(h.ctx, req)
	require.NoError(h.t, err)
	return room.ID
}

func (h *harness) join(room domain.RoomID, user domain.UserID, name string, conn domain.ConnID) *fakeConn {
	h.t.Helper()
	c := h.conn(conn)
	_, err := h.coord.Join(h.ctx, domain.JoinEvent{RoomID: room, UserID: user, Username: name, ConnID: conn})
	require.NoError(h.t, err)
	return c
}

func (h *harness) state(room domain.RoomID, user domain.UserID) domain.MemberState {
	h.t.Helper()
	m, err := h.coord.Member(h.ctx, room, user)
	if errors.Is(err, domain.ErrNotMember) {
		return domain.Left
	}
	require.NoError(h.t, err)
	return m.State
}

func (h *harness) exists(room domain.RoomID) bool {
	return h.coord.lookup(room) != nil
}
