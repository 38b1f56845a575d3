package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type envelope struct {
	ctx   context.Context
	ev    any
	reply chan reply
}

type reply struct {
	res Result
	err error
}

// Events produced inside the room itself. Timers only ever post these.
type (
	graceExpired  struct{ gen uint64 }
	typingExpired struct {
		user domain.UserID
		gen  uint64
	}
	roomExpired struct{}
	rosterQuery struct{}
	memberQuery struct{ user domain.UserID }
)

type delivery struct {
	to    domain.ConnID
	frame core.Frame
}

type typingState struct {
	timer core.Timer
	gen   uint64
}

// roomActor owns every piece of state of one room. All fields below inbox
// are touched only by the run goroutine.
type roomActor struct {
	c       *Coordinator
	room    domain.Room
	members atomic.Int32
	inbox   chan envelope
	done    chan struct{}

	ledger    *core.Ledger
	store     *core.MessageStore
	gate      *app.ContentGate
	grace     *app.GraceManager
	shots     *app.Debouncer
	typing    map[domain.UserID]*typingState
	typingGen uint64
	expiry    core.Timer
	out       []delivery
	closed    bool
}

func newRoomActor(c *Coordinator, room domain.Room) *roomActor {
	return &roomActor{
		c:      c,
		room:   room,
		inbox:  make(chan envelope, c.cfg.InboxSize),
		done:   make(chan struct{}),
		ledger: core.NewLedger(),
		store:  core.NewMessageStore(room.ID, c.clock, c.cfg.HistoryLimit),
		gate:   app.NewContentGate(),
		grace:  app.NewGraceManager(c.clock, c.cfg.GracePeriod),
		shots:  app.NewDebouncer(c.clock, c.cfg.ScreenshotDebounce),
		typing: make(map[domain.UserID]*typingState),
	}
}

// start arms the expiry timer and launches the room goroutine. The caller
// has already added the actor to the coordinator wait group.
func (a *roomActor) start() {
	if a.room.ExpiresAt != nil {
		a.expiry = a.c.clock.AfterFunc(a.room.ExpiresAt.Sub(a.c.clock.Now()), func() { a.post(roomExpired{}) })
	}
	go a.run()
}

func (a *roomActor) run() {
	defer a.c.wg.Done()
	defer a.shutdown()

	for {
		select {
		case env := <-a.inbox:
			res, err := a.dispatch(env)
			a.members.Store(int32(a.ledger.Len()))
			a.flush()
			env.reply <- reply{res: res, err: err}
			if a.closed {
				return
			}
		case <-a.c.ctx.Done():
			log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Msg("room actor stopped")
			return
		}
	}
}

func (a *roomActor) shutdown() {
	a.grace.Cancel()
	for id := range a.typing {
		a.clearTyping(id)
	}
	if a.expiry != nil {
		a.expiry.Stop()
	}
	close(a.done)
	for {
		select {
		case env := <-a.inbox:
			env.reply <- reply{err: fmt.Errorf("room %s: %w", a.room.ID, domain.ErrRoomClosed)}
		default:
			return
		}
	}
}

// call submits ev and waits for its result. A caller whose context ends
// after the room accepted the event gets ErrTimeout, but the event may
// still be applied.
func (a *roomActor) call(ctx context.Context, ev any) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.c.cfg.OpTimeout)
		defer cancel()
	}
	closed := fmt.Errorf("room %s: %w", a.room.ID, domain.ErrRoomClosed)
	env := envelope{ctx: ctx, ev: ev, reply: make(chan reply, 1)}
	select {
	case a.inbox <- env:
	case <-a.done:
		return Result{}, closed
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
	select {
	case r := <-env.reply:
		return r.res, r.err
	case <-a.done:
		select {
		case r := <-env.reply:
			return r.res, r.err
		default:
			return Result{}, closed
		}
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
}

func (a *roomActor) dispatch(env envelope) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.orch").Str("room", string(a.room.ID)).
				Str("event", fmt.Sprintf("%T", env.ev)).Interface("panic", r).Bytes("stack", debug.Stack()).
				Msg("room handler panicked")
			a.out = nil
			res, err = Result{}, fmt.Errorf("room %s: internal error", a.room.ID)
		}
	}()
	if cerr := env.ctx.Err(); cerr != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrTimeout, cerr)
	}

	switch ev := env.ev.(type) {
	case domain.JoinEvent:
		return a.join(ev)
	case domain.LeaveEvent:
		return a.leave(ev)
	case domain.DisconnectEvent:
		return a.disconnect(ev)
	case domain.KickEvent:
		return a.kick(ev)
	case domain.DeleteRoomEvent:
		return a.deleteRoom(ev)
	case domain.SendEvent:
		return a.send(ev)
	case domain.DownloadEvent:
		return a.downloaded(ev)
	case domain.ScreenshotEvent:
		return a.screenshot(ev)
	case domain.OpenFileEvent:
		return a.openFile(ev)
	case domain.TypingEvent:
		return a.setTyping(ev)
	case graceExpired:
		return a.graceExpired(ev)
	case typingExpired:
		return a.typingExpired(ev)
	case roomExpired:
		return a.expired()
	case rosterQuery:
		return Result{Room: a.room, Users: a.roster()}, nil
	case memberQuery:
		m, ok := a.ledger.Get(ev.user)
		if !ok {
			return Result{Room: a.room}, fmt.Errorf("%s in room %s: %w", ev.user, a.room.ID, domain.ErrNotMember)
		}
		return Result{Room: a.room, Member: m}, nil
	}
	return Result{}, fmt.Errorf("%w: unsupported event %T", domain.ErrInvalidEvent, env.ev)
}

// post is used by timer callbacks. Internal events carry no deadline: once
// queued they are always dispatched, however busy the room is.
func (a *roomActor) post(ev any) {
	env := envelope{ctx: context.Background(), ev: ev, reply: make(chan reply, 1)}
	select {
	case a.inbox <- env:
	case <-a.done:
		log.Debug().Str("module", "app.orch").Str("room", string(a.room.ID)).Msgf("%T after room closed", ev)
		return
	case <-a.c.ctx.Done():
		return
	}
	select {
	case r := <-env.reply:
		if r.err != nil {
			log.Debug().Err(r.err).Str("module", "app.orch").Str("room", string(a.room.ID)).Msgf("%T failed", ev)
		}
	case <-a.done:
	case <-a.c.ctx.Done():
	}
}

func (a *roomActor) info() domain.RoomInfo {
	info := domain.RoomInfo{
		ID:          a.room.ID,
		Mode:        a.room.Mode,
		HasPassword: a.room.HasPassword(),
		ExpiresAt:   a.room.ExpiresAt,
	}
	if !a.room.IsSecure() {
		info.MemberCount = int(a.members.Load())
	}
	return info
}

func (a *roomActor) ttl() time.Duration {
	if a.room.ExpiresAt != nil {
		if d := a.room.ExpiresAt.Sub(a.c.clock.Now()); d > 0 {
			return d
		}
		return time.Second
	}
	return a.c.cfg.DefaultRoomTTL
}

func (a *roomActor) roster() []domain.MemberDTO {
	if a.room.IsSecure() {
		return nil
	}
	return a.ledger.Roster()
}

func (a *roomActor) encode(out domain.Outbound) core.Frame {
	out.RoomID = a.room.ID
	b, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("type", out.Type).Msg("encode outbound")
		return nil
	}
	return b
}

func (a *roomActor) emit(to domain.ConnID, out domain.Outbound) {
	if to == "" {
		return
	}
	if frame := a.encode(out); frame != nil {
		a.out = append(a.out, delivery{to: to, frame: frame})
	}
}

// broadcast queues out for every Active member except skip.
func (a *roomActor) broadcast(out domain.Outbound, skip domain.UserID) {
	frame := a.encode(out)
	if frame == nil {
		return
	}
	for _, m := range a.ledger.Active() {
		if m.UserID == skip || m.ConnID == "" {
			continue
		}
		a.out = append(a.out, delivery{to: m.ConnID, frame: frame})
	}
}

// flush delivers the frames queued by the last step. Delivery is
// best-effort and never blocks.
func (a *roomActor) flush() {
	if len(a.out) == 0 {
		return
	}
	sent, dropped := 0, 0
	for _, d := range a.out {
		conn, ok := a.c.dir.Conn(d.to)
		if !ok {
			dropped++
			continue
		}
		if err := conn.TrySend(d.frame); err != nil {
			dropped++
			if a.c.policy.OnBackPressure(&a.room, conn) == app.CloseConnection {
				conn.Close()
			}
			continue
		}
		sent++
	}
	a.out = nil
	log.Debug().Str("module", "app.orch").Str("room", string(a.room.ID)).Int("sent_to", sent).Int("dropped", dropped).Msg("flush result")
}

// appendMessage stores msg, queues it for persistence and broadcasts it.
func (a *roomActor) appendMessage(msg domain.Message) domain.Message {
	stored := a.store.Append(msg)
	a.c.persist.appendMessage(a.room.ID, stored, a.ttl())
	a.broadcast(domain.Outbound{Type: domain.OutMessageNew, Message: &stored}, "")
	return stored
}

func (a *roomActor) announceRoster() {
	if a.room.IsSecure() {
		return
	}
	a.broadcast(domain.Outbound{Type: domain.OutRoomOnlineUsers, Users: a.ledger.Roster()}, "")
}

// teardown releases everything the room owns and removes it from the arena.
func (a *roomActor) teardown(outType string, notice *domain.Message) {
	a.closed = true
	a.broadcast(domain.Outbound{Type: outType, Message: notice}, "")
	for _, m := range a.ledger.Active() {
		a.c.dir.RemoveRoom(m.ConnID, a.room.ID)
	}
	a.grace.Cancel()
	for id := range a.typing {
		a.clearTyping(id)
	}
	if a.expiry != nil {
		a.expiry.Stop()
		a.expiry = nil
	}
	a.ledger.Clear()
	a.store.Delete(func(*domain.Message) bool { return true })
	a.gate.Reset()
	a.c.persist.deleteRoom(a.room.ID)
	a.c.remove(a)
	log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("reason", outType).Msg("room torn down")
}
