package orch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

// Directory resolves connection ids to live transport handles. The
// coordinator never owns connections; it only writes to them.
type Directory interface {
	Conn(id domain.ConnID) (core.SignalConnection, bool)
	// RemoveRoom tells the transport that conn no longer sits in room.
	RemoveRoom(id domain.ConnID, room domain.RoomID)
}

type Settings struct {
	GracePeriod        time.Duration
	ScreenshotDebounce time.Duration
	TypingTimeout      time.Duration
	OpTimeout          time.Duration
	HistoryLimit       int
	DefaultRoomTTL     time.Duration
	InboxSize          int
}

func (s Settings) withDefaults() Settings {
	if s.GracePeriod <= 0 {
		s.GracePeriod = 30 * time.Second
	}
	if s.ScreenshotDebounce <= 0 {
		s.ScreenshotDebounce = 3 * time.Second
	}
	if s.TypingTimeout <= 0 {
		s.TypingTimeout = 3 * time.Second
	}
	if s.OpTimeout <= 0 {
		s.OpTimeout = 5 * time.Second
	}
	if s.DefaultRoomTTL <= 0 {
		s.DefaultRoomTTL = 24 * time.Hour
	}
	if s.InboxSize <= 0 {
		s.InboxSize = 64
	}
	return s
}

type Deps struct {
	Policy    app.Policy
	Repo      core.RoomRepository
	Clock     core.Clock
	Directory Directory
}

// Result carries what an operation produced for the caller. Frames for
// connected members are delivered by the room itself.
type Result struct {
	// Ignored marks an accepted event that changed nothing.
	Ignored  bool
	Outcome  core.JoinOutcome
	Room     domain.Room
	Member   domain.Member
	Messages []domain.Message
	Message  *domain.Message
	File     *domain.FileAttrs
	Users    []domain.MemberDTO
}

// Coordinator is the arena of room actors.
type Coordinator struct {
	cfg     Settings
	policy  app.Policy
	clock   core.Clock
	dir     Directory
	persist *persister
	// loads collapses concurrent rehydrations of the same room.
	loads singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomActor
}

func New(cfg Settings, deps Deps) *Coordinator {
	if deps.Policy == nil {
		deps.Policy = app.SimplePolicy{}
	}
	if deps.Repo == nil {
		deps.Repo = core.NopRepository{}
	}
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	if deps.Directory == nil {
		deps.Directory = nopDirectory{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:     cfg.withDefaults(),
		policy:  deps.Policy,
		clock:   deps.Clock,
		dir:     deps.Directory,
		persist: newPersister(deps.Repo, 1024),
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[domain.RoomID]*roomActor),
	}
	go c.persist.run()
	return c
}

type CreateRoomRequest struct {
	Mode             domain.Mode
	CreatedBy        domain.UserID
	BurnAfterReading bool
	Password         string
	TTL              time.Duration
	HostPolicy       domain.HostPolicy
}

func (c *Coordinator) CreateRoom(ctx context.Context, req CreateRoomRequest) (domain.Room, error) {
	if req.CreatedBy == "" {
		return domain.Room{}, fmt.Errorf("%w: createdBy required", domain.ErrInvalidEvent)
	}
	mode, err := domain.ParseMode(string(req.Mode))
	if err != nil {
		return domain.Room{}, err
	}
	if mode == domain.ModeSecure && req.Password != "" {
		return domain.Room{}, fmt.Errorf("%w: passwords are only supported in normal rooms", domain.ErrInvalidEvent)
	}
	if req.TTL < 0 {
		return domain.Room{}, fmt.Errorf("%w: negative ttl", domain.ErrInvalidEvent)
	}
	policy := req.HostPolicy
	switch policy {
	case "":
		policy = domain.DefaultHostPolicy(mode)
	case domain.PreserveOnHostLeave, domain.DeleteOnHostLoss:
	default:
		return domain.Room{}, fmt.Errorf("%w: unknown host policy %q", domain.ErrInvalidEvent, policy)
	}

	now := c.clock.Now()
	room := domain.Room{
		ID:               domain.RoomID(uuid.NewString()),
		Mode:             mode,
		CreatedBy:        req.CreatedBy,
		CreatedAt:        now,
		BurnAfterReading: req.BurnAfterReading,
		HostPolicy:       policy,
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return domain.Room{}, fmt.Errorf("hash room password: %w", err)
		}
		room.PasswordHash = hash
	}
	if req.TTL > 0 {
		exp := now.Add(req.TTL)
		room.ExpiresAt = &exp
	}
	if err := ctx.Err(); err != nil {
		return domain.Room{}, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}

	a := newRoomActor(c, room)
	created := a.store.Append(domain.NewSystemMessage(room.ID, "room created", domain.FlagRoomCreation))

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return domain.Room{}, domain.ErrRoomClosed
	}
	c.rooms[room.ID] = a
	c.wg.Add(1)
	c.mu.Unlock()

	ttl := a.ttl()
	c.persist.saveRoom(room, ttl)
	c.persist.appendMessage(room.ID, created, ttl)
	a.start()

	log.Info().Str("module", "app.orch").Str("room", string(room.ID)).Str("mode", string(mode)).
		Str("host", string(req.CreatedBy)).Bool("burn", room.BurnAfterReading).Msg("room created")
	return room, nil
}

// Submit validates ev and runs it in its room's queue.
func (c *Coordinator) Submit(ctx context.Context, ev domain.Event) (Result, error) {
	if err := ev.Validate(); err != nil {
		return Result{}, err
	}
	a, err := c.actorFor(ctx, ev)
	if err != nil {
		return Result{}, err
	}
	if a == nil {
		log.Debug().Str("module", "app.orch").Str("room", string(ev.Room())).Msgf("%T for unknown room ignored", ev)
		return Result{Ignored: true}, nil
	}
	return a.call(ctx, ev)
}

func (c *Coordinator) Join(ctx context.Context, ev domain.JoinEvent) (Result, error) {
	return c.Submit(ctx, ev)
}

func (c *Coordinator) Leave(ctx context.Context, ev domain.LeaveEvent) (Result, error) {
	return c.Submit(ctx, ev)
}

func (c *Coordinator) Disconnect(ctx context.Context, ev domain.DisconnectEvent) (Result, error) {
	return c.Submit(ctx, ev)
}

func (c *Coordinator) Send(ctx context.Context, ev domain.SendEvent) (Result, error) {
	return c.Submit(ctx, ev)
}

func (c *Coordinator) Kick(ctx context.Context, ev domain.KickEvent) (Result, error) {
	return c.Submit(ctx, ev)
}

func (c *Coordinator) FileDownloaded(ctx context.Context, ev domain.DownloadEvent) (Result, error) {
	return c.Submit(ctx, ev)
}

func (c *Coordinator) Screenshot(ctx context.Context, ev domain.ScreenshotEvent) (Result, error) {
	return c.Submit(ctx, ev)
}

func (c *Coordinator) OpenFile(ctx context.Context, ev domain.OpenFileEvent) (Result, error) {
	return c.Submit(ctx, ev)
}

func (c *Coordinator) Typing(ctx context.Context, ev domain.TypingEvent) (Result, error) {
	return c.Submit(ctx, ev)
}

func (c *Coordinator) DeleteRoom(ctx context.Context, ev domain.DeleteRoomEvent) (Result, error) {
	return c.Submit(ctx, ev)
}

// Members returns the visible roster. Secure rooms never expose one.
func (c *Coordinator) Members(ctx context.Context, id domain.RoomID) ([]domain.MemberDTO, error) {
	a := c.lookup(id)
	if a == nil {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	res, err := a.call(ctx, rosterQuery{})
	return res.Users, err
}

// Member returns the ledger entry of user, including members parked in the
// host grace window.
func (c *Coordinator) Member(ctx context.Context, id domain.RoomID, user domain.UserID) (domain.Member, error) {
	a := c.lookup(id)
	if a == nil {
		return domain.Member{}, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	res, err := a.call(ctx, memberQuery{user: user})
	return res.Member, err
}

// Rooms lists live normal rooms. Secure rooms are reachable only by id and
// never show up here.
func (c *Coordinator) Rooms() []domain.RoomInfo {
	c.mu.RLock()
	out := make([]domain.RoomInfo, 0, len(c.rooms))
	for _, a := range c.rooms {
		if a.room.IsSecure() {
			continue
		}
		out = append(out, a.info())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LiveRooms counts every room with a running actor, secure ones included.
func (c *Coordinator) LiveRooms() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// Exists reports whether a room can be joined, including rooms that only
// survive in the repository.
func (c *Coordinator) Exists(ctx context.Context, id domain.RoomID) (domain.RoomInfo, bool) {
	if a := c.lookup(id); a != nil {
		return a.info(), true
	}
	room, _, err := c.persist.load(ctx, id)
	if err != nil || room.Expired(c.clock.Now()) {
		return domain.RoomInfo{}, false
	}
	return domain.RoomInfo{ID: room.ID, Mode: room.Mode, HasPassword: room.HasPassword(), ExpiresAt: room.ExpiresAt}, true
}

// Close stops every room actor and flushes pending writes. Rooms are left
// in the repository so a restart can rehydrate them.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
	return c.persist.stop()
}

func (c *Coordinator) lookup(id domain.RoomID) *roomActor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[id]
}

// actorFor finds the room of ev. Joins rehydrate rooms from the repository;
// departures for unknown rooms return a nil actor and no error.
func (c *Coordinator) actorFor(ctx context.Context, ev domain.Event) (*roomActor, error) {
	id := ev.Room()
	if a := c.lookup(id); a != nil {
		return a, nil
	}
	switch ev.(type) {
	case domain.LeaveEvent, domain.DisconnectEvent, domain.TypingEvent:
		return nil, nil
	case domain.JoinEvent:
		return c.rehydrate(ctx, id)
	}
	return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
}

type loaded struct {
	room *domain.Room
	msgs []domain.Message
}

func (c *Coordinator) rehydrate(ctx context.Context, id domain.RoomID) (*roomActor, error) {
	ch := c.loads.DoChan(string(id), func() (any, error) {
		// The load is shared, so no single caller's deadline may cut it short.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OpTimeout)
		defer cancel()
		room, msgs, err := c.persist.load(lctx, id)
		if err != nil {
			return nil, err
		}
		return loaded{room: room, msgs: msgs}, nil
	})
	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("load room %s: %w: %v", id, domain.ErrTimeout, ctx.Err())
	}
	v, err, shared := r.Val, r.Err, r.Shared
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load room %s: %w", id, err)
	}
	room, msgs := v.(loaded).room, v.(loaded).msgs
	if shared {
		log.Debug().Str("module", "app.orch").Str("room", string(id)).Msg("shared room load")
	}
	if room.Expired(c.clock.Now()) {
		c.persist.deleteRoom(id)
		return nil, fmt.Errorf("room %s: %w: %w", id, domain.ErrNotFound, domain.ErrExpired)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.rooms[id]; ok {
		return a, nil
	}
	if c.ctx.Err() != nil {
		return nil, domain.ErrRoomClosed
	}
	a := newRoomActor(c, *room)
	a.store.Restore(msgs)
	c.rooms[id] = a
	c.wg.Add(1)
	a.start()
	log.Info().Str("module", "app.orch").Str("room", string(id)).Int("messages", len(msgs)).Msg("room rehydrated")
	return a, nil
}

func (c *Coordinator) remove(a *roomActor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.rooms[a.room.ID]; ok && cur == a {
		delete(c.rooms, a.room.ID)
	}
}

func checkPassword(room *domain.Room, password string) error {
	if !room.HasPassword() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(room.PasswordHash, []byte(password)); err != nil {
		return fmt.Errorf("room %s: wrong password: %w", room.ID, domain.ErrUnauthorized)
	}
	return nil
}

type nopDirectory struct{}

func (nopDirectory) Conn(domain.ConnID) (core.SignalConnection, bool) { return nil, false }

func (nopDirectory) RemoveRoom(domain.ConnID, domain.RoomID) {}
