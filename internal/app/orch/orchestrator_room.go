package orch

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

func (a *roomActor) join(ev domain.JoinEvent) (Result, error) {
	now := a.c.clock.Now()
	if a.room.Expired(now) {
		a.teardown(domain.OutRoomExpired, nil)
		return Result{}, fmt.Errorf("room %s: %w: %w", a.room.ID, domain.ErrNotFound, domain.ErrExpired)
	}

	isHost := a.room.IsHost(ev.UserID)
	prev, known := a.ledger.Get(ev.UserID)
	if !isHost && !known {
		if err := checkPassword(&a.room, ev.Password); err != nil {
			log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("user", string(ev.UserID)).Msg("join rejected")
			return Result{}, err
		}
	}

	outcome, m := a.ledger.Join(ev.UserID, ev.Username, isHost, ev.ConnID, now)
	if known && prev.ConnID != "" && prev.ConnID != ev.ConnID {
		a.c.dir.RemoveRoom(prev.ConnID, a.room.ID)
	}
	if outcome == core.Reconnected && isHost && a.grace.Cancel() {
		log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Msg("host reconnected within grace")
	}

	cache := make([]domain.Message, 0, len(ev.Cache))
	for _, msg := range ev.Cache {
		if msg.RoomID == "" || msg.RoomID == a.room.ID {
			cache = append(cache, msg)
		}
	}
	merged := core.Merge(cache, a.store.Snapshot())

	// Joins are silent in secure rooms; rebinding or reconnecting is silent
	// everywhere.
	if outcome == core.Joined && !a.room.IsSecure() {
		dto := m.DTO()
		notice := a.appendMessage(domain.Message{
			Kind:    domain.KindSystem,
			Content: fmt.Sprintf("%s joined the room", m.Username),
			Flags:   domain.FlagUserJoin,
		})
		a.broadcast(domain.Outbound{Type: domain.OutUserJoined, User: &dto}, m.UserID)
		a.announceRoster()
		merged = core.Merge(merged, []domain.Message{notice})
	}

	a.emit(m.ConnID, domain.Outbound{
		Type:     domain.OutRoomState,
		Mode:     a.room.Mode,
		IsHost:   isHost,
		Messages: merged,
		Users:    a.roster(),
	})

	log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("user", string(m.UserID)).
		Str("conn", string(m.ConnID)).Int("outcome", int(outcome)).Msg("member joined")
	return Result{Outcome: outcome, Room: a.room, Member: m, Messages: merged, Users: a.roster()}, nil
}

func (a *roomActor) leave(ev domain.LeaveEvent) (Result, error) {
	m, ok := a.ledger.Get(ev.UserID)
	if !ok {
		log.Debug().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("user", string(ev.UserID)).Msg("leave for absent member ignored")
		return Result{Ignored: true, Room: a.room}, nil
	}
	sig := app.SignalOf(ev.Manual, ev.Reason)
	d := a.c.policy.Classify(&a.room, sig, m.IsHost)
	if !d.Apply {
		log.Debug().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("user", string(ev.UserID)).
			Str("reason", string(ev.Reason)).Msg("automatic leave ignored")
		return Result{Ignored: true, Room: a.room, Member: m}, nil
	}
	return a.depart(m, sig, d, nil), nil
}

func (a *roomActor) disconnect(ev domain.DisconnectEvent) (Result, error) {
	m, ok := a.ledger.Get(ev.UserID)
	if ok && m.IsHost && m.State == domain.DisconnectedGrace {
		return a.regrace(m), nil
	}
	if !ok || m.State != domain.Active {
		return Result{Ignored: true, Room: a.room}, nil
	}
	if ev.ConnID != "" && ev.ConnID != m.ConnID {
		log.Debug().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("user", string(ev.UserID)).
			Str("conn", string(ev.ConnID)).Msg("stale disconnect ignored")
		return Result{Ignored: true, Room: a.room, Member: m}, nil
	}
	d := a.c.policy.Classify(&a.room, app.Disconnect, m.IsHost)
	if !d.Apply {
		return Result{Ignored: true, Room: a.room, Member: m}, nil
	}
	return a.depart(m, app.Disconnect, d, nil), nil
}

func (a *roomActor) kick(ev domain.KickEvent) (Result, error) {
	if !a.room.IsHost(ev.HostID) {
		return Result{}, fmt.Errorf("kick in room %s: %w", a.room.ID, domain.ErrUnauthorized)
	}
	target, ok := a.ledger.Get(ev.TargetID)
	if !ok {
		log.Debug().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("target", string(ev.TargetID)).Msg("kick for absent member ignored")
		return Result{Ignored: true, Room: a.room}, nil
	}
	by := domain.MemberDTO{ID: ev.HostID, IsHost: true}
	if host, ok := a.ledger.Get(ev.HostID); ok {
		by = host.DTO()
	}
	d := a.c.policy.Classify(&a.room, app.Kick, target.IsHost)
	return a.depart(target, app.Kick, d, &by), nil
}

// depart applies a classified departure: ledger change, burn, notice,
// teardown, in that order.
func (a *roomActor) depart(m domain.Member, sig app.Signal, d app.Decision, by *domain.MemberDTO) Result {
	now := a.c.clock.Now()
	if d.GraceStart {
		parked, err := a.ledger.BeginGrace(m.UserID, now)
		if err != nil {
			log.Debug().Err(err).Str("module", "app.orch").Str("room", string(a.room.ID)).Msg("grace not started")
			return Result{Ignored: true, Room: a.room, Member: m}
		}
		a.clearTyping(m.UserID)
		a.armGrace()
		log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("host", string(m.UserID)).
			Dur("grace", a.grace.Duration()).Msg("host disconnected, grace started")
		return Result{Room: a.room, Member: parked}
	}

	conn := m.ConnID
	left, err := a.ledger.MarkLeft(m.UserID, now)
	if err != nil {
		log.Debug().Err(err).Str("module", "app.orch").Str("room", string(a.room.ID)).Msg("departure ignored")
		return Result{Ignored: true, Room: a.room}
	}
	a.clearTyping(m.UserID)
	if m.IsHost {
		a.grace.Cancel()
	}
	if conn != "" {
		a.c.dir.RemoveRoom(conn, a.room.ID)
	}

	if a.gate.ShouldBurn(&a.room, sig) {
		ids := a.gate.Burn(a.store)
		a.gate.Forget(ids...)
		for _, id := range ids {
			a.broadcast(domain.Outbound{Type: domain.OutMessageDeleted, MessageID: id}, "")
		}
		a.emit(conn, domain.Outbound{Type: domain.OutRoomCachePurge})
		a.c.persist.replaceLog(a.room.ID, nil, a.ttl())
		log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Int("burned", len(ids)).Msg("burn after reading")
	}

	if d.Notify {
		dto := left.DTO()
		notice := a.appendMessage(domain.Message{
			Kind:    domain.KindSystem,
			Content: departureText(left, d.Flag, by),
			Flags:   d.Flag,
		})
		if sig == app.Kick {
			kicked := domain.Outbound{Type: domain.OutUserKicked, User: &dto, By: by, Message: &notice}
			a.broadcast(kicked, "")
			a.emit(conn, kicked)
		} else {
			a.broadcast(domain.Outbound{Type: domain.OutUserLeft, User: &dto}, "")
		}
		a.announceRoster()
	}

	log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("user", string(m.UserID)).
		Str("signal", sig.String()).Bool("notify", d.Notify).Msg("member left")

	if d.Teardown {
		notice := domain.NewSystemMessage(a.room.ID, "the host closed the room", domain.FlagRoomDeleted)
		a.teardown(domain.OutRoomDeletedByHost, &notice)
	}
	return Result{Room: a.room, Member: left}
}

func (a *roomActor) armGrace() {
	a.grace.Arm(func(gen uint64) { a.post(graceExpired{gen: gen}) })
}

// regrace handles a host disconnect that arrives while the host is already
// parked: the window restarts from now and the old timer is dropped.
func (a *roomActor) regrace(m domain.Member) Result {
	d := a.c.policy.Classify(&a.room, app.Disconnect, true)
	if !d.GraceStart {
		return Result{Ignored: true, Room: a.room, Member: m}
	}
	a.armGrace()
	log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("host", string(m.UserID)).
		Dur("grace", a.grace.Duration()).Msg("host disconnected again, grace restarted")
	return Result{Room: a.room, Member: m}
}

func (a *roomActor) graceExpired(ev graceExpired) (Result, error) {
	if !a.grace.Expired(ev.gen) {
		log.Debug().Str("module", "app.orch").Str("room", string(a.room.ID)).Uint64("gen", ev.gen).Msg("stale grace expiry ignored")
		return Result{Ignored: true}, nil
	}
	host, ok := a.ledger.Get(a.room.CreatedBy)
	if !ok || host.State != domain.DisconnectedGrace {
		return Result{Ignored: true}, nil
	}
	d := a.c.policy.Classify(&a.room, app.HostGraceTimeout, true)
	if d.Teardown {
		notice := domain.NewSystemMessage(a.room.ID, "the host did not come back, room deleted", d.Flag)
		a.teardown(domain.OutRoomDeletedByHost, &notice)
		return Result{Room: a.room}, nil
	}
	left, _ := a.ledger.MarkLeft(host.UserID, a.c.clock.Now())
	if d.Notify {
		dto := left.DTO()
		a.appendMessage(domain.Message{
			Kind:    domain.KindSystem,
			Content: departureText(left, d.Flag, nil),
			Flags:   d.Flag,
		})
		a.broadcast(domain.Outbound{Type: domain.OutUserLeft, User: &dto}, "")
		a.announceRoster()
	}
	log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Msg("host grace expired, room kept")
	return Result{Room: a.room, Member: left}, nil
}

func (a *roomActor) deleteRoom(ev domain.DeleteRoomEvent) (Result, error) {
	if !a.room.IsHost(ev.UserID) {
		return Result{}, fmt.Errorf("delete room %s: %w", a.room.ID, domain.ErrUnauthorized)
	}
	notice := domain.NewSystemMessage(a.room.ID, "the host deleted the room", domain.FlagRoomDeleted)
	a.teardown(domain.OutRoomDeletedByHost, &notice)
	return Result{Room: a.room}, nil
}

func (a *roomActor) expired() (Result, error) {
	a.teardown(domain.OutRoomExpired, nil)
	return Result{Room: a.room}, nil
}

func departureText(m domain.Member, flag domain.Flags, by *domain.MemberDTO) string {
	switch {
	case flag.Has(domain.FlagUserKick) && by != nil && by.Username != "":
		return fmt.Sprintf("%s was removed by %s", m.Username, by.Username)
	case flag.Has(domain.FlagUserKick):
		return fmt.Sprintf("%s was removed by the host", m.Username)
	case flag.Has(domain.FlagHostLeave):
		return fmt.Sprintf("%s (host) left the room", m.Username)
	}
	return fmt.Sprintf("%s left the room", m.Username)
}
