package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/domain"
)

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	uid domain.UserID,
	conn *WsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		RoomID   string           `json:"roomId"`
		Username string           `json:"username,omitempty"`
		Password string           `json:"password,omitempty"`
		Cache    []domain.Message `json:"cache,omitempty"`
	}
	var p joinPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(uid) {
		log.Warn().Str("module", "signal").Str("user", string(uid)).Msg("join rate limited")
		ctl.sendError(conn, domain.ErrRateLimited)
		return
	}
	if p.Username != "" {
		if err := ctl.Registry.UpdateUsername(uid, p.Username); err != nil {
			ctl.sendError(conn, domain.ErrInvalidEvent)
			return
		}
		log.Info().Str("module", "signal").Str("user", string(uid)).Str("name", p.Username).Msg("rename on join")
	}
	user := ctl.Registry.GetOrCreateUser(uid)
	target := domain.RoomID(p.RoomID)

	// One connection sits in one room: leaving for another room counts as
	// a transport drop for the old one.
	if prev, _, ok := ctl.Registry.RoomOf(conn.id); ok && prev != target {
		_, err := ctl.Coord.Disconnect(ctx, domain.DisconnectEvent{
			RoomID: prev,
			UserID: uid,
			ConnID: conn.id,
			Reason: "switch_room",
		})
		if err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("room", string(prev)).Msg("switch room disconnect")
		}
		ctl.Registry.RemoveRoom(conn.id, prev)
	}

	log.Info().Str("module", "signal").Str("user", string(uid)).Str("room", p.RoomID).Msg("join")
	if _, err := ctl.Coord.Join(ctx, domain.JoinEvent{
		RoomID:   target,
		UserID:   uid,
		Username: user.Username,
		Password: p.Password,
		ConnID:   conn.id,
		Cache:    p.Cache,
	}); err != nil {
		ctl.sendError(conn, err)
		return
	}
	ctl.Registry.UpdateRoom(conn.id, target)
}

func (ctl *SignalWSController) handleLeave(
	ctx context.Context,
	uid domain.UserID,
	conn *WsSignalConn,
	data []byte,
) {
	type leavePayload struct {
		RoomID        string             `json:"roomId"`
		IsManualLeave bool               `json:"isManualLeave"`
		Reason        domain.LeaveReason `json:"reason"`
	}
	var p leavePayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if p.IsManualLeave && p.Reason == "" {
		p.Reason = domain.ReasonManual
	}
	room := ctl.roomFor(conn, p.RoomID)
	log.Info().Str("module", "signal").Str("user", string(uid)).Str("room", string(room)).
		Bool("manual", p.IsManualLeave).Str("reason", string(p.Reason)).Msg("leave")

	res, err := ctl.Coord.Leave(ctx, domain.LeaveEvent{
		RoomID: room,
		UserID: uid,
		Manual: p.IsManualLeave,
		Reason: p.Reason,
	})
	if err != nil {
		ctl.sendError(conn, err)
		return
	}
	if res.Ignored {
		return
	}
	ctl.Registry.RemoveRoom(conn.id, room)
	ctl.sendJSON(conn, map[string]any{
		"type":   "left",
		"roomId": room,
	})
}

func (ctl *SignalWSController) handleKick(
	ctx context.Context,
	uid domain.UserID,
	conn *WsSignalConn,
	data []byte,
) {
	type kickPayload struct {
		RoomID       string `json:"roomId"`
		TargetUserID string `json:"targetUserId"`
	}
	var p kickPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	_, err := ctl.Coord.Kick(ctx, domain.KickEvent{
		RoomID:   ctl.roomFor(conn, p.RoomID),
		HostID:   uid,
		TargetID: domain.UserID(p.TargetUserID),
	})
	if err != nil {
		ctl.sendError(conn, err)
	}
}

func (ctl *SignalWSController) handleDeleteRoom(
	ctx context.Context,
	uid domain.UserID,
	conn *WsSignalConn,
	data []byte,
) {
	type deletePayload struct {
		RoomID string `json:"roomId"`
	}
	var p deletePayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	_, err := ctl.Coord.DeleteRoom(ctx, domain.DeleteRoomEvent{
		RoomID: ctl.roomFor(conn, p.RoomID),
		UserID: uid,
	})
	if err != nil {
		ctl.sendError(conn, err)
	}
}
