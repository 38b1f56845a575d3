package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/domain"
)

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, err error) {
	code := domain.Code(err)
	if code == "internal" {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(conn.id)).Msg("request failed")
	}
	ctl.sendJSON(conn, struct {
		Type  string `json:"type"`
		Code  string `json:"code"`
		Error string `json:"error"`
	}{
		Type:  "error",
		Code:  code,
		Error: err.Error(),
	})
}

// roomFor resolves the room a request targets, defaulting to the room the
// connection currently sits in.
func (ctl *SignalWSController) roomFor(conn *WsSignalConn, requested string) domain.RoomID {
	if requested != "" {
		return domain.RoomID(requested)
	}
	room, _, _ := ctl.Registry.RoomOf(conn.id)
	return room
}
