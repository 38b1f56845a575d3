package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/domain"
)

// handleRename changes the display name used for future joins. Members
// already in a room keep the name they joined with.
func (ctl *SignalWSController) handleRename(
	uid domain.UserID,
	conn *WsSignalConn,
	data []byte,
) {
	type renamePayload struct {
		Username string `json:"username"`
	}
	var p renamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, domain.ErrInvalidEvent)
		return
	}
	if err := ctl.Registry.UpdateUsername(uid, p.Username); err != nil {
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"code":  "invalid_name",
			"error": err.Error(),
		})
		return
	}
	log.Info().Str("module", "signal").Str("user", string(uid)).Str("name", p.Username).Msg("rename")
	ctl.handleWhoAmI(uid, conn)
}

func (ctl *SignalWSController) handleWhoAmI(
	uid domain.UserID,
	conn *WsSignalConn,
) {
	user := ctl.Registry.GetOrCreateUser(uid)

	resp := struct {
		Type     string        `json:"type"`
		ID       domain.UserID `json:"id"`
		Username string        `json:"username"`
		Room     domain.RoomID `json:"roomId,omitempty"`
	}{
		Type:     "whoami",
		ID:       user.ID,
		Username: user.Username,
	}
	if room, _, ok := ctl.Registry.RoomOf(conn.id); ok {
		resp.Room = room
	}
	ctl.sendJSON(conn, resp)
}
