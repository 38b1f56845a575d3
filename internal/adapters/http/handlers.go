package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/app/orch"
	"github.com/dkeye/Parley/internal/domain"
)

func userOf(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString("client_token"))
}

// statusOf maps domain errors onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRoomClosed), errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"code": domain.Code(err), "error": err.Error()})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"rooms":       s.Coord.LiveRooms(),
		"connections": s.Registry.ConnCount(),
	})
}

func (s *Server) whoAmI(c *gin.Context) {
	uid := userOf(c)
	user := s.Registry.GetOrCreateUser(uid)
	if name, ok := sessions.Default(c).Get("username").(string); ok && name != "" {
		user.Username = name
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) rename(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, domain.ErrInvalidEvent)
		return
	}
	uid := userOf(c)
	user, err := domain.NewUser(uid, req.Username)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "invalid_name", "error": err.Error()})
		return
	}
	session := sessions.Default(c)
	session.Set("username", user.Username)
	if err := session.Save(); err != nil {
		abortWith(c, err)
		return
	}
	_ = s.Registry.UpdateUsername(uid, user.Username)
	c.JSON(http.StatusOK, user)
}

func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.Coord.Rooms()})
}

func (s *Server) createRoom(c *gin.Context) {
	var req struct {
		Mode             string `json:"mode"`
		BurnAfterReading bool   `json:"burnAfterReading"`
		Password         string `json:"password"`
		TTLSeconds       int64  `json:"ttlSeconds"`
		HostPolicy       string `json:"hostPolicy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, domain.ErrInvalidEvent)
		return
	}
	room, err := s.Coord.CreateRoom(c.Request.Context(), orch.CreateRoomRequest{
		Mode:             domain.Mode(req.Mode),
		CreatedBy:        userOf(c),
		BurnAfterReading: req.BurnAfterReading,
		Password:         req.Password,
		TTL:              time.Duration(req.TTLSeconds) * time.Second,
		HostPolicy:       domain.HostPolicy(req.HostPolicy),
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":               room.ID,
		"mode":             room.Mode,
		"burnAfterReading": room.BurnAfterReading,
		"hasPassword":      room.HasPassword(),
		"expiresAt":        room.ExpiresAt,
	})
}

func (s *Server) roomExists(c *gin.Context) {
	info, ok := s.Coord.Exists(c.Request.Context(), domain.RoomID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": true, "room": info})
}

// openFile serves the file reference of an attachment; view-once files
// answer 409 on the second open by the same viewer.
func (s *Server) openFile(c *gin.Context) {
	res, err := s.Coord.OpenFile(c.Request.Context(), domain.OpenFileEvent{
		RoomID:    domain.RoomID(c.Param("id")),
		ViewerID:  userOf(c),
		MessageID: c.Param("messageId"),
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, res.File)
}

func (s *Server) deleteRoom(c *gin.Context) {
	_, err := s.Coord.DeleteRoom(c.Request.Context(), domain.DeleteRoomEvent{
		RoomID: domain.RoomID(c.Param("id")),
		UserID: userOf(c),
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
