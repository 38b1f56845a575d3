package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/app/orch"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Coord    *orch.Coordinator
	Registry *app.Registry
	Limiter  *RoomRateLimiter
	opts     Options
}

func NewSignalWSController(coord *orch.Coordinator, reg *app.Registry, limiter *RoomRateLimiter, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &SignalWSController{Coord: coord, Registry: reg, Limiter: limiter, opts: opts}
}

// WsSignalConn implements core.SignalConnection over a websocket.
type WsSignalConn struct {
	id   domain.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) ID() domain.ConnID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("client_token"))
	if uid == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	ctl.Registry.GetOrCreateUser(uid)
	if name, ok := sessions.Default(c).Get("username").(string); ok && name != "" {
		if err := ctl.Registry.UpdateUsername(uid, name); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("user", string(uid)).Msg("ignoring session username")
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:   domain.ConnID(uuid.NewString()),
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	log.Info().Str("module", "signal").Str("user", string(uid)).Str("conn", string(conn.id)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.BindConn(uid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, uid, conn)
}

// dropConn unbinds conn and reports its loss to the room it sat in.
func (ctl *SignalWSController) dropConn(uid domain.UserID, conn *WsSignalConn) {
	room, _, inRoom := ctl.Registry.RoomOf(conn.id)
	ctl.Registry.Cancel(conn.id)
	ctl.Registry.Unbind(conn.id)
	conn.Close()
	if !inRoom {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := ctl.Coord.Disconnect(ctx, domain.DisconnectEvent{
		RoomID: room,
		UserID: uid,
		ConnID: conn.id,
		Reason: string(domain.ReasonNetwork),
	})
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("room", string(room)).Str("user", string(uid)).Msg("disconnect not applied")
	}
}
