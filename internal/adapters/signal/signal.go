// Package signal serves the meta channel: one websocket per signaling
// session, carrying structured call-control and presence messages.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Pair/internal/app"
	"github.com/dkeye/Pair/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

const writeWait = 5 * time.Second

type MetaWSController struct {
	Orch       *app.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewMetaWSController(orch *app.Orchestrator, readLimit int64, pingPeriod time.Duration) *MetaWSController {
	return &MetaWSController{Orch: orch, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

// WsMetaConn is one meta connection. identity is assigned at most once, by a
// successful whoami, and only ever touched from the readPump goroutine.
type WsMetaConn struct {
	id       core.ConnID
	conn     *websocket.Conn
	send     chan core.Frame
	identity string

	mu     sync.RWMutex
	closed bool
}

func (c *WsMetaConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsMetaConn) Close() {
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

func (ctl *MetaWSController) HandleMeta(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsMetaConn{
		id:   core.ConnID(uuid.NewString()),
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Msg("new meta connection")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ctl.writePump(ctx, conn)
		cancel()
	}()
	go func() {
		ctl.readPump(ctx, conn)
		cancel()
	}()
}
