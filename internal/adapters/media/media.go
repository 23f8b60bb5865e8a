// Package media serves the media channel: each connection identifies itself
// with one {user, peer} payload and is then relayed verbatim to its pair.
package media

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Pair/internal/app"
	"github.com/dkeye/Pair/internal/core"
	"github.com/dkeye/Pair/internal/proto"
)

const writeWait = 10 * time.Second

type MediaWSController struct {
	Pairs     *app.Pairs
	ReadLimit int64
	IdentWait time.Duration
}

func NewMediaWSController(pairs *app.Pairs, readLimit int64, identWait time.Duration) *MediaWSController {
	return &MediaWSController{Pairs: pairs, ReadLimit: readLimit, IdentWait: identWait}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleMedia upgrades the connection and blocks until its identification
// payload arrives. There is no response path on this channel: a bad or
// missing payload just closes the connection after local diagnostics.
func (ctl *MediaWSController) HandleMedia(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "media").Msg("ws upgrade")
		return
	}

	stream := &wsMediaStream{id: core.ConnID(uuid.NewString()), conn: ws}
	log.Info().Str("module", "media").Str("conn", string(stream.id)).Msg("new media connection")

	ws.SetReadLimit(ctl.ReadLimit)
	if ctl.IdentWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(ctl.IdentWait))
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Str("conn", string(stream.id)).
			Msg("media connection gone before identification")
		_ = ws.Close()
		return
	}

	var ident proto.MediaIdent
	if err := json.Unmarshal(data, &ident); err == nil {
		err = ident.Validate()
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Str("conn", string(stream.id)).
			Msg("invalid media identification payload")
		_ = ws.Close()
		return
	}

	_ = ws.SetReadDeadline(time.Time{})
	ctl.Pairs.Join(stream, ident)
}

// wsMediaStream adapts a websocket connection to the pairing manager's
// payload-stream interface. Reads and writes each happen from a single relay
// goroutine; Close may race with both, which gorilla permits.
type wsMediaStream struct {
	id   core.ConnID
	conn *websocket.Conn
}

func (s *wsMediaStream) ID() core.ConnID { return s.id }

func (s *wsMediaStream) ReadPayload() (core.Frame, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsMediaStream) WritePayload(f core.Frame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, f)
}

func (s *wsMediaStream) Close() error {
	return s.conn.Close()
}
