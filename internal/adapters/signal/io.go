package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Pair/internal/core"
	"github.com/dkeye/Pair/internal/proto"
)

func (ctl *MetaWSController) writePump(ctx context.Context, c *WsMetaConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles messages one at a time, in the order received.
func (ctl *MetaWSController) readPump(ctx context.Context, c *WsMetaConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).
			Str("user", c.identity).Msg("readPump closing")
		ctl.Orch.Disconnect(c.identity, c)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.ReadLimit)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.handleMetadata(c, data)
		}
	}
}

// handleMetadata is the protocol dispatcher: parse, authorize, validate,
// route. Every failure past parsing answers ok:false under the request's tx;
// a parse failure loses the tx and is only logged.
func (ctl *MetaWSController) handleMetadata(c *WsMetaConn, data []byte) {
	var m proto.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).
			Msg("dropping unparseable metadata")
		return
	}

	if m.Type != proto.TypeWhoami {
		if c.identity == "" {
			ctl.refuse(c, &m, proto.ErrUnauthenticated)
			return
		}
		if m.User != c.identity {
			ctl.refuse(c, &m, proto.ErrIdentityMismatch)
			return
		}
	}
	if proto.NeedsLogin(m.Type) && !ctl.Orch.Registry.LoggedIn(m.User) {
		ctl.refuse(c, &m, proto.ErrNotLoggedIn)
		return
	}
	if err := m.Validate(); err != nil {
		ctl.refuse(c, &m, err)
		return
	}

	switch m.Type {
	case proto.TypeWhoami:
		// Identity is assigned at most once per connection.
		if c.identity != "" && c.identity != m.User {
			ctl.refuse(c, &m, proto.ErrIdentityMismatch)
			return
		}
		err := ctl.Orch.Identify(c, &m)
		if err == nil {
			c.identity = m.User
		}
		ctl.respond(c, &m, err)
	case proto.TypeLogin:
		ctl.respond(c, &m, ctl.Orch.Login(&m))
	case proto.TypeLogout:
		ctl.respond(c, &m, ctl.Orch.Logout(&m))
	case proto.TypeRegister:
		ctl.respond(c, &m, ctl.Orch.Register(&m))
	case proto.TypeAddPeers:
		ctl.respond(c, &m, ctl.Orch.AddPeers(&m))
	case proto.TypeDelPeers:
		ctl.respond(c, &m, ctl.Orch.DeletePeers(&m))
	case proto.TypeStatus:
		ctl.respond(c, &m, ctl.Orch.Status(data, &m))
	case proto.TypeCall:
		ctl.respond(c, &m, ctl.Orch.Call(data, &m))
	case proto.TypeAccept:
		ctl.respond(c, &m, ctl.Orch.Accept(data, &m))
	case proto.TypeReject:
		ctl.respond(c, &m, ctl.Orch.Reject(data, &m))
	case proto.TypePeers, proto.TypePeersOnline:
		peers, err := ctl.Orch.GetPeers(&m)
		if err != nil {
			ctl.refuse(c, &m, err)
			return
		}
		ctl.sendJSON(c, proto.PeersResponse{
			Response: proto.NewResponse(m.Type, m.Tx, true),
			Peers:    peers,
		})
	case proto.TypeUnpair:
		ctl.respond(c, &m, ctl.Orch.Unpair(&m))
	}
}

func (ctl *MetaWSController) respond(c *WsMetaConn, m *proto.Metadata, err error) {
	if err != nil {
		ctl.refuse(c, m, err)
		return
	}
	ctl.sendJSON(c, proto.NewResponse(m.Type, m.Tx, true))
}

// refuse answers ok:false and logs the reason locally. The remote peer only
// ever sees the boolean flag.
func (ctl *MetaWSController) refuse(c *WsMetaConn, m *proto.Metadata, err error) {
	log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).
		Str("type", m.Type).Str("user", m.User).Msg("refusing metadata")
	ctl.sendJSON(c, proto.NewResponse(m.Type, m.Tx, false))
}

func (ctl *MetaWSController) sendJSON(c *WsMetaConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(core.Frame(b))
}
