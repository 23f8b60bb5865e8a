package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Pair/internal/core"
	"github.com/dkeye/Pair/internal/domain"
	"github.com/dkeye/Pair/internal/proto"
	"github.com/dkeye/Pair/internal/store"
)

// Orchestrator implements the meta-channel handlers. It mutates the user
// store and the presence registry, forwards notifications to peers, and
// registers expected pairings with the media plane. Transport-free: the
// signal adapter owns parsing, authorization and response writing.
type Orchestrator struct {
	Store    *store.Store
	Registry *Registry
	Pairs    *Pairs
}

// Identify binds the caller's username to its meta connection.
func (o *Orchestrator) Identify(conn core.SignalConnection, m *proto.Metadata) error {
	return o.Registry.Identify(m.User, conn)
}

// Login verifies the stored credential and marks the user logged in.
func (o *Orchestrator) Login(m *proto.Metadata) error {
	u, err := o.Store.GetUser(m.User)
	if err != nil {
		return err
	}
	if u.Password != m.Password {
		return fmt.Errorf("%w: %s", proto.ErrAuthFailed, m.User)
	}
	o.Registry.Login(m.User)
	return nil
}

// Logout always succeeds for a schema-valid request.
func (o *Orchestrator) Logout(m *proto.Metadata) error {
	o.Registry.Logout(m.User)
	return nil
}

// Register creates a fresh user record with an empty peer list.
func (o *Orchestrator) Register(m *proto.Metadata) error {
	u, err := domain.NewUser(m.User, m.Password)
	if err != nil {
		return err
	}
	return o.Store.CreateUser(u)
}

func (o *Orchestrator) AddPeers(m *proto.Metadata) error {
	return o.Store.AddPeers(m.User, m.Peers)
}

func (o *Orchestrator) DeletePeers(m *proto.Metadata) error {
	return o.Store.DeletePeers(m.User, m.Peers)
}

// Status persists the new status and forwards the request verbatim to every
// peer currently connected. Absent peers are skipped, not failed on.
func (o *Orchestrator) Status(raw core.Frame, m *proto.Metadata) error {
	if err := domain.ValidateStatus(m.Status); err != nil {
		return err
	}
	if err := o.Store.SetStatus(m.User, m.Status); err != nil {
		return err
	}
	u, err := o.Store.GetUser(m.User)
	if err != nil {
		return err
	}
	for _, peer := range u.Peers {
		if err := o.Registry.Forward(peer, raw); err != nil {
			if errors.Is(err, proto.ErrCannotForward) {
				continue
			}
			log.Warn().Str("module", "app.orch").Str("peer", peer).
				Err(err).Msg("status broadcast send failed")
		}
	}
	return nil
}

// Call forwards the request verbatim to the callee.
func (o *Orchestrator) Call(raw core.Frame, m *proto.Metadata) error {
	return o.Registry.Forward(m.Peer, raw)
}

// Accept registers the expected pairing, force-calls both parties and
// forwards the accept notification to the caller. If either party is gone
// the whole operation fails and no pairing stays registered.
func (o *Orchestrator) Accept(raw core.Frame, m *proto.Metadata) error {
	acceptor, ok := o.Registry.Lookup(m.User)
	if !ok {
		return fmt.Errorf("%w: %s", proto.ErrCannotForward, m.User)
	}
	caller, ok := o.Registry.Lookup(m.Peer)
	if !ok {
		return fmt.Errorf("%w: %s", proto.ErrCannotForward, m.Peer)
	}

	key := o.Pairs.Expect(m.User, m.Peer)
	if err := o.sendForceCall(acceptor, m.Peer, key); err == nil {
		err = o.sendForceCall(caller, m.User, key)
		if err == nil {
			err = caller.TrySend(raw)
		}
		if err == nil {
			return nil
		}
	}
	o.Pairs.Unpair(key)
	return fmt.Errorf("%w: accept %s/%s", proto.ErrCannotForward, m.User, m.Peer)
}

func (o *Orchestrator) sendForceCall(conn core.SignalConnection, peer, key string) error {
	payload, err := json.Marshal(proto.NewForceCall(peer, key))
	if err != nil {
		return err
	}
	return conn.TrySend(payload)
}

// Reject forwards the request verbatim to the caller.
func (o *Orchestrator) Reject(raw core.Frame, m *proto.Metadata) error {
	return o.Registry.Forward(m.Peer, raw)
}

// GetPeers resolves the caller's peer list, in stored order, to
// {peer, status} pairs. All-or-nothing: one failed lookup fails the call.
func (o *Orchestrator) GetPeers(m *proto.Metadata) ([]proto.PeerStatus, error) {
	u, err := o.Store.GetUser(m.User)
	if err != nil {
		return nil, err
	}
	peers := make([]proto.PeerStatus, 0, len(u.Peers))
	for _, name := range u.Peers {
		p, err := o.Store.GetUser(name)
		if err != nil {
			return nil, err
		}
		peers = append(peers, proto.PeerStatus{Peer: name, Status: p.Status})
	}
	return peers, nil
}

// Unpair tears down whatever pairing state exists for the caller and peer.
func (o *Orchestrator) Unpair(m *proto.Metadata) error {
	o.Pairs.Unpair(proto.PairingKey(m.User, m.Peer))
	return nil
}

// Disconnect cleans up after a meta connection closes: the presence binding
// goes, and so does every pairing expectation the user was a side of.
func (o *Orchestrator) Disconnect(name string, conn core.SignalConnection) {
	o.Registry.Remove(name, conn)
	if name != "" {
		o.Pairs.DropUser(name)
	}
}
