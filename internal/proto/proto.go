// Package proto defines the meta-channel message schemas and the
// canonical pairing key shared by the signal and media planes.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request types. The set is closed: anything else fails schema validation.
const (
	TypeWhoami      = "whoami"
	TypeLogin       = "login"
	TypeLogout      = "logout"
	TypeRegister    = "reg-user"
	TypeAddPeers    = "add-peers"
	TypeDelPeers    = "del-peers"
	TypeStatus      = "status"
	TypeCall        = "call"
	TypeAccept      = "accept"
	TypeReject      = "reject"
	TypePeers       = "peers"
	TypePeersOnline = "peers-online"
	TypeUnpair      = "unpair"

	// Server-initiated.
	TypeRes       = "res"
	TypeForceCall = "force-call"
)

// Metadata is the envelope of every meta-channel request. Tx is kept raw so
// it round-trips verbatim whatever the client sent.
type Metadata struct {
	Type     string          `json:"type"`
	Tx       json.RawMessage `json:"tx,omitempty"`
	User     string          `json:"user,omitempty"`
	Peer     string          `json:"peer,omitempty"`
	Peers    []string        `json:"peers,omitempty"`
	Password string          `json:"password,omitempty"`
	Status   string          `json:"status,omitempty"`
}

// Validate checks the fields required for the declared type.
func (m *Metadata) Validate() error {
	if m.User == "" {
		return fmt.Errorf("%w: missing user", ErrSchemaInvalid)
	}
	if len(m.Tx) == 0 {
		return fmt.Errorf("%w: missing tx", ErrSchemaInvalid)
	}
	switch m.Type {
	case TypeWhoami, TypeLogout, TypePeers, TypePeersOnline:
		return nil
	case TypeLogin, TypeRegister:
		if m.Password == "" {
			return fmt.Errorf("%w: %s without password", ErrSchemaInvalid, m.Type)
		}
	case TypeAddPeers, TypeDelPeers:
		if len(m.Peers) == 0 {
			return fmt.Errorf("%w: %s without peers", ErrSchemaInvalid, m.Type)
		}
		for _, p := range m.Peers {
			if p == "" {
				return fmt.Errorf("%w: empty peer name", ErrSchemaInvalid)
			}
		}
	case TypeStatus:
		if m.Status == "" {
			return fmt.Errorf("%w: status without status", ErrSchemaInvalid)
		}
	case TypeCall, TypeAccept, TypeReject, TypeUnpair:
		if m.Peer == "" {
			return fmt.Errorf("%w: %s without peer", ErrSchemaInvalid, m.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrSchemaInvalid, m.Type)
	}
	return nil
}

// NeedsLogin reports whether the type requires the caller to be logged in.
func NeedsLogin(typ string) bool {
	switch typ {
	case TypeWhoami, TypeLogin, TypeRegister:
		return false
	}
	return true
}

// Response is the correlated reply to a request. For echoes the request type,
// Tx the request's correlation token.
type Response struct {
	Type string          `json:"type"`
	For  string          `json:"for"`
	OK   bool            `json:"ok"`
	Tx   json.RawMessage `json:"tx"`
}

func NewResponse(forType string, tx json.RawMessage, ok bool) Response {
	return Response{Type: TypeRes, For: forType, OK: ok, Tx: tx}
}

// PeerStatus is one element of a peers response, in stored peer-list order.
type PeerStatus struct {
	Peer   string `json:"peer"`
	Status string `json:"status"`
}

// PeersResponse is the success reply to peers / peers-online.
type PeersResponse struct {
	Response
	Peers []PeerStatus `json:"peers"`
}

// ForceCall instructs its recipient to open a media connection to Peer.
type ForceCall struct {
	Type       string `json:"type"`
	Peer       string `json:"peer"`
	PairingKey string `json:"pairingKey"`
}

func NewForceCall(peer, pairingKey string) ForceCall {
	return ForceCall{Type: TypeForceCall, Peer: peer, PairingKey: pairingKey}
}

// MediaIdent is the first payload of every media connection. It carries no tx;
// the media channel has no response path.
type MediaIdent struct {
	User string `json:"user"`
	Peer string `json:"peer"`
}

func (mi *MediaIdent) Validate() error {
	if mi.User == "" || mi.Peer == "" {
		return fmt.Errorf("%w: media ident needs user and peer", ErrSchemaInvalid)
	}
	return nil
}

// PairingKey derives the canonical identifier for the unordered pair {a, b}.
// Both media connections of an accepted call compute the same key.
func PairingKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return "#" + a + "-" + b
}
