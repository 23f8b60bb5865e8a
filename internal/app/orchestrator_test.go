package app

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkeye/Pair/internal/core"
	"github.com/dkeye/Pair/internal/domain"
	"github.com/dkeye/Pair/internal/proto"
	"github.com/dkeye/Pair/internal/store"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	users, err := store.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { users.Close() })
	return &Orchestrator{
		Store:    users,
		Registry: NewRegistry(),
		Pairs:    NewPairs(0),
	}
}

func seedUser(t *testing.T, o *Orchestrator, name, password string, peers ...string) {
	t.Helper()
	u, err := domain.NewUser(name, password)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Store.CreateUser(u); err != nil {
		t.Fatal(err)
	}
	if len(peers) > 0 {
		if err := o.Store.AddPeers(name, peers); err != nil {
			t.Fatal(err)
		}
	}
}

func connect(t *testing.T, o *Orchestrator, name string) *fakeSignalConn {
	t.Helper()
	conn := &fakeSignalConn{}
	if err := o.Registry.Identify(name, conn); err != nil {
		t.Fatal(err)
	}
	return conn
}

func decodeFrame(t *testing.T, f core.Frame) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(f, &m); err != nil {
		t.Fatalf("bad frame %s: %v", f, err)
	}
	return m
}

func TestLogin(t *testing.T) {
	o := newTestOrchestrator(t)
	seedUser(t, o, "chiefbiiko", "abc")

	m := &proto.Metadata{Type: proto.TypeLogin, User: "chiefbiiko", Password: "abc"}
	if err := o.Login(m); err != nil {
		t.Fatal(err)
	}
	if !o.Registry.LoggedIn("chiefbiiko") {
		t.Fatal("expected logged in")
	}
}

func TestLoginBadCredential(t *testing.T) {
	o := newTestOrchestrator(t)
	seedUser(t, o, "chiefbiiko", "abc")

	m := &proto.Metadata{Type: proto.TypeLogin, User: "chiefbiiko", Password: "wrong"}
	if err := o.Login(m); !errors.Is(err, proto.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if o.Registry.LoggedIn("chiefbiiko") {
		t.Fatal("must not be logged in after bad credential")
	}
}

func TestLoginUnknownUser(t *testing.T) {
	o := newTestOrchestrator(t)
	m := &proto.Metadata{Type: proto.TypeLogin, User: "poop", Password: "abc"}
	if err := o.Login(m); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	o := newTestOrchestrator(t)
	m := &proto.Metadata{Type: proto.TypeRegister, User: "chiefbiiko", Password: "abc"}
	if err := o.Register(m); err != nil {
		t.Fatal(err)
	}
	if err := o.Register(m); !errors.Is(err, store.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestCallForwardsVerbatim(t *testing.T) {
	o := newTestOrchestrator(t)
	callee := connect(t, o, "noop")

	raw := core.Frame(`{"type":"call","user":"chiefbiiko","peer":"noop","tx":0.7}`)
	m := &proto.Metadata{Type: proto.TypeCall, User: "chiefbiiko", Peer: "noop"}
	if err := o.Call(raw, m); err != nil {
		t.Fatal(err)
	}
	got := callee.sent()
	if len(got) != 1 || string(got[0]) != string(raw) {
		t.Fatalf("callee frames = %v", got)
	}
}

func TestCallOfflinePeer(t *testing.T) {
	o := newTestOrchestrator(t)
	bystander := connect(t, o, "og")

	m := &proto.Metadata{Type: proto.TypeCall, User: "chiefbiiko", Peer: "poop"}
	err := o.Call(core.Frame(`{}`), m)
	if !errors.Is(err, proto.ErrCannotForward) {
		t.Fatalf("expected ErrCannotForward, got %v", err)
	}
	if len(bystander.sent()) != 0 {
		t.Fatal("no message may reach an unrelated connection")
	}
}

func TestAcceptForceCallsBothParties(t *testing.T) {
	o := newTestOrchestrator(t)
	acceptor := connect(t, o, "chiefbiiko")
	caller := connect(t, o, "noop")

	raw := core.Frame(`{"type":"accept","user":"chiefbiiko","peer":"noop","tx":1}`)
	m := &proto.Metadata{Type: proto.TypeAccept, User: "chiefbiiko", Peer: "noop"}
	if err := o.Accept(raw, m); err != nil {
		t.Fatal(err)
	}

	wantKey := proto.PairingKey("chiefbiiko", "noop")

	af := acceptor.sent()
	if len(af) != 1 {
		t.Fatalf("acceptor got %d frames, want 1", len(af))
	}
	fc := decodeFrame(t, af[0])
	if fc["type"] != proto.TypeForceCall || fc["peer"] != "noop" || fc["pairingKey"] != wantKey {
		t.Fatalf("bad force-call to acceptor: %v", fc)
	}

	cf := caller.sent()
	if len(cf) != 2 {
		t.Fatalf("caller got %d frames, want force-call plus accept", len(cf))
	}
	fc = decodeFrame(t, cf[0])
	if fc["type"] != proto.TypeForceCall || fc["peer"] != "chiefbiiko" || fc["pairingKey"] != wantKey {
		t.Fatalf("bad force-call to caller: %v", fc)
	}
	if string(cf[1]) != string(raw) {
		t.Fatalf("accept notification not verbatim: %s", cf[1])
	}
}

func TestAcceptOfflineCallerRegistersNoPairing(t *testing.T) {
	o := newTestOrchestrator(t)
	connect(t, o, "chiefbiiko")

	m := &proto.Metadata{Type: proto.TypeAccept, User: "chiefbiiko", Peer: "poop"}
	if err := o.Accept(core.Frame(`{}`), m); !errors.Is(err, proto.ErrCannotForward) {
		t.Fatalf("expected ErrCannotForward, got %v", err)
	}

	// No expectation may survive the failed accept.
	s := newFakeMediaStream("s")
	o.Pairs.Join(s, proto.MediaIdent{User: "chiefbiiko", Peer: "poop"})
	if !s.isClosed() {
		t.Fatal("pairing was registered despite failed accept")
	}
}

func TestAcceptSendFailureUnwindsPairing(t *testing.T) {
	o := newTestOrchestrator(t)
	connect(t, o, "chiefbiiko")
	caller := connect(t, o, "noop")
	caller.fail = true

	m := &proto.Metadata{Type: proto.TypeAccept, User: "chiefbiiko", Peer: "noop"}
	if err := o.Accept(core.Frame(`{}`), m); err == nil {
		t.Fatal("expected accept to fail")
	}

	s := newFakeMediaStream("s")
	o.Pairs.Join(s, proto.MediaIdent{User: "chiefbiiko", Peer: "noop"})
	if !s.isClosed() {
		t.Fatal("pairing survived failed accept")
	}
}

func TestRejectForwardsToCaller(t *testing.T) {
	o := newTestOrchestrator(t)
	caller := connect(t, o, "noop")

	raw := core.Frame(`{"type":"reject","user":"chiefbiiko","peer":"noop","tx":2}`)
	m := &proto.Metadata{Type: proto.TypeReject, User: "chiefbiiko", Peer: "noop"}
	if err := o.Reject(raw, m); err != nil {
		t.Fatal(err)
	}
	got := caller.sent()
	if len(got) != 1 || string(got[0]) != string(raw) {
		t.Fatalf("caller frames = %v", got)
	}
}

func TestStatusBroadcastSkipsOfflinePeers(t *testing.T) {
	o := newTestOrchestrator(t)
	seedUser(t, o, "chiefbiiko", "abc", "noop", "og")
	seedUser(t, o, "noop", "x")
	seedUser(t, o, "og", "x")
	online := connect(t, o, "noop") // og stays offline

	raw := core.Frame(`{"type":"status","user":"chiefbiiko","status":"busy","tx":3}`)
	m := &proto.Metadata{Type: proto.TypeStatus, User: "chiefbiiko", Status: "busy"}
	if err := o.Status(raw, m); err != nil {
		t.Fatal(err)
	}

	got := online.sent()
	if len(got) != 1 || string(got[0]) != string(raw) {
		t.Fatalf("online peer frames = %v", got)
	}
	u, err := o.Store.GetUser("chiefbiiko")
	if err != nil {
		t.Fatal(err)
	}
	if u.Status != "busy" {
		t.Fatalf("status not persisted: %q", u.Status)
	}
}

func TestGetPeersOrderedWithStatus(t *testing.T) {
	o := newTestOrchestrator(t)
	seedUser(t, o, "chiefbiiko", "abc", "noop", "og")
	seedUser(t, o, "noop", "x")
	seedUser(t, o, "og", "x")
	if err := o.Store.SetStatus("noop", "online"); err != nil {
		t.Fatal(err)
	}
	if err := o.Store.SetStatus("og", "busy"); err != nil {
		t.Fatal(err)
	}

	peers, err := o.GetPeers(&proto.Metadata{Type: proto.TypePeers, User: "chiefbiiko"})
	if err != nil {
		t.Fatal(err)
	}
	want := []proto.PeerStatus{{Peer: "noop", Status: "online"}, {Peer: "og", Status: "busy"}}
	if len(peers) != len(want) {
		t.Fatalf("peers = %v, want %v", peers, want)
	}
	for i := range want {
		if peers[i] != want[i] {
			t.Fatalf("peers[%d] = %v, want %v", i, peers[i], want[i])
		}
	}
}

func TestGetPeersAllOrNothing(t *testing.T) {
	o := newTestOrchestrator(t)
	seedUser(t, o, "chiefbiiko", "abc", "noop", "og")
	seedUser(t, o, "noop", "x") // og has no record

	peers, err := o.GetPeers(&proto.Metadata{Type: proto.TypePeers, User: "chiefbiiko"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if peers != nil {
		t.Fatalf("no partial list may be returned, got %v", peers)
	}
}

func TestStatusTooLongRejected(t *testing.T) {
	o := newTestOrchestrator(t)
	seedUser(t, o, "chiefbiiko", "abc", "noop")
	peer := connect(t, o, "noop")

	long := make([]byte, domain.MaxStatusLen+1)
	for i := range long {
		long[i] = 'x'
	}
	m := &proto.Metadata{Type: proto.TypeStatus, User: "chiefbiiko", Status: string(long)}
	if err := o.Status(core.Frame(`{}`), m); !errors.Is(err, domain.ErrStatusTooLong) {
		t.Fatalf("expected ErrStatusTooLong, got %v", err)
	}

	// Nothing persisted, nothing broadcast.
	u, err := o.Store.GetUser("chiefbiiko")
	if err != nil {
		t.Fatal(err)
	}
	if u.Status != domain.DefaultStatus {
		t.Fatalf("status persisted despite rejection: %q", u.Status)
	}
	if got := peer.sent(); len(got) != 0 {
		t.Fatalf("peer frames = %v, want none", got)
	}
}

func TestDisconnectDiscardsExpectation(t *testing.T) {
	o := newTestOrchestrator(t)
	seedUser(t, o, "chiefbiiko", "abc")
	seedUser(t, o, "noop", "x")
	acceptor := connect(t, o, "chiefbiiko")
	caller := connect(t, o, "noop")

	raw := core.Frame(`{"type":"accept","user":"chiefbiiko","peer":"noop","tx":1}`)
	m := &proto.Metadata{Type: proto.TypeAccept, User: "chiefbiiko", Peer: "noop"}
	if err := o.Accept(raw, m); err != nil {
		t.Fatal(err)
	}

	// Both parties drop off the meta channel before either media connection
	// shows up. The accepted pairing must die with them.
	o.Disconnect("chiefbiiko", acceptor)
	o.Disconnect("noop", caller)

	a := newFakeMediaStream("a")
	b := newFakeMediaStream("b")
	o.Pairs.Join(a, proto.MediaIdent{User: "chiefbiiko", Peer: "noop"})
	o.Pairs.Join(b, proto.MediaIdent{User: "noop", Peer: "chiefbiiko"})
	if !a.isClosed() || !b.isClosed() {
		t.Fatal("abandoned pairing must not admit media connections")
	}
}

func TestUnpairStopsRelay(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Pairs.Expect("chiefbiiko", "noop")

	a := newFakeMediaStream("a")
	b := newFakeMediaStream("b")
	o.Pairs.Join(a, proto.MediaIdent{User: "chiefbiiko", Peer: "noop"})
	o.Pairs.Join(b, proto.MediaIdent{User: "noop", Peer: "chiefbiiko"})

	m := &proto.Metadata{Type: proto.TypeUnpair, User: "chiefbiiko", Peer: "noop"}
	if err := o.Unpair(m); err != nil {
		t.Fatal(err)
	}
	waitClosed(t, a)
	waitClosed(t, b)
}
