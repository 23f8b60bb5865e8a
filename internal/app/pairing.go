package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Pair/internal/core"
	"github.com/dkeye/Pair/internal/proto"
)

// expectation records the two usernames an accepted call is waiting for on
// the media channel.
type expectation struct {
	a, b string
}

// pending is the first media connection of a pair, parked until its
// complement arrives or the TTL reclaims it.
type pending struct {
	user, peer string
	stream     core.MediaStream
	timer      *time.Timer
}

// Pairs is the rendezvous table of the media plane. An accepted call
// registers an expectation; the two media connections that later identify
// with complementary {user, peer} payloads meet here and become a Group.
type Pairs struct {
	mu         sync.Mutex
	expected   map[string]expectation
	parked     map[string]*pending
	groups     map[string]*Group
	pendingTTL time.Duration
}

// NewPairs builds an empty table. pendingTTL bounds how long a lone media
// connection may wait for its complement; zero disables reclamation.
func NewPairs(pendingTTL time.Duration) *Pairs {
	return &Pairs{
		expected:   make(map[string]expectation),
		parked:     make(map[string]*pending),
		groups:     make(map[string]*Group),
		pendingTTL: pendingTTL,
	}
}

// Expect records that the media connections identifying as {a, b} and
// {b, a} belong together, and returns their pairing key.
func (p *Pairs) Expect(a, b string) string {
	key := proto.PairingKey(a, b)
	p.mu.Lock()
	p.expected[key] = expectation{a: a, b: b}
	p.mu.Unlock()
	log.Info().Str("module", "app.pairs").Str("key", key).Msg("expecting pairing")
	return key
}

// Join hands an identified media stream to the table. The first arrival of a
// pair is parked; the complementary arrival completes the group and starts
// the relay. Streams that match no expectation are closed: without one they
// could never pair and would otherwise linger forever.
func (p *Pairs) Join(stream core.MediaStream, ident proto.MediaIdent) {
	key := proto.PairingKey(ident.User, ident.Peer)

	p.mu.Lock()
	exp, ok := p.expected[key]
	if !ok || !exp.matches(ident) {
		p.mu.Unlock()
		log.Warn().Str("module", "app.pairs").Str("key", key).
			Str("conn", string(stream.ID())).Msg("no expected pairing, dropping stream")
		_ = stream.Close()
		return
	}

	half, parked := p.parked[key]
	if !parked {
		p.park(key, stream, ident)
		p.mu.Unlock()
		return
	}
	if half.user == ident.User {
		// Same side arrived twice; keep the fresh connection.
		log.Warn().Str("module", "app.pairs").Str("key", key).
			Str("user", ident.User).Msg("duplicate pending half, replacing")
		half.timer.Stop()
		_ = half.stream.Close()
		p.park(key, stream, ident)
		p.mu.Unlock()
		return
	}

	// Complement found: consume the expectation and the parked half.
	half.timer.Stop()
	delete(p.parked, key)
	delete(p.expected, key)
	g := &Group{key: key, a: half.stream, b: stream, pairs: p}
	displaced := p.groups[key]
	p.groups[key] = g
	p.mu.Unlock()

	if displaced != nil {
		// A re-accepted pair takes over the key; the old relay dies with it.
		displaced.Close()
	}
	log.Info().Str("module", "app.pairs").Str("key", key).Msg("pairing complete, relay started")
	g.run()
}

// park must run under p.mu.
func (p *Pairs) park(key string, stream core.MediaStream, ident proto.MediaIdent) {
	half := &pending{user: ident.User, peer: ident.Peer, stream: stream}
	half.timer = time.AfterFunc(p.ttl(), func() { p.reclaim(key, half) })
	p.parked[key] = half
	log.Info().Str("module", "app.pairs").Str("key", key).
		Str("user", ident.User).Msg("parked pending half")
}

func (p *Pairs) ttl() time.Duration {
	if p.pendingTTL <= 0 {
		return time.Duration(1<<63 - 1)
	}
	return p.pendingTTL
}

// reclaim closes a parked half whose complement never arrived.
func (p *Pairs) reclaim(key string, half *pending) {
	p.mu.Lock()
	if p.parked[key] != half {
		p.mu.Unlock()
		return
	}
	delete(p.parked, key)
	p.mu.Unlock()

	_ = half.stream.Close()
	log.Info().Str("module", "app.pairs").Str("key", key).Msg("reclaimed pending half")
}

// Unpair destroys whatever state exists under key: an active group, a parked
// half, or a bare expectation. Absence of any is not an error; unpairing is
// idempotent and safe to invoke concurrently with disconnect teardown.
func (p *Pairs) Unpair(key string) {
	p.mu.Lock()
	g := p.groups[key]
	delete(p.groups, key)
	half := p.parked[key]
	delete(p.parked, key)
	delete(p.expected, key)
	p.mu.Unlock()

	if g != nil {
		g.Close()
	}
	if half != nil {
		half.timer.Stop()
		_ = half.stream.Close()
	}
	log.Info().Str("module", "app.pairs").Str("key", key).Msg("unpaired")
}

// DropUser discards pairing state that can never complete once name's meta
// connection is gone: expectations naming the user and any half parked under
// them. Running relays are owned by their media connections and stay up.
func (p *Pairs) DropUser(name string) {
	p.mu.Lock()
	var halves []*pending
	var keys []string
	for key, exp := range p.expected {
		if exp.a != name && exp.b != name {
			continue
		}
		delete(p.expected, key)
		keys = append(keys, key)
		if half := p.parked[key]; half != nil {
			delete(p.parked, key)
			halves = append(halves, half)
		}
	}
	p.mu.Unlock()

	for _, half := range halves {
		half.timer.Stop()
		_ = half.stream.Close()
	}
	for _, key := range keys {
		log.Info().Str("module", "app.pairs").Str("key", key).
			Str("user", name).Msg("dropped expectation on disconnect")
	}
}

// dropGroup removes a group torn down by its own relay, unless the slot has
// already been reused.
func (p *Pairs) dropGroup(key string, g *Group) {
	p.mu.Lock()
	if p.groups[key] == g {
		delete(p.groups, key)
	}
	p.mu.Unlock()
}

func (e expectation) matches(ident proto.MediaIdent) bool {
	return (e.a == ident.User && e.b == ident.Peer) ||
		(e.b == ident.User && e.a == ident.Peer)
}
