package app

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Pair/internal/core"
	"github.com/dkeye/Pair/internal/proto"
)

// Registry tracks which usernames have an identified meta connection and
// which of them are logged in. It is the only shared state on the meta plane;
// every mutation happens under one mutex so excess-identity detection is exact.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]core.SignalConnection
	loggedIn map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]core.SignalConnection),
		loggedIn: make(map[string]struct{}),
	}
}

// Identify binds name to conn. At most one live connection may hold a name;
// re-identification of the same connection with the same name is a no-op.
func (r *Registry) Identify(name string, conn core.SignalConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bound, ok := r.conns[name]; ok && bound != conn {
		return fmt.Errorf("%w: %s", proto.ErrExcessIdentity, name)
	}
	r.conns[name] = conn
	log.Info().Str("module", "app.registry").Str("user", name).Msg("identified")
	return nil
}

// Remove drops the binding for name, but only if it still points at conn.
// Safe to call more than once.
func (r *Registry) Remove(name string, conn core.SignalConnection) {
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if bound, ok := r.conns[name]; ok && bound == conn {
		delete(r.conns, name)
		log.Info().Str("module", "app.registry").Str("user", name).Msg("removed")
	}
}

func (r *Registry) Login(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loggedIn[name] = struct{}{}
	log.Info().Str("module", "app.registry").Str("user", name).Msg("logged in")
}

func (r *Registry) Logout(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loggedIn, name)
	log.Info().Str("module", "app.registry").Str("user", name).Msg("logged out")
}

func (r *Registry) LoggedIn(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loggedIn[name]
	return ok
}

func (r *Registry) Lookup(name string) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[name]
	return conn, ok
}

// Forward writes payload to the named user's meta connection, fire-and-forget.
// This primitive underlies status broadcast, call, accept and reject.
func (r *Registry) Forward(name string, payload core.Frame) error {
	conn, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", proto.ErrCannotForward, name)
	}
	if err := conn.TrySend(payload); err != nil {
		return fmt.Errorf("forward to %s: %w", name, err)
	}
	return nil
}
