package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Pair/internal/core"
)

// Group is an active relay: exactly two media streams piped into each other.
// It is owned by Pairs and destroyed as a unit.
type Group struct {
	key   string
	a, b  core.MediaStream
	pairs *Pairs

	closeOnce sync.Once
}

// run starts both directions. Each runs independently so a stall on one
// direction does not block the other.
func (g *Group) run() {
	go g.pipe(g.a, g.b)
	go g.pipe(g.b, g.a)
}

// pipe copies payloads one way, verbatim and in order, until either side
// fails. Any failure tears down the whole group.
func (g *Group) pipe(src, dst core.MediaStream) {
	for {
		payload, err := src.ReadPayload()
		if err != nil {
			log.Debug().Str("module", "app.relay").Str("key", g.key).
				Str("conn", string(src.ID())).Err(err).Msg("relay read ended")
			g.teardown()
			return
		}
		if err := dst.WritePayload(payload); err != nil {
			log.Debug().Str("module", "app.relay").Str("key", g.key).
				Str("conn", string(dst.ID())).Err(err).Msg("relay write ended")
			g.teardown()
			return
		}
	}
}

// Close closes both member streams, ending the relay in both directions.
// Safe to call more than once and from both pipe goroutines.
func (g *Group) Close() {
	g.closeOnce.Do(func() {
		_ = g.a.Close()
		_ = g.b.Close()
		log.Info().Str("module", "app.relay").Str("key", g.key).Msg("relay group closed")
	})
}

func (g *Group) teardown() {
	g.Close()
	if g.pairs != nil {
		g.pairs.dropGroup(g.key, g)
	}
}
