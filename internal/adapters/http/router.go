package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/Pair/internal/adapters/media"
	"github.com/dkeye/Pair/internal/adapters/signal"
	"github.com/dkeye/Pair/internal/app"
	"github.com/dkeye/Pair/internal/config"
)

// SetupRouter builds the transport boundary: /meta and /media are the only
// upgrade targets; anything else is rejected here and never reaches the core.
func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	limiter := NewIPRateLimiter(rate.Limit(cfg.ConnRate), cfg.ConnBurst)
	metaCtl := signal.NewMetaWSController(orch, cfg.ReadLimit, cfg.PingPeriod)
	mediaCtl := media.NewMediaWSController(orch.Pairs, cfg.ReadLimit, cfg.PendingTTL)

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/meta", RateLimit(limiter), func(c *gin.Context) {
		metaCtl.HandleMeta(ctx, c)
	})
	r.GET("/media", RateLimit(limiter), mediaCtl.HandleMedia)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
