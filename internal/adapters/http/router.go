package http

import (
	"context"

	"github.com/dkeye/Pairing/internal/adapters/signal"
	"github.com/dkeye/Pairing/internal/app/orch"
	"github.com/dkeye/Pairing/internal/config"
	"github.com/dkeye/Pairing/internal/metrics"
	"github.com/dkeye/Pairing/internal/store"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenCookie = "ct"

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientTokenCookie)
		if token == "" {
			token = genClientToken()
			c.SetCookie(clientTokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Orch    *orch.Orchestrator
	Store   store.CodeStore
	Metrics *metrics.Metrics
	Limiter *signal.JoinRateLimiter
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PairingSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	h := &handlers{cfg: cfg, orch: deps.Orch, store: deps.Store}

	r.GET("/healthz", h.health)
	if cfg.Metrics.Enabled && deps.Metrics != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.POST("/sessions", h.createSession)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:code", h.getSession)
	api.DELETE("/sessions/:code", h.evictSession)
	api.GET("/ice-servers", h.iceServers)

	ctrl := signal.NewSignalWSController(deps.Orch, deps.Limiter, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Bool("metrics", cfg.Metrics.Enabled).Msg("router setup")
	return r
}
