package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/chat"
	"github.com/hangar-project/hangar/internal/config"
	"github.com/hangar-project/hangar/internal/events"
	"github.com/hangar-project/hangar/internal/game"
	"github.com/hangar-project/hangar/internal/health"
	intnet "github.com/hangar-project/hangar/internal/network"
	"github.com/hangar-project/hangar/internal/scheduler"
	"github.com/hangar-project/hangar/internal/telemetry"
)

// Version is reported by the public endpoints.
const Version = "1.0.0"

// requestTimeout bounds how long a handler waits for a tick to run its
// submission.
const requestTimeout = 5 * time.Second

// Deps are the components the API reads and drives. Health, Ticks,
// Metrics and Emitter are optional.
type Deps struct {
	Config  *config.Config
	Chat    *chat.Manager
	World   *game.World
	Conns   *intnet.ConnectionRegistry
	Health  *health.Manager
	Ticks   *scheduler.TickMonitor
	Metrics *telemetry.Metrics
	Emitter events.Emitter
}

// Server is the admin REST API.
type Server struct {
	deps    Deps
	started time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server and builds its routes.
func NewServer(deps Deps) *Server {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		deps:    deps,
		started: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured API port and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.deps.Config.Address(s.deps.Config.Network.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		if err := s.Stop(); err != nil {
			log.Warn().Err(err).Msg("API shutdown")
		}
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	sec := s.deps.Config.GetSecurity()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := sec.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(NewRateLimiter(sec.RateLimitRPS).Middleware())

	auth := NewAuthMiddleware(s.deps.Config)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	protected := router.Group("/api")
	protected.Use(auth.IPWhitelist(), auth.RequireAuth())

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/status", s.handleStatus)
		monitor.GET("/sessions", s.handleSessions)
		monitor.GET("/rooms", s.handleRooms)
		monitor.GET("/players", s.handlePlayers)
		monitor.GET("/ticks", s.handleTicks)
	}

	control := protected.Group("/control")
	{
		control.POST("/announce", s.handleAnnounce)
		control.POST("/kick", s.handleKick)
		control.DELETE("/rooms/:id", s.handleRemoveRoom)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.PUT("/security", s.handleSetSecurity)
	}

	if s.deps.Metrics != nil {
		router.GET("/metrics", auth.IPWhitelist(), gin.WrapH(s.deps.Metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "hangar admin API"})
	})

	return router
}

func (s *Server) emit(ctx context.Context, t events.EventType, payload any) {
	if s.deps.Emitter == nil {
		return
	}
	s.deps.Emitter.Emit(ctx, events.Event{Type: t, Source: "api", Payload: payload})
}
