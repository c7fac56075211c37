package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sourcewatch-project/sourcewatch/internal/config"
	"github.com/sourcewatch-project/sourcewatch/internal/events"
	"github.com/sourcewatch-project/sourcewatch/internal/netutil"
	"github.com/sourcewatch-project/sourcewatch/internal/store"
)

// Server is the REST API server for SourceWatch. It exposes the registry
// and snapshot history kept by the tracker, plus live query endpoints
// that hit game servers directly.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	store    *store.Store

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, st *store.Store) *Server {
	// Set Gin mode based on log level
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		store:    st,
	}
}

// Start initializes and starts the API server.
func (s *Server) Start(ctx context.Context) error {
	// Build router
	s.router = s.buildRouter()

	// Create HTTP server
	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := netutil.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	// Rate limiting
	rateLimiter := NewRateLimiter(s.cfg.API.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/system", s.handleSystemInfo)

		api.GET("/servers", s.handleListServers)
		api.GET("/servers/:address/info", s.handleServerInfo)
		api.GET("/servers/:address/players", s.handleServerPlayers)
		api.GET("/servers/:address/rules", s.handleServerRules)
		api.GET("/servers/:address/history", s.handleServerHistory)

		api.GET("/master/browse", s.handleMasterBrowse)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
