// Package gateway is the HTTP surface of the push gateway: it composes
// authentication, idempotency, admission control, the circuit breaker and
// the bounded dispatcher into the /push pipeline and exposes the ops
// endpoints around it.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ticklet-push-gateway/config"
	"ticklet-push-gateway/internal/admission"
	"ticklet-push-gateway/internal/auth"
	"ticklet-push-gateway/internal/circuit"
	"ticklet-push-gateway/internal/dispatch"
	"ticklet-push-gateway/internal/events"
	"ticklet-push-gateway/internal/idempotency"
)

// Dispatcher is what the pipeline needs from the dispatch layer; tests
// substitute a counting fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, chatID, text, imageURL string) (string, dispatch.Kind, error)
}

// Server represents the gateway HTTP server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig

	verifier   *auth.Verifier
	store      idempotency.Store
	bucket     *admission.TokenBucket
	breaker    *circuit.Breaker
	dispatcher Dispatcher
	bus        *events.EventBus
	hub        *WSHub
	channels   map[string]string // channel name -> chat id
	ready      func() bool
	log        zerolog.Logger

	flight singleflight.Group
}

// Deps carries the shared singletons the server composes. They are
// constructed once in main and injected, never ambient globals.
type Deps struct {
	Verifier   *auth.Verifier
	Store      idempotency.Store
	Bucket     *admission.TokenBucket
	Breaker    *circuit.Breaker
	Dispatcher Dispatcher
	Bus        *events.EventBus
	Channels   map[string]string
	Ready      func() bool
	Log        zerolog.Logger
}

// NewServer creates the gateway server and wires the routes.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router:     router,
		cfg:        cfg,
		verifier:   deps.Verifier,
		store:      deps.Store,
		bucket:     deps.Bucket,
		breaker:    deps.Breaker,
		dispatcher: deps.Dispatcher,
		bus:        deps.Bus,
		hub:        NewWSHub(),
		channels:   deps.Channels,
		ready:      deps.Ready,
		log:        deps.Log,
	}

	router.Use(gin.Recovery())
	router.Use(s.requestIDMiddleware())
	router.Use(s.loggingMiddleware())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" || cfg.AllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders,
		auth.HeaderSignature, auth.HeaderTimestamp, HeaderIdempotencyKey)
	router.Use(cors.New(corsConfig))

	s.setupRoutes()

	// Stream gateway events to connected WebSocket clients.
	go s.hub.Run()
	s.bus.SubscribeAll(s.hub.BroadcastEvent)

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/readyz", s.handleReadyz)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	authed := s.router.Group("/")
	authed.Use(auth.Middleware(s.verifier))
	{
		authed.POST("/push", s.handlePush)
		authed.GET("/api/breaker", s.handleBreakerStats)
		authed.POST("/api/breaker/reset", s.handleBreakerReset)
	}
}

// requestIDMiddleware assigns each request an id and echoes it back.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// loggingMiddleware emits one structured line per request.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Info().
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
