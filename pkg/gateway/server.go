// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/metrics"
)

const (
	maxBodySize     = 1 << 20
	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 10 * time.Second
)

// Config controls the HTTP listener.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
}

// Server is the control-plane HTTP gateway.
type Server struct {
	cfg      Config
	engine   Reconciler
	relay    GameChat
	links    LinkDirectory
	dispatch *Dispatcher
	metrics  *metrics.Metrics
	log      zerolog.Logger
	router   *gin.Engine
}

// New builds the router. The caller chooses the gin mode.
func New(cfg Config, engine Reconciler, relay GameChat, links LinkDirectory, log zerolog.Logger, m *metrics.Metrics) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// Stopping events run a full cleanup before answering.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		relay:    relay,
		links:    links,
		dispatch: NewDispatcher(engine, relay),
		metrics:  m,
		log:      log.With().Str("component", "gateway").Logger(),
		router:   gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestContext())
	s.routes()
	return s
}

// Dispatcher returns the event dispatcher shared with other transports.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatch
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	s.router.POST("/link-player", s.handleLink)
	s.router.POST("/player-join", s.handleJoin)
	s.router.POST("/player-leave", s.handleLeave)
	s.router.POST("/mc-chat", s.handleGameChat)
	s.router.POST("/server-status", s.handleServerStatus)

	api := s.router.Group("/api")
	{
		api.GET("/links", s.handleListLinks)
		api.DELETE("/links/:handle", s.handleUnlink)
		api.GET("/playing", s.handlePlaying)
		api.POST("/cleanup", s.handleCleanup)
	}

	if s.cfg.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}
}

// requestContext tags every request with a correlation id, caps the body
// size and logs the outcome.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		log := s.log.With().Str("request_id", id).Logger()
		c.Request = c.Request.WithContext(log.WithContext(c.Request.Context()))
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}

		start := time.Now()
		c.Next()

		evt := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			evt = log.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Handled request")
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("Starting control-plane gateway")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway listener failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down gateway: %w", err)
	}
	s.log.Info().Msg("Control-plane gateway stopped")
	return nil
}
