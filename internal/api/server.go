package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/feed/config"
	"example.com/backstage/feed/internal/api/handlers"
	"example.com/backstage/feed/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	address    string
	router     *gin.Engine
	httpServer *http.Server
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.ServerConfig,
	feedHandler *handlers.FeedHandler,
	metricsHandler *handlers.MetricsHandler,
	tracer tracing.Tracer,
) *Server {
	if tracer == nil {
		tracer = tracing.Noop()
	}

	server := &Server{
		address: cfg.Address,
		tracer:  tracer,
	}
	server.router = server.setupRouter(feedHandler, metricsHandler)
	server.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

func (s *Server) setupRouter(feedHandler *handlers.FeedHandler, metricsHandler *handlers.MetricsHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware())

	if app := s.tracer.App(); app != nil {
		router.Use(NewRelicMiddleware(app))
	}

	feedHandler.RegisterRoutes(router)
	metricsHandler.RegisterRoutes(router)

	return router
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Run serves until ctx is cancelled, then shuts the server down
func (s *Server) Run(ctx context.Context) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	}
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
