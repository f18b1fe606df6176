// Package server exposes the local popup API over HTTP: state and
// usage queries, settings, unlock and a server-sent event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is the local HTTP endpoint the popup talks to. It binds to
// loopback only; there is no auth layer.
type Server struct {
	addr    string
	handler *Handler
	logger  *zap.Logger
}

// New creates the popup API server.
func New(addr string, h *Handler, logger *zap.Logger) *Server {
	return &Server{addr: addr, handler: h, logger: logger}
}

// Router assembles the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/state", s.handler.State)
		api.GET("/usage", s.handler.Usage)
		api.GET("/settings", s.handler.Settings)
		api.GET("/events", s.handler.Events)
		api.POST("/sent", s.handler.Sent)
		api.POST("/settings", s.handler.UpdateSettings)
		api.POST("/unlock", s.handler.Unlock)
		api.POST("/preview/toggle", s.handler.TogglePreview)
	}

	return router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: the event stream is long-lived.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("popup api listening", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("popup api shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
