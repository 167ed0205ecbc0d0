// Package status serves a small HTTP endpoint reporting loop health.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tracyhatemice/mailtriage/internal/triage"
)

// StatsSource reports the loop counters.
type StatsSource interface {
	Stats() triage.Stats
}

// Server is the status endpoint.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds the status server listening on addr.
func NewServer(addr string, src StatsSource, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           Handler(src),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the gin engine with the status routes.
func Handler(src StatsSource) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		st := src.Stats()
		c.JSON(http.StatusOK, gin.H{
			"stats":              st,
			"cursor_initialized": st.CursorInitialized(),
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status endpoint listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
