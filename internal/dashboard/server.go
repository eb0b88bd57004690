// Package dashboard serves a read-only JSON view of live sessions and the
// session journal.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/muster/internal/journal"
	"github.com/zulandar/muster/internal/models"
	"go.uber.org/zap"
)

// SessionSource supplies live session snapshots.
type SessionSource interface {
	ListOpenSessions() []*models.Session
	ListGatheredSessions() []*models.Session
	GetSession(id int64) (*models.Session, error)
	SessionCount() int
}

// EventSource supplies recorded session events. *journal.Recorder
// implements it.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]models.SessionEvent, error)
	ForSession(ctx context.Context, sessionID int64) ([]models.SessionEvent, error)
	CountByKind(ctx context.Context) ([]journal.KindCount, error)
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Sessions SessionSource
	Events   EventSource // optional; event routes answer 404 without it
	Port     int
	Out      io.Writer
	Logger   *zap.Logger
	// PollInterval is how often the event stream checks for new rows.
	PollInterval time.Duration
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Sessions == nil {
		return fmt.Errorf("dashboard: sessions source is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(opts StartOpts) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(zapLoggerMiddleware(logger), gin.Recovery())

	h := &handlers{sessions: opts.Sessions, events: opts.Events, poll: poll}
	registerRoutes(router, h)
	return router
}

// zapLoggerMiddleware logs one line per request.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
