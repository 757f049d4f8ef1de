package dashboard

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/agentbus/internal/bus"
	"github.com/zulandar/agentbus/internal/journal"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Bus       *bus.Bus
	Journal   *journal.Journal // nil disables /api/activity and /api/events
	StatePath string           // snapshot file used by /api/state/*
	Port      int
	Out       io.Writer
	Logger    *log.Logger
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Bus == nil {
		return fmt.Errorf("dashboard: bus is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(opts)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the gin engine with every route registered.
func newRouter(opts StartOpts) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, &server{
		bus:       opts.Bus,
		journal:   opts.Journal,
		statePath: opts.StatePath,
		logger:    opts.Logger,
	})
	return router
}
