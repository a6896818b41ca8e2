// Package health serves the process liveness endpoint used by hosting
// platforms to keep the relay alive and to show its configuration.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/courier/internal/settings"
)

// StatusReader supplies the configuration record shown on /status.
type StatusReader interface {
	Get(ctx context.Context) (settings.Record, error)
}

// StartOpts holds configuration for the health server.
type StartOpts struct {
	Status StatusReader
	Port   int
	Out    io.Writer
}

// statusResponse is the JSON body of GET /status.
type statusResponse struct {
	Running          bool    `json:"running"`
	SourceChannelID  *int64  `json:"source_channel_id"`
	TargetChannelIDs []int64 `json:"target_channel_ids"`
	PendingInput     string  `json:"pending_input"`
}

// Start launches the health HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Status == nil {
		return fmt.Errorf("health: status reader is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: newRouter(opts.Status),
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Health endpoint on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

func newRouter(status StatusReader) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", handleAlive())
	router.HEAD("/", handleAlive())
	router.GET("/status", handleStatus(status))
	return router
}

func handleAlive() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	}
}

func handleStatus(status StatusReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := status.Get(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "configuration unavailable"})
			return
		}
		c.JSON(http.StatusOK, statusResponse{
			Running:          rec.IsRunning,
			SourceChannelID:  rec.SourceChannelID,
			TargetChannelIDs: rec.TargetChannelIDs,
			PendingInput:     string(rec.PendingInput),
		})
	}
}
