package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NethermindEth/nfaclaw-agent/api/handlers"
)

const shutdownGrace = 10 * time.Second

// NewRouter builds the gin engine with logging, recovery and every route.
func NewRouter(h *handlers.Handler, metricsHandler http.Handler, timeout time.Duration, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(logger), gin.Recovery())
	SetupRoutes(r, h, metricsHandler, timeout)
	return r
}

// StartServer serves router on port until ctx is done, then shuts down
// gracefully.
func StartServer(ctx context.Context, port int, router http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}
	return nil
}
