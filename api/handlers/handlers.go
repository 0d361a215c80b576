// Package handlers holds the gin handlers of the public API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NethermindEth/nfaclaw-agent/auth"
	"github.com/NethermindEth/nfaclaw-agent/chain"
	"github.com/NethermindEth/nfaclaw-agent/communication"
	"github.com/NethermindEth/nfaclaw-agent/gatekeeper"
	"github.com/NethermindEth/nfaclaw-agent/storage"
)

// ChatService is the pipeline behind the chat and agent endpoints.
type ChatService interface {
	AllowIP(ctx context.Context, ip string) error
	Chat(ctx context.Context, req gatekeeper.ChatRequest) (*gatekeeper.ChatResponse, error)
	Agent(ctx context.Context, tokenID uint64) (*gatekeeper.AgentView, error)
}

// CronRunner runs the maintenance jobs against the dividend contract.
type CronRunner interface {
	Distribute(ctx context.Context, cfg chain.DistributeConfig) (*chain.DistributeReport, error)
	Refill(ctx context.Context, cfg chain.RefillConfig) (*chain.RefillReport, error)
}

// Handler serves the API. Cron, CronRuns, Events and WS are optional.
type Handler struct {
	Chat              ChatService
	Cron              CronRunner
	CronSecret        string
	Distribute        chain.DistributeConfig
	Refill            chain.RefillConfig
	CronRuns          *storage.CronRepository
	Events            communication.Emitter
	WS                *communication.WebSocketManager
	VerboseAuthErrors bool
	Logger            *zap.Logger
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) emit(eventType string, payload interface{}) {
	if h.Events != nil {
		h.Events.Emit(eventType, payload)
	}
}

// writeError maps a pipeline error onto the response clients expect.
func (h *Handler) writeError(c *gin.Context, err error, op string) {
	var (
		verr *gatekeeper.ValidationError
		rerr *gatekeeper.RateLimitError
		aerr *auth.Error
		uerr *gatekeeper.UpstreamError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": verr.Detail})
	case errors.As(err, &rerr):
		c.Header("Retry-After", rerr.RetryAfterHeader())
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	case errors.As(err, &aerr):
		h.writeAuthError(c, aerr)
	case errors.As(err, &uerr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": uerr.Op, "detail": uerr.Err.Error()})
	default:
		h.logger().Error("unexpected handler error", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op, "detail": err.Error()})
	}
}

func (h *Handler) writeAuthError(c *gin.Context, aerr *auth.Error) {
	status := aerr.StatusCode()
	if !h.VerboseAuthErrors {
		c.JSON(status, gin.H{"error": aerr.Category()})
		return
	}
	if aerr.Kind == auth.KindMalformed {
		c.JSON(status, gin.H{"error": aerr.Category(), "detail": aerr.Reason})
		return
	}
	c.JSON(status, gin.H{"error": aerr.Reason})
}

// Healthz reports liveness.
func (h *Handler) Healthz(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.WS != nil {
		resp["wsClients"] = h.WS.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}
