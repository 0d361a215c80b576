package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NethermindEth/nfaclaw-agent/api/handlers"
)

// SetupRoutes initializes all API endpoints
func SetupRoutes(router *gin.Engine, h *handlers.Handler, metricsHandler http.Handler, timeout time.Duration) {
	api := router.Group("/api", Timeout(timeout))
	{
		api.POST("/chat", h.HandleChat)
		api.GET("/agent/:tokenId", h.HandleAgent)
		api.GET("/cron/distribute", h.HandleDistribute)
		api.GET("/cron/dev-refill", h.HandleDevRefill)
		api.GET("/cron/:job/last", h.HandleLastCronRun)
	}

	router.GET("/ws", h.HandleWebSocket)
	router.GET("/healthz", h.Healthz)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
}
