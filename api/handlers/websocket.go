package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the stream carries no private data
	},
}

// HandleWebSocket serves GET /ws.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	if h.WS == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event stream disabled"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger().Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	h.WS.Serve(conn)
}
