package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/NethermindEth/nfaclaw-agent/gatekeeper"
	"github.com/NethermindEth/nfaclaw-agent/utils"
)

// maxSafeTokenID is the largest token id clients can represent exactly.
const maxSafeTokenID = 1<<53 - 1

// HandleChat serves POST /api/chat.
func (h *Handler) HandleChat(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.Chat.AllowIP(ctx, utils.ClientIP(c.Request)); err != nil {
		h.writeError(c, err, "chat failed")
		return
	}

	var req gatekeeper.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if detail, ok := typeErrorDetail(err); ok {
			h.writeError(c, &gatekeeper.ValidationError{Detail: detail}, "chat failed")
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := h.Chat.Chat(ctx, req)
	if err != nil {
		h.writeError(c, err, "chat failed")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// typeErrorDetail turns a well-formed body with a mistyped field into the
// same detail the validator reports for that field.
func typeErrorDetail(err error) (string, bool) {
	var terr *json.UnmarshalTypeError
	if !errors.As(err, &terr) {
		return "", false
	}
	if terr.Field == "" {
		return "body must be an object", true
	}
	field, rest, nested := strings.Cut(terr.Field, ".")
	if field == "history" && nested && rest != "" {
		return "invalid history item", true
	}
	return "invalid " + field, true
}

// HandleAgent serves GET /api/agent/:tokenId.
func (h *Handler) HandleAgent(c *gin.Context) {
	tokenID, err := strconv.ParseUint(c.Param("tokenId"), 10, 64)
	if err != nil || tokenID == 0 || tokenID > maxSafeTokenID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tokenId"})
		return
	}

	view, err := h.Chat.Agent(c.Request.Context(), tokenID)
	if err != nil {
		h.writeError(c, err, "failed to query agent")
		return
	}
	c.JSON(http.StatusOK, view)
}
