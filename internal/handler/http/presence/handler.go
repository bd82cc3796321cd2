package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wayfarer-backend/pkg/response"
)

type OnlineLister interface {
	Online(ctx context.Context) []uuid.UUID
}

type Handler struct {
	registry OnlineLister
}

func NewHandler(registry OnlineLister) *Handler {
	return &Handler{registry: registry}
}

// GetOnline lists users connected to any relay node
// GET /v1/presence/online
func (h *Handler) GetOnline(c *gin.Context) {
	online := h.registry.Online(c.Request.Context())
	response.Success(c, http.StatusOK, gin.H{
		"online": online,
		"count":  len(online),
	})
}
