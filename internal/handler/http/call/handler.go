package call

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/internal/middleware"
	"wayfarer-backend/pkg/pagination"
	"wayfarer-backend/pkg/response"
)

type HistoryService interface {
	History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error)
}

// Handler serves the call log
type Handler struct {
	callLog HistoryService
}

func NewHandler(callLog HistoryService) *Handler {
	return &Handler{callLog: callLog}
}

// GetCallHistory returns calls the user placed or received
// GET /v1/calls/history?limit=20&offset=0
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	offset, err := pagination.ParseOffset(c.Query("offset"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.callLog.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls":  calls,
		"limit":  limit,
		"offset": offset,
	})
}
