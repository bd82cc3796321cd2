package push

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/internal/middleware"
	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/push"
	"wayfarer-backend/pkg/response"
)

type TokenService interface {
	RegisterToken(ctx context.Context, token *push.Token) error
	UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error
}

// Handler registers devices for offline message and missed call notifications
type Handler struct {
	pushService TokenService
	validate    *validator.Validate
}

func NewHandler(pushService TokenService) *Handler {
	return &Handler{
		pushService: pushService,
		validate:    validator.New(),
	}
}

// RegisterToken registers a device token for the authenticated user
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	var req domain.PushToken
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	token := &push.Token{
		UserID:   userID,
		Token:    req.Token,
		Platform: req.Platform,
	}
	if err := h.pushService.RegisterToken(c.Request.Context(), token); err != nil {
		logger.Error("Failed to register push token",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to register token")
		return
	}

	logger.Info("Push token registered",
		zap.String("user_id", userID.String()),
		zap.String("platform", req.Platform))

	response.Success(c, http.StatusOK, gin.H{"message": "Token registered successfully"})
}

type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterToken removes one of the caller's device tokens
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	err := h.pushService.UnregisterToken(c.Request.Context(), userID, req.Token)
	if errors.Is(err, push.ErrTokenNotFound) {
		response.NotFound(c, "Token not found")
		return
	}
	if err != nil {
		logger.Error("Failed to unregister push token",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to unregister token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Token unregistered successfully"})
}
