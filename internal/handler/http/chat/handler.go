package chat

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/internal/middleware"
	"wayfarer-backend/internal/service/chat"
	"wayfarer-backend/pkg/pagination"
	"wayfarer-backend/pkg/response"
)

type Service interface {
	SendMessage(ctx context.Context, input *chat.SendMessageInput) (*domain.Message, error)
	GetMessages(ctx context.Context, input *chat.GetMessagesInput) (*domain.MessagePage, error)
	ListConversations(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.Conversation, error)
	MarkRead(ctx context.Context, ownerID, peerID uuid.UUID) error
}

// Handler serves the REST side of chat: conversation list, history, read state
type Handler struct {
	chatService Service
}

func NewHandler(chatService Service) *Handler {
	return &Handler{chatService: chatService}
}

type SendMessageRequest struct {
	RecipientID string             `json:"recipient_id" binding:"required,uuid"`
	Type        domain.MessageType `json:"type"`
	Body        string             `json:"body"`
	Attachment  *domain.Attachment `json:"attachment,omitempty"`
}

// SendMessage sends a message through the same pipeline as the websocket
// POST /v1/messages
func (h *Handler) SendMessage(c *gin.Context) {
	senderID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.chatService.SendMessage(c.Request.Context(), &chat.SendMessageInput{
		SenderID:    senderID,
		RecipientID: uuid.MustParse(req.RecipientID),
		Content: domain.Content{
			Type:       req.Type,
			Body:       req.Body,
			Attachment: req.Attachment,
		},
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// ListConversations returns the caller's conversations, most recent first
// GET /v1/conversations?limit=20&offset=0
func (h *Handler) ListConversations(c *gin.Context) {
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

	conversations, err := h.chatService.ListConversations(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"conversations": conversations,
		"limit":         limit,
		"offset":        offset,
	})
}

// GetMessages returns one page of the transcript with a peer, newest first
// GET /v1/conversations/:peer_id/messages?limit=20&cursor=...
func (h *Handler) GetMessages(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	peerID, err := uuid.Parse(c.Param("peer_id"))
	if err != nil {
		response.ValidationError(c, "Invalid peer ID")
		return
	}

	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	page, err := h.chatService.GetMessages(c.Request.Context(), &chat.GetMessagesInput{
		UserID: userID,
		PeerID: peerID,
		Limit:  limit,
		Cursor: c.Query("cursor"),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, page)
}

// MarkRead resets the caller's unread count for a peer
// POST /v1/conversations/:peer_id/read
func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	peerID, err := uuid.Parse(c.Param("peer_id"))
	if err != nil {
		response.ValidationError(c, "Invalid peer ID")
		return
	}

	if err := h.chatService.MarkRead(c.Request.Context(), userID, peerID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"peer_id": peerID, "unread_count": 0})
}
