package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/domain"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/metrics"
	"wayfarer-backend/pkg/pagination"
	"wayfarer-backend/pkg/sanitize"
)

// MessageRepository stores transcripts
type MessageRepository interface {
	Save(ctx context.Context, message *domain.Message) error
	GetByConversation(ctx context.Context, a, b uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error)
}

// ConversationRepository keeps the per-owner conversation summaries
type ConversationRepository interface {
	RecordMessage(ctx context.Context, msg *domain.Message) error
	ListForOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.Conversation, error)
	MarkRead(ctx context.Context, ownerID, peerID uuid.UUID) error
}

// Attachments checks refs and signs download URLs
type Attachments interface {
	ValidateRef(ctx context.Context, senderID uuid.UUID, ref string) (string, error)
	ResolveURLs(ctx context.Context, messages ...*domain.Message)
}

// Deliverer hands a stored message to the recipient's live connection.
// It reports false when the recipient is not connected to any node.
type Deliverer interface {
	DeliverMessage(ctx context.Context, msg *domain.Message) bool
}

type Notifier interface {
	NotifyMessage(ctx context.Context, recipientID, senderID uuid.UUID, senderName, preview string) error
}

type PresenceChecker interface {
	IsOnline(ctx context.Context, userID uuid.UUID) bool
}

type UserDirectory interface {
	GetSummary(ctx context.Context, userID uuid.UUID) (*domain.UserSummary, error)
}

// Service is the server half of the chat pipeline: persist, summarize, deliver, notify.
type Service struct {
	messages      MessageRepository
	conversations ConversationRepository
	attachments   Attachments
	notifier      Notifier
	presence      PresenceChecker
	users         UserDirectory
	deliverer     Deliverer

	validate         *validator.Validate
	maxMessageLength int
}

// Config lists the collaborators. Attachments, Notifier, Presence and Users are optional.
type Config struct {
	Messages         MessageRepository
	Conversations    ConversationRepository
	Attachments      Attachments
	Notifier         Notifier
	Presence         PresenceChecker
	Users            UserDirectory
	MaxMessageLength int
}

func NewService(cfg Config) *Service {
	return &Service{
		messages:         cfg.Messages,
		conversations:    cfg.Conversations,
		attachments:      cfg.Attachments,
		notifier:         cfg.Notifier,
		presence:         cfg.Presence,
		users:            cfg.Users,
		validate:         validator.New(),
		maxMessageLength: cfg.MaxMessageLength,
	}
}

// SetDeliverer attaches the relay once it exists; the relay itself depends on this service.
func (s *Service) SetDeliverer(d Deliverer) {
	s.deliverer = d
}

type SendMessageInput struct {
	SenderID    uuid.UUID `validate:"required"`
	RecipientID uuid.UUID `validate:"required"`
	Content     domain.Content
}

// SendMessage persists a message and hands it to the recipient.
// The returned message is what the sender acknowledges and appends.
func (s *Service) SendMessage(ctx context.Context, input *SendMessageInput) (*domain.Message, error) {
	message, err := s.build(ctx, input)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := s.messages.Save(ctx, message); err != nil {
		metrics.ChatMessagePersistedTotal.WithLabelValues("error").Inc()
		logger.Error("Failed to persist message",
			zap.String("sender_id", message.SenderID.String()),
			zap.String("recipient_id", message.RecipientID.String()),
			zap.Error(err))
		return nil, apperrors.SendFailureError(err)
	}
	metrics.ChatMessagePersistedTotal.WithLabelValues("success").Inc()
	metrics.ChatMessageDeliveryDuration.WithLabelValues("persist").Observe(time.Since(start).Seconds())

	start = time.Now()
	if err := s.conversations.RecordMessage(ctx, message); err != nil {
		// The message is stored; the summaries catch up on the next one.
		logger.Warn("Failed to update conversation summaries",
			zap.String("message_id", message.ID.String()),
			zap.Error(err))
	}
	metrics.ChatMessageDeliveryDuration.WithLabelValues("summary").Observe(time.Since(start).Seconds())

	if s.attachments != nil {
		s.attachments.ResolveURLs(ctx, message)
	}

	start = time.Now()
	delivered := s.deliverer != nil && s.deliverer.DeliverMessage(ctx, message)
	metrics.ChatMessageDeliveryDuration.WithLabelValues("deliver").Observe(time.Since(start).Seconds())

	if delivered {
		metrics.ChatMessageDeliveredTotal.WithLabelValues("live").Inc()
	} else if s.notifier != nil {
		metrics.ChatMessageDeliveredTotal.WithLabelValues("push").Inc()
		s.notifyOffline(ctx, message)
	} else {
		metrics.ChatMessageDeliveredTotal.WithLabelValues("stored").Inc()
	}

	return message, nil
}

func (s *Service) build(ctx context.Context, input *SendMessageInput) (*domain.Message, error) {
	content := input.Content
	content.Body = sanitize.MessageBody(content.Body)
	if content.Type == "" {
		content.Type = domain.MessageText
	}

	if err := s.validate.Struct(&SendMessageInput{SenderID: input.SenderID, RecipientID: input.RecipientID, Content: content}); err != nil {
		return nil, apperrors.ValidationError("message needs a recipient and a body or attachment").WithDetails(err.Error())
	}
	if input.SenderID == input.RecipientID {
		return nil, apperrors.ValidationError("cannot message yourself")
	}
	if s.maxMessageLength > 0 && sanitize.RuneLength(content.Body) > s.maxMessageLength {
		return nil, apperrors.ValidationError(fmt.Sprintf("message exceeds %d characters", s.maxMessageLength))
	}

	if content.Attachment != nil {
		if s.attachments != nil {
			ref, err := s.attachments.ValidateRef(ctx, input.SenderID, content.Attachment.Ref)
			if err != nil {
				return nil, err
			}
			content.Attachment = &domain.Attachment{Ref: ref}
		} else {
			ref, ok := sanitize.AttachmentRef(content.Attachment.Ref)
			if !ok {
				return nil, apperrors.ValidationError("invalid attachment reference")
			}
			content.Attachment = &domain.Attachment{Ref: ref}
		}
	}

	return &domain.Message{
		ID:          uuid.New(),
		SenderID:    input.SenderID,
		RecipientID: input.RecipientID,
		Type:        content.Type,
		Body:        content.Body,
		Attachment:  content.Attachment,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// notifyOffline pushes in the background so the sender's ack is not held up by FCM/APNs
func (s *Service) notifyOffline(ctx context.Context, message *domain.Message) {
	senderName := "New message"
	if s.users != nil {
		if summary, err := s.users.GetSummary(ctx, message.SenderID); err == nil && summary.DisplayName != "" {
			senderName = summary.DisplayName
		}
	}

	pushCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.notifier.NotifyMessage(pushCtx, message.RecipientID, message.SenderID, senderName, message.Preview()); err != nil {
			logger.Warn("Failed to push message notification",
				zap.String("recipient_id", message.RecipientID.String()),
				zap.Error(err))
		}
	}()
}

type GetMessagesInput struct {
	UserID uuid.UUID
	PeerID uuid.UUID
	Limit  int
	Cursor string
}

// GetMessages returns one page of the transcript, newest first
func (s *Service) GetMessages(ctx context.Context, input *GetMessagesInput) (*domain.MessagePage, error) {
	pageState, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, apperrors.InvalidInputError(err.Error())
	}

	messages, next, err := s.messages.GetByConversation(ctx, input.UserID, input.PeerID, input.Limit, pageState)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if s.attachments != nil {
		s.attachments.ResolveURLs(ctx, messages...)
	}

	return &domain.MessagePage{
		Messages:   messages,
		NextCursor: pagination.EncodeCursor(next),
		HasMore:    len(next) > 0,
	}, nil
}

// ListConversations returns the owner's conversations, most recent first,
// with the peer's current presence.
func (s *Service) ListConversations(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.Conversation, error) {
	conversations, err := s.conversations.ListForOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if s.presence != nil {
		for _, c := range conversations {
			c.PeerOnline = s.presence.IsOnline(ctx, c.PeerID)
		}
	}
	return conversations, nil
}

func (s *Service) MarkRead(ctx context.Context, ownerID, peerID uuid.UUID) error {
	if err := s.conversations.MarkRead(ctx, ownerID, peerID); err != nil {
		return apperrors.DatabaseError(err)
	}
	return nil
}
