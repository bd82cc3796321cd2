package cassandra

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"wayfarer-backend/internal/domain"
)

// MessageRepository stores one-to-one transcripts in Cassandra.
//
//	CREATE TABLE messages (
//	    conversation_key text,
//	    created_at       timestamp,
//	    message_id       uuid,
//	    sender_id        uuid,
//	    recipient_id     uuid,
//	    message_type     text,
//	    body             text,
//	    attachment_ref   text,
//	    PRIMARY KEY ((conversation_key), created_at, message_id)
//	) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC);
//
// Re-inserting a message with the same id and timestamp overwrites the same
// row, so retried saves do not duplicate.
type MessageRepository struct {
	session *gocql.Session
}

func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// ConversationKey is the partition key shared by both participants
func ConversationKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if strings.Compare(as, bs) > 0 {
		as, bs = bs, as
	}
	return as + ":" + bs
}

func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) error {
	var attachmentRef string
	if message.Attachment != nil {
		attachmentRef = message.Attachment.Ref
	}

	query := `
		INSERT INTO messages (
			conversation_key, created_at, message_id, sender_id, recipient_id,
			message_type, body, attachment_ref
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		ConversationKey(message.SenderID, message.RecipientID),
		message.CreatedAt,
		gocql.UUID(message.ID),
		gocql.UUID(message.SenderID),
		gocql.UUID(message.RecipientID),
		string(message.Type),
		message.Body,
		attachmentRef,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetByConversation returns one page of the transcript between a and b,
// newest first, plus the driver paging state for the next page (nil when done).
func (r *MessageRepository) GetByConversation(
	ctx context.Context,
	a, b uuid.UUID,
	limit int,
	pageState []byte,
) ([]*domain.Message, []byte, error) {
	query := `
		SELECT message_id, sender_id, recipient_id, message_type, body,
		       attachment_ref, created_at
		FROM messages
		WHERE conversation_key = ?
	`

	iter := r.session.Query(query, ConversationKey(a, b)).
		WithContext(ctx).
		PageSize(limit).
		PageState(pageState).
		Iter()

	messages := make([]*domain.Message, 0, limit)
	var (
		id, sender, recipient gocql.UUID
		messageType, body     string
		attachmentRef         string
	)
	for len(messages) < limit {
		message := &domain.Message{}
		if !iter.Scan(&id, &sender, &recipient, &messageType, &body, &attachmentRef, &message.CreatedAt) {
			break
		}
		message.ID = uuid.UUID(id)
		message.SenderID = uuid.UUID(sender)
		message.RecipientID = uuid.UUID(recipient)
		message.Type = domain.MessageType(messageType)
		message.Body = body
		if attachmentRef != "" {
			message.Attachment = &domain.Attachment{Ref: attachmentRef}
		}
		messages = append(messages, message)
	}

	nextPageState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nextPageState, nil
}
