package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageAudio  MessageType = "audio"
	MessageSystem MessageType = "system"
)

// Attachment references stored media. URL is filled in on the way out and never persisted.
type Attachment struct {
	Ref string `json:"ref" validate:"required,max=512"`
	URL string `json:"url,omitempty"`
}

// Message is immutable once created. Body, Attachment or both are set.
// Maps to the Cassandra messages table.
type Message struct {
	ID          uuid.UUID   `json:"id"`
	SenderID    uuid.UUID   `json:"sender_id"`
	RecipientID uuid.UUID   `json:"recipient_id"`
	Type        MessageType `json:"type"`
	Body        string      `json:"body,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// PeerOf returns the other participant from local's point of view.
func (m *Message) PeerOf(local uuid.UUID) uuid.UUID {
	if m.SenderID == local {
		return m.RecipientID
	}
	return m.SenderID
}

// Preview is the conversation list text: the body, or a marker for attachment-only messages.
func (m *Message) Preview() string {
	if m.Body != "" {
		return m.Body
	}
	switch m.Type {
	case MessageImage:
		return "[image]"
	case MessageAudio:
		return "[audio]"
	default:
		if m.Attachment != nil {
			return "[attachment]"
		}
	}
	return ""
}

// Content is what a user composes; the server assigns id, sender and timestamp.
type Content struct {
	Type       MessageType `json:"type" validate:"required,oneof=text image audio system"`
	Body       string      `json:"body,omitempty" validate:"required_without=Attachment"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// MessagePage is one page of a transcript, newest first.
type MessagePage struct {
	Messages   []*Message `json:"messages"`
	NextCursor string     `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}
