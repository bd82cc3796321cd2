package domain

import (
	"time"

	"github.com/google/uuid"
)

// LastMessage is the preview shown in the conversation list.
type LastMessage struct {
	Preview  string    `json:"preview"`
	SenderID uuid.UUID `json:"sender_id"`
	At       time.Time `json:"at"`
}

// Conversation is the local user's one-to-one thread with a peer.
// Maps to CockroachDB conversation_summaries (one row per owner and peer).
type Conversation struct {
	PeerID          uuid.UUID    `json:"peer_id" db:"peer_id"`
	PeerDisplayName string       `json:"peer_display_name" db:"display_name"`
	PeerAvatar      string       `json:"peer_avatar,omitempty" db:"avatar_url"`
	PeerOnline      bool         `json:"peer_online"`
	LastMessage     *LastMessage `json:"last_message,omitempty"`
	UnreadCount     int          `json:"unread_count" db:"unread_count"`
}

// Touch records msg as the latest activity.
func (c *Conversation) Touch(msg *Message) {
	c.LastMessage = &LastMessage{
		Preview:  msg.Preview(),
		SenderID: msg.SenderID,
		At:       msg.CreatedAt,
	}
}
