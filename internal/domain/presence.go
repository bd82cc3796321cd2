package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceChange is published when a user connects to or leaves a relay node.
type PresenceChange struct {
	UserID uuid.UUID `json:"user_id"`
	Online bool      `json:"online"`
	NodeID string    `json:"node_id"`
	At     time.Time `json:"at"`
}

// PushToken is a device registration for offline notifications.
type PushToken struct {
	UserID   uuid.UUID `json:"user_id"`
	Token    string    `json:"token" validate:"required,max=4096"`
	Platform string    `json:"platform" validate:"required,oneof=android ios web"`
}
