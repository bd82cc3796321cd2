package domain

import "github.com/google/uuid"

// UserSummary is the read-only profile slice the chat list needs.
// Maps to CockroachDB users table, owned by the profile service.
type UserSummary struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty" db:"avatar_url"`
}
