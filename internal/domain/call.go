package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallRecord is the server-side log entry of a call, written as signaling passes the relay.
// Maps to CockroachDB calls table.
type CallRecord struct {
	CallID     uuid.UUID  `json:"call_id" db:"call_id"`
	CallerID   uuid.UUID  `json:"caller_id" db:"caller_id"`
	CalleeID   uuid.UUID  `json:"callee_id" db:"callee_id"`
	MediaType  MediaType  `json:"media_type" db:"media_type"`
	Status     string     `json:"status" db:"status"` // ringing, active, ended, missed, declined, busy
	EndReason  string     `json:"end_reason,omitempty" db:"end_reason"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Duration   int        `json:"duration" db:"duration"` // seconds of active media
}
