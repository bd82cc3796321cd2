// Package constants defines shared timeouts, limits and wire values.
package constants

import "time"

// Server timing
const (
	// DefaultTimeout bounds a single REST request
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is how often the relay pings each connection
	WebSocketPingInterval = 54 * time.Second

	// WebSocketPongWait is how long a connection may stay silent
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait bounds a single websocket write
	WebSocketWriteWait = 10 * time.Second

	GracefulShutdownTimeout = 30 * time.Second

	// PresenceTTL is the lifetime of the Redis presence key between keep-alives
	PresenceTTL = 2 * time.Minute
)

// Database connection constants
const (
	MaxConnLifetime   = 1 * time.Hour
	MaxConnIdleTime   = 30 * time.Minute
	HealthCheckPeriod = 1 * time.Minute
)

// Call timing used by the client state machine
const (
	// NoAnswerTimeout ends a dialing or ringing call
	NoAnswerTimeout = 45 * time.Second

	// ConnectTimeout ends a call stuck between answer and media flow
	ConnectTimeout = 30 * time.Second

	// DisconnectGrace is how long a dropped transport may recover before the call ends
	DisconnectGrace = 10 * time.Second
)

// Call log values
const (
	CallStatusRinging  = "ringing"
	CallStatusActive   = "active"
	CallStatusEnded    = "ended"
	CallStatusMissed   = "missed"
	CallStatusDeclined = "declined"
	CallStatusBusy     = "busy"

	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// Chat timing and limits
const (
	// TypingExpiry clears a typing flag that has not been refreshed
	TypingExpiry = 2 * time.Second

	// TypingRefresh is the minimum gap between two typing=true events
	TypingRefresh = 1 * time.Second

	// SendAckTimeout bounds the wait for a message acknowledgment
	SendAckTimeout = 10 * time.Second

	MaxMessageLength = 10000

	// AttachmentURLExpiry is the validity of presigned attachment links
	AttachmentURLExpiry = 1 * time.Hour
)

// Push
const (
	PushTokenExpiry = 30 * 24 * time.Hour
)

// Pagination
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const (
	UserStatusOnline  = "online"
	UserStatusOffline = "offline"
)
