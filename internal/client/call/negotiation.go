package call

import (
	"context"
	"time"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/constants"
)

// Signaler is the relay connection as the call layer sees it.
type Signaler interface {
	Send(env *domain.Envelope) error
	On(t domain.EventType, h func(*domain.Envelope)) func()
}

// LocalMedia is captured local audio, plus video when HasVideo.
type LocalMedia interface {
	HasVideo() bool
	Stop()
}

// MediaSource captures local media. A failed video request is retried
// audio-only by the session.
type MediaSource interface {
	Acquire(ctx context.Context, video bool) (LocalMedia, error)
}

type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	default:
		return "closed"
	}
}

// Negotiator is the peer connection of one call.
type Negotiator interface {
	AddLocalMedia(media LocalMedia) error
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(sd domain.SessionDescription) error
	AddICECandidate(c domain.ICECandidate) error
	// SetTrackEnabled switches local sending of one kind without renegotiation.
	SetTrackEnabled(kind domain.MediaType, enabled bool) error
	OnICECandidate(fn func(domain.ICECandidate))
	OnTransportState(fn func(TransportState))
	OnRemoteTrack(fn func(RemoteTrack))
	Close() error
}

type NegotiatorFactory func() (Negotiator, error)

// Config holds the call timeouts.
type Config struct {
	NoAnswerTimeout time.Duration
	ConnectTimeout  time.Duration
	DisconnectGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		NoAnswerTimeout: constants.NoAnswerTimeout,
		ConnectTimeout:  constants.ConnectTimeout,
		DisconnectGrace: constants.DisconnectGrace,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.NoAnswerTimeout <= 0 {
		c.NoAnswerTimeout = d.NoAnswerTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = d.DisconnectGrace
	}
}
