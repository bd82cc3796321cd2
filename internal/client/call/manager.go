package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/client/playback"
	"wayfarer-backend/internal/domain"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/logger"
)

// Events are UI callbacks. They run outside the session lock, on whichever
// goroutine caused the change.
type Events struct {
	OnIncoming        func(*Session)
	OnStateChange     func(*Session, State)
	OnMediaDowngraded func(*Session)
	OnRemoteTrack     func(*Session, RemoteTrack)
}

type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

func WithEvents(ev Events) Option {
	return func(m *Manager) { m.events = ev }
}

// WithSink sends the audio and video of the active call to sink.
func WithSink(sink Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithPlayback plays ringtone while a call rings and gives an active call
// the speaker, preempting anything else that plays.
func WithPlayback(ctrl *playback.Controller, ringtone playback.Player) Option {
	return func(m *Manager) {
		m.playback = ctrl
		m.ringtone = ringtone
	}
}

// Manager owns the participant's single call. A second inbound invite
// while a call is in progress is declined as busy.
type Manager struct {
	local       uuid.UUID
	sig         Signaler
	source      MediaSource
	negotiators NegotiatorFactory
	cfg         Config
	events      Events
	now         func() time.Time

	playback *playback.Controller
	ringtone playback.Player
	sink     Sink

	mu      sync.Mutex
	current *Session

	unsubscribe []func()
}

func NewManager(local uuid.UUID, sig Signaler, source MediaSource, negotiators NegotiatorFactory, opts ...Option) *Manager {
	m := &Manager{
		local:       local,
		sig:         sig,
		source:      source,
		negotiators: negotiators,
		cfg:         DefaultConfig(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg.setDefaults()

	m.unsubscribe = []func(){
		sig.On(domain.EventIncomingInvite, m.onInvite),
		sig.On(domain.EventIncomingAccept, m.route((*Session).onAccept)),
		sig.On(domain.EventIncomingICECandidate, m.route((*Session).onRemoteCandidate)),
		sig.On(domain.EventIncomingTerminate, m.route((*Session).onRemoteTerminate)),
		sig.On(domain.EventTargetOffline, m.onTargetOffline),
	}
	return m
}

// Call places an outgoing call. It returns once the invite is sent or the
// call failed; the session reports the rest through Events.
func (m *Manager) Call(ctx context.Context, peer uuid.UUID, media domain.MediaType) (*Session, error) {
	if peer == m.local || peer == uuid.Nil {
		return nil, apperrors.ValidationError("invalid call target")
	}

	m.mu.Lock()
	if m.current != nil && !m.current.ended() {
		m.mu.Unlock()
		return nil, apperrors.CallBusyError()
	}
	s := newOutgoing(m.local, peer, media, m.deps())
	m.current = s
	m.mu.Unlock()

	logger.Info("Placing call",
		zap.String("user_id", m.local.String()),
		zap.String("peer_id", peer.String()),
		zap.String("media_type", string(media)))
	m.sessionState(s, s.State())

	if err := s.start(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Current returns the call in progress, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ended() {
		return nil
	}
	return m.current
}

// Hangup ends the current call, if any.
func (m *Manager) Hangup() bool {
	if s := m.Current(); s != nil {
		return s.Hangup()
	}
	return false
}

// Close stops listening to the relay and hangs up.
func (m *Manager) Close() {
	for _, off := range m.unsubscribe {
		off()
	}
	m.Hangup()
}

func (m *Manager) deps() sessionDeps {
	return sessionDeps{
		cfg:         m.cfg,
		sig:         m.sig,
		source:      m.source,
		negotiators: m.negotiators,
		now:         m.now,
		onState:     m.sessionState,
		onDowngrade: m.events.OnMediaDowngraded,
		onTrack:     m.events.OnRemoteTrack,
		sink:        m.sink,
	}
}

func (m *Manager) onInvite(env *domain.Envelope) {
	m.mu.Lock()
	if m.current != nil && !m.current.ended() {
		m.mu.Unlock()
		logger.Info("Declining invite while busy",
			zap.String("user_id", m.local.String()),
			zap.String("peer_id", env.From.String()))
		if err := m.sig.Send(domain.Terminate(env.From, domain.ReasonBusy)); err != nil {
			logger.Warn("Failed to send busy", zap.Error(err))
		}
		return
	}

	offer, err := env.DecodeOffer()
	if err != nil {
		m.mu.Unlock()
		logger.Warn("Invite with malformed offer", zap.String("peer_id", env.From.String()), zap.Error(err))
		if err := m.sig.Send(domain.Terminate(env.From, domain.ReasonNegotiationFailed)); err != nil {
			logger.Warn("Failed to reject malformed invite", zap.Error(err))
		}
		return
	}
	s := newIncoming(m.local, env.From, env.MediaType, offer, m.deps())
	m.current = s
	m.mu.Unlock()

	m.sessionState(s, s.State())
	if m.events.OnIncoming != nil {
		m.events.OnIncoming(s)
	}
}

// route delivers an envelope to the current call when it comes from its peer.
func (m *Manager) route(fn func(*Session, *domain.Envelope)) func(*domain.Envelope) {
	return func(env *domain.Envelope) {
		m.mu.Lock()
		s := m.current
		m.mu.Unlock()
		if s == nil || s.Peer() != env.From {
			logger.Debug("Dropping call event for no call",
				zap.String("type", string(env.Type)),
				zap.String("peer_id", env.From.String()))
			return
		}
		fn(s, env)
	}
}

func (m *Manager) onTargetOffline(env *domain.Envelope) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s != nil && s.Peer() == env.To {
		s.onTargetOffline()
	}
}

// sessionState keeps playback and the current pointer in step with the call.
func (m *Manager) sessionState(s *Session, st State) {
	var release []*playback.Lease

	switch st.(type) {
	case Ringing:
		if m.playback != nil && m.ringtone != nil {
			lease, err := m.playback.Acquire(m.ringtone)
			if err != nil {
				logger.Warn("Ringtone failed", zap.Error(err))
			}
			m.mu.Lock()
			s.ring = lease
			m.mu.Unlock()
		}
	case Connecting:
		m.mu.Lock()
		release = append(release, s.ring)
		s.ring = nil
		m.mu.Unlock()
	case Active:
		m.mu.Lock()
		release = append(release, s.ring)
		s.ring = nil
		m.mu.Unlock()
		if m.playback != nil {
			lease, err := m.playback.Acquire(s.RemoteStream())
			if err != nil {
				logger.Warn("Call audio failed", zap.Error(err))
			}
			m.mu.Lock()
			s.audio = lease
			m.mu.Unlock()
		}
	case Ended:
		m.mu.Lock()
		release = append(release, s.ring, s.audio)
		s.ring, s.audio = nil, nil
		if m.current == s {
			m.current = nil
		}
		m.mu.Unlock()
	}

	for _, lease := range release {
		lease.Release()
	}
	if m.events.OnStateChange != nil {
		m.events.OnStateChange(s, st)
	}
}
