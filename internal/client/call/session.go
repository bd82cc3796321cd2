// Package call runs the client side of a one-to-one call: media capture,
// offer/answer exchange over the relay, ICE buffering and teardown.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/client/playback"
	"wayfarer-backend/internal/domain"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/logger"
)

// ErrCallEnded is returned by operations on a call that has already ended.
var ErrCallEnded = apperrors.InvalidStateError("call has ended")

type sessionDeps struct {
	cfg         Config
	sig         Signaler
	source      MediaSource
	negotiators NegotiatorFactory
	now         func() time.Time
	onState     func(*Session, State)
	onDowngrade func(*Session)
	onTrack     func(*Session, RemoteTrack)
	sink        Sink
}

// Session is one call from the local participant's point of view. The
// remote participant is fixed at creation.
type Session struct {
	local     uuid.UUID
	peer      uuid.UUID
	direction Direction
	deps      sessionDeps

	mu    sync.Mutex
	state State
	media domain.MediaType
	offer domain.SessionDescription

	neg        Negotiator
	localMedia LocalMedia
	remote     *RemoteStream
	transport  TransportState
	muted      bool
	videoOff   bool

	// remoteSet: remote description applied, candidates go straight in
	remoteSet   bool
	remoteQueue []domain.ICECandidate
	// announced: the peer knows about this call
	announced bool
	// signaled: our description is on the wire, local candidates may follow
	signaled   bool
	localQueue []domain.ICECandidate

	timer         *time.Timer
	grace         *time.Timer
	cancelAcquire context.CancelFunc
	done          chan struct{}

	// playback leases, guarded by the manager
	ring  *playback.Lease
	audio *playback.Lease

	// negMu orders remote description and candidate application
	negMu sync.Mutex
	// sendMu orders invite/accept, local candidates and terminate on the wire
	sendMu sync.Mutex
}

func newOutgoing(local, peer uuid.UUID, media domain.MediaType, deps sessionDeps) *Session {
	s := newSession(local, peer, Outgoing, media, deps)
	s.state = Dialing{Peer: peer, Media: media, Since: deps.now()}
	s.timer = time.AfterFunc(deps.cfg.NoAnswerTimeout, s.noAnswer)
	return s
}

func newIncoming(local, peer uuid.UUID, media domain.MediaType, offer domain.SessionDescription, deps sessionDeps) *Session {
	s := newSession(local, peer, Incoming, media, deps)
	s.offer = offer
	s.announced = true
	s.state = Ringing{Peer: peer, Media: media, Since: deps.now()}
	s.timer = time.AfterFunc(deps.cfg.NoAnswerTimeout, s.noAnswer)
	return s
}

func newSession(local, peer uuid.UUID, dir Direction, media domain.MediaType, deps sessionDeps) *Session {
	if !media.Valid() {
		media = domain.MediaAudio
	}
	return &Session{
		local:     local,
		peer:      peer,
		direction: dir,
		deps:      deps,
		media:     media,
		remote:    newRemoteStream("call:"+peer.String(), deps.sink),
		done:      make(chan struct{}),
	}
}

func (s *Session) Peer() uuid.UUID      { return s.peer }
func (s *Session) Direction() Direction { return s.direction }

// RemoteStream is the peer's media. It is stopped when the call ends.
func (s *Session) RemoteStream() *RemoteStream { return s.remote }

// Done is closed once the call has ended and its resources are released.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Media is the negotiated media: the requested type, or audio after a downgrade.
func (s *Session) Media() domain.MediaType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

func (s *Session) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.(Ended)
	return ok
}

func (s *Session) log() *zap.Logger {
	return logger.With(
		zap.String("user_id", s.local.String()),
		zap.String("peer_id", s.peer.String()),
		zap.String("direction", string(s.direction)))
}

// start places an outgoing call: capture, offer, invite.
func (s *Session) start(ctx context.Context) error {
	media, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	neg, err := s.attach(media)
	if err != nil {
		return err
	}

	offer, err := neg.CreateOffer(ctx)
	if err != nil {
		return s.fail(domain.ReasonNegotiationFailed, apperrors.NegotiationFailedError(err))
	}
	invite, err := domain.Invite(s.peer, s.Media(), offer)
	if err != nil {
		return s.fail(domain.ReasonNegotiationFailed, apperrors.NegotiationFailedError(err))
	}
	return s.signal(invite)
}

// Answer accepts a ringing call.
func (s *Session) Answer(ctx context.Context) error {
	s.mu.Lock()
	ringing, ok := s.state.(Ringing)
	if !ok {
		s.mu.Unlock()
		return apperrors.InvalidStateError("call is not ringing")
	}
	offer := s.offer
	next := Connecting{Peer: s.peer, Direction: s.direction, Media: ringing.Media, Since: s.deps.now()}
	s.state = next
	s.resetTimerLocked(s.deps.cfg.ConnectTimeout, s.connectTimeout)
	s.mu.Unlock()
	s.emit(next)

	media, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	neg, err := s.attach(media)
	if err != nil {
		return err
	}
	if err := s.applyRemote(neg, offer); err != nil {
		return s.fail(domain.ReasonNegotiationFailed, apperrors.NegotiationFailedError(err))
	}

	answer, err := neg.CreateAnswer(ctx)
	if err != nil {
		return s.fail(domain.ReasonNegotiationFailed, apperrors.NegotiationFailedError(err))
	}
	accept, err := domain.Accept(s.peer, answer)
	if err != nil {
		return s.fail(domain.ReasonNegotiationFailed, apperrors.NegotiationFailedError(err))
	}
	return s.signal(accept)
}

// Decline rejects a ringing call.
func (s *Session) Decline() error {
	if _, ok := s.State().(Ringing); !ok {
		return apperrors.InvalidStateError("call is not ringing")
	}
	s.end(domain.ReasonDeclined, nil, true)
	return nil
}

// Hangup ends the call from any phase. Only the first call has an effect:
// one terminate is sent and media is released once.
func (s *Session) Hangup() bool {
	return s.end(domain.ReasonHangup, nil, true)
}

// SetMuted switches the microphone without renegotiating.
func (s *Session) SetMuted(muted bool) error {
	return s.toggle(domain.MediaAudio, !muted)
}

// SetVideoEnabled switches the camera without renegotiating.
func (s *Session) SetVideoEnabled(enabled bool) error {
	return s.toggle(domain.MediaVideo, enabled)
}

func (s *Session) toggle(kind domain.MediaType, enabled bool) error {
	s.mu.Lock()
	switch s.state.(type) {
	case Connecting, Active:
	default:
		s.mu.Unlock()
		return apperrors.InvalidStateError("call is not connected")
	}
	neg, media := s.neg, s.localMedia
	s.mu.Unlock()

	if neg == nil || media == nil {
		return apperrors.InvalidStateError("media is not ready")
	}
	if kind == domain.MediaVideo && !media.HasVideo() {
		return apperrors.InvalidStateError("call has no video")
	}
	if err := neg.SetTrackEnabled(kind, enabled); err != nil {
		return err
	}

	s.mu.Lock()
	if kind == domain.MediaAudio {
		s.muted = !enabled
	} else {
		s.videoOff = !enabled
	}
	st := s.state
	if active, ok := st.(Active); ok {
		active.Muted, active.VideoOff = s.muted, s.videoOff
		s.state = active
		st = active
	}
	s.mu.Unlock()

	s.log().Debug("Local track toggled", zap.String("kind", string(kind)), zap.Bool("enabled", enabled))
	s.emit(st)
	return nil
}

// acquire captures local media, retrying audio-only when video fails.
// A capture that completes after the call ended is stopped and discarded.
func (s *Session) acquire(ctx context.Context) (LocalMedia, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if _, ok := s.state.(Ended); ok {
		s.mu.Unlock()
		return nil, ErrCallEnded
	}
	s.cancelAcquire = cancel
	wantVideo := s.media == domain.MediaVideo
	s.mu.Unlock()

	media, err := s.deps.source.Acquire(ctx, wantVideo)
	if err != nil && wantVideo && ctx.Err() == nil {
		s.log().Warn("Video capture failed, retrying audio only", zap.Error(err))
		media, err = s.deps.source.Acquire(ctx, false)
	}
	if err != nil {
		if s.ended() {
			return nil, ErrCallEnded
		}
		return nil, s.fail(domain.ReasonMediaUnavailable, apperrors.MediaUnavailableError(err))
	}

	downgraded := wantVideo && !media.HasVideo()

	s.mu.Lock()
	s.cancelAcquire = nil
	if _, ok := s.state.(Ended); ok {
		s.mu.Unlock()
		media.Stop()
		return nil, ErrCallEnded
	}
	s.localMedia = media
	if downgraded {
		s.media = domain.MediaAudio
		switch st := s.state.(type) {
		case Dialing:
			st.Media = domain.MediaAudio
			s.state = st
		case Connecting:
			st.Media = domain.MediaAudio
			s.state = st
		}
	}
	s.mu.Unlock()

	if downgraded {
		s.log().Info("Call downgraded to audio")
		if s.deps.onDowngrade != nil {
			s.deps.onDowngrade(s)
		}
	}
	return media, nil
}

func (s *Session) attach(media LocalMedia) (Negotiator, error) {
	neg, err := s.deps.negotiators()
	if err != nil {
		return nil, s.fail(domain.ReasonNegotiationFailed, apperrors.NegotiationFailedError(err))
	}
	neg.OnICECandidate(s.onLocalCandidate)
	neg.OnTransportState(s.onTransportState)
	neg.OnRemoteTrack(s.onRemoteTrack)
	if err := neg.AddLocalMedia(media); err != nil {
		neg.Close()
		return nil, s.fail(domain.ReasonNegotiationFailed, apperrors.NegotiationFailedError(err))
	}

	s.mu.Lock()
	if _, ok := s.state.(Ended); ok {
		s.mu.Unlock()
		neg.Close()
		return nil, ErrCallEnded
	}
	s.neg = neg
	s.mu.Unlock()
	return neg, nil
}

// signal sends our invite or accept, then the local candidates held back
// until now.
func (s *Session) signal(env *domain.Envelope) error {
	s.sendMu.Lock()
	s.mu.Lock()
	if _, ok := s.state.(Ended); ok {
		s.mu.Unlock()
		s.sendMu.Unlock()
		return ErrCallEnded
	}
	s.mu.Unlock()

	if err := s.deps.sig.Send(env); err != nil {
		s.sendMu.Unlock()
		return s.fail(domain.ReasonTransportFailure, apperrors.TransportFailureError(err))
	}

	s.mu.Lock()
	s.announced = true
	s.signaled = true
	queued := s.localQueue
	s.localQueue = nil
	s.mu.Unlock()

	for _, c := range queued {
		s.sendCandidate(c)
	}
	s.sendMu.Unlock()
	return nil
}

func (s *Session) onLocalCandidate(c domain.ICECandidate) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if _, ok := s.state.(Ended); ok {
		s.mu.Unlock()
		return
	}
	if !s.signaled {
		s.localQueue = append(s.localQueue, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.sendCandidate(c)
}

func (s *Session) sendCandidate(c domain.ICECandidate) {
	env, err := domain.Candidate(s.peer, c)
	if err == nil {
		err = s.deps.sig.Send(env)
	}
	if err != nil {
		s.log().Warn("Failed to send ICE candidate", zap.Error(err))
	}
}

// applyRemote sets the remote description, then the candidates that arrived
// before it in receipt order.
func (s *Session) applyRemote(neg Negotiator, sd domain.SessionDescription) error {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	if err := neg.SetRemoteDescription(sd); err != nil {
		return err
	}

	s.mu.Lock()
	queued := s.remoteQueue
	s.remoteQueue = nil
	s.remoteSet = true
	s.mu.Unlock()

	for _, c := range queued {
		if err := neg.AddICECandidate(c); err != nil {
			s.log().Warn("Failed to apply buffered ICE candidate", zap.Error(err))
		}
	}
	return nil
}

func (s *Session) onRemoteCandidate(env *domain.Envelope) {
	c, err := env.DecodeCandidate()
	if err != nil {
		s.log().Warn("Malformed ICE candidate", zap.Error(err))
		return
	}

	s.negMu.Lock()
	defer s.negMu.Unlock()

	s.mu.Lock()
	if _, ok := s.state.(Ended); ok {
		s.mu.Unlock()
		return
	}
	if !s.remoteSet {
		s.remoteQueue = append(s.remoteQueue, c)
		s.mu.Unlock()
		return
	}
	neg := s.neg
	s.mu.Unlock()

	if err := neg.AddICECandidate(c); err != nil {
		s.log().Warn("Failed to apply ICE candidate", zap.Error(err))
	}
}

func (s *Session) onRemoteTrack(t RemoteTrack) {
	if s.ended() {
		t.Stop()
		return
	}
	if !s.remote.add(t) {
		return
	}
	s.log().Info("Receiving remote track", zap.String("kind", string(t.Kind())), zap.String("track_id", t.ID()))
	if s.deps.onTrack != nil {
		s.deps.onTrack(s, t)
	}
}

func (s *Session) onAccept(env *domain.Envelope) {
	s.mu.Lock()
	dialing, ok := s.state.(Dialing)
	if !ok || s.neg == nil {
		s.mu.Unlock()
		s.log().Debug("Ignoring accept", zap.String("phase", string(s.State().Phase())))
		return
	}
	neg := s.neg
	next := Connecting{Peer: s.peer, Direction: s.direction, Media: dialing.Media, Since: s.deps.now()}
	s.state = next
	s.resetTimerLocked(s.deps.cfg.ConnectTimeout, s.connectTimeout)
	s.mu.Unlock()
	s.emit(next)

	answer, err := env.DecodeAnswer()
	if err == nil {
		err = s.applyRemote(neg, answer)
	}
	if err != nil {
		s.fail(domain.ReasonNegotiationFailed, apperrors.NegotiationFailedError(err))
	}
}

func (s *Session) onRemoteTerminate(env *domain.Envelope) {
	reason := env.Reason
	if reason == "" {
		reason = domain.ReasonHangup
	}
	var err error
	if reason == domain.ReasonBusy {
		err = apperrors.CallBusyError()
	}
	s.end(reason, err, false)
}

func (s *Session) onTargetOffline() {
	s.end(domain.ReasonPeerOffline, apperrors.PeerOfflineError(s.peer.String()), false)
}

func (s *Session) onTransportState(ts TransportState) {
	s.mu.Lock()
	if _, ok := s.state.(Ended); ok {
		s.mu.Unlock()
		return
	}
	s.transport = ts

	var changed State
	switch ts {
	case TransportConnected:
		if s.grace != nil {
			s.grace.Stop()
			s.grace = nil
		}
		if c, ok := s.state.(Connecting); ok {
			s.stopTimerLocked()
			active := Active{
				Peer:      s.peer,
				Direction: s.direction,
				Media:     c.Media,
				StartedAt: s.deps.now(),
				Muted:     s.muted,
				VideoOff:  s.videoOff,
			}
			s.state = active
			changed = active
		}
	case TransportDisconnected:
		if _, ok := s.state.(Active); ok && s.grace == nil {
			s.grace = time.AfterFunc(s.deps.cfg.DisconnectGrace, s.graceExpired)
		}
	case TransportFailed:
		s.mu.Unlock()
		s.fail(domain.ReasonTransportFailure, apperrors.TransportFailureError(errors.New("transport failed")))
		return
	}
	s.mu.Unlock()

	s.log().Debug("Transport state", zap.String("state", ts.String()))
	if changed != nil {
		s.emit(changed)
	}
}

func (s *Session) noAnswer() {
	switch s.State().(type) {
	case Dialing, Ringing:
		s.end(domain.ReasonNoAnswer, apperrors.NegotiationTimeoutError(), true)
	}
}

func (s *Session) connectTimeout() {
	if _, ok := s.State().(Connecting); ok {
		s.fail(domain.ReasonTransportFailure, apperrors.TransportFailureError(errors.New("connection timed out")))
	}
}

func (s *Session) graceExpired() {
	s.mu.Lock()
	_, active := s.state.(Active)
	recovered := s.transport == TransportConnected
	s.mu.Unlock()
	if active && !recovered {
		s.fail(domain.ReasonTransportFailure, apperrors.TransportFailureError(errors.New("connection not recovered")))
	}
}

// fail ends the call with err, telling the peer, and returns err.
func (s *Session) fail(reason domain.TerminateReason, err error) error {
	s.end(reason, err, true)
	return err
}

// end is the single teardown path. It reports whether this call performed
// the teardown.
func (s *Session) end(reason domain.TerminateReason, cause error, notify bool) bool {
	s.mu.Lock()
	if _, ok := s.state.(Ended); ok {
		s.mu.Unlock()
		return false
	}
	final := Ended{Peer: s.peer, Reason: reason, Err: cause, EndedAt: s.deps.now()}
	if active, ok := s.state.(Active); ok {
		final.StartedAt = active.StartedAt
	}
	s.state = final
	s.stopTimerLocked()
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
	neg, media := s.neg, s.localMedia
	s.neg, s.localMedia = nil, nil
	s.remoteQueue, s.localQueue = nil, nil
	s.mu.Unlock()

	if notify {
		s.sendMu.Lock()
		s.mu.Lock()
		announced := s.announced
		s.mu.Unlock()
		if announced {
			if err := s.deps.sig.Send(domain.Terminate(s.peer, reason)); err != nil {
				s.log().Warn("Failed to send terminate", zap.Error(err))
			}
		}
		s.sendMu.Unlock()
	}

	if media != nil {
		media.Stop()
	}
	s.remote.Stop()
	if neg != nil {
		if err := neg.Close(); err != nil {
			s.log().Debug("Negotiator close", zap.Error(err))
		}
	}
	close(s.done)

	fields := []zap.Field{zap.String("reason", string(reason)), zap.Duration("duration", final.Duration())}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	s.log().Info("Call ended", fields...)
	s.emit(final)
	return true
}

func (s *Session) resetTimerLocked(d time.Duration, fn func()) {
	s.stopTimerLocked()
	s.timer = time.AfterFunc(d, fn)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) emit(st State) {
	if s.deps.onState != nil {
		s.deps.onState(s, st)
	}
}
