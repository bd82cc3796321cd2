package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"wayfarer-backend/internal/client/playback"
	"wayfarer-backend/internal/domain"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/logger"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type participant struct {
	id       uuid.UUID
	sig      *fakeSignaler
	source   *fakeSource
	negs     *factory
	manager  *Manager
	incoming chan *Session

	mu         sync.Mutex
	phases     []Phase
	downgrades int
}

func join(t *testing.T, relay *fakeRelay, name string, opts ...Option) *participant {
	t.Helper()
	p := &participant{
		id:       uuid.New(),
		source:   &fakeSource{},
		negs:     &factory{name: name},
		incoming: make(chan *Session, 4),
	}
	p.sig = relay.connect(p.id)
	events := WithEvents(Events{
		OnIncoming: func(s *Session) { p.incoming <- s },
		OnStateChange: func(_ *Session, st State) {
			p.mu.Lock()
			p.phases = append(p.phases, st.Phase())
			p.mu.Unlock()
		},
		OnMediaDowngraded: func(*Session) {
			p.mu.Lock()
			p.downgrades++
			p.mu.Unlock()
		},
	})
	p.manager = NewManager(p.id, p.sig, p.source, p.negs.New, append([]Option{events}, opts...)...)
	t.Cleanup(p.manager.Close)
	return p
}

func (p *participant) ring(t *testing.T) *Session {
	t.Helper()
	select {
	case s := <-p.incoming:
		return s
	case <-time.After(waitFor):
		t.Fatal("no incoming call")
		return nil
	}
}

func (p *participant) seen() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Phase{}, p.phases...)
}

func waitPhase(t *testing.T, s *Session, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State().Phase() == want }, waitFor, tick,
		"want %s, have %s", want, s.State().Phase())
}

// connectCall runs A calls B up to active on both sides
func connectCall(t *testing.T, a, b *participant, media domain.MediaType) (*Session, *Session) {
	t.Helper()
	outgoing, err := a.manager.Call(context.Background(), b.id, media)
	require.NoError(t, err)
	assert.Equal(t, PhaseDialing, outgoing.State().Phase())

	incoming := b.ring(t)
	assert.Equal(t, PhaseRinging, incoming.State().Phase())
	assert.Equal(t, a.id, incoming.Peer())

	require.NoError(t, incoming.Answer(context.Background()))
	assert.Equal(t, PhaseConnecting, incoming.State().Phase())
	waitPhase(t, outgoing, PhaseConnecting)

	a.negs.last().transport(TransportConnected)
	b.negs.last().transport(TransportConnected)
	waitPhase(t, outgoing, PhaseActive)
	waitPhase(t, incoming, PhaseActive)
	return outgoing, incoming
}

func TestAudioCall_EndToEnd(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")
	b := join(t, relay, "b")

	outgoing, incoming := connectCall(t, a, b, domain.MediaAudio)
	assert.Equal(t, b.id, outgoing.Peer())
	assert.Equal(t, "answer-from-b-0", a.negs.last().remote.SDP)
	assert.Equal(t, "offer-from-a-0", b.negs.last().remote.SDP)

	assert.True(t, outgoing.Hangup())
	waitPhase(t, incoming, PhaseEnded)

	ended := incoming.State().(Ended)
	assert.Equal(t, domain.ReasonHangup, ended.Reason)
	assert.NoError(t, ended.Err)
	assert.False(t, ended.StartedAt.IsZero())

	assert.Equal(t, []Phase{PhaseDialing, PhaseConnecting, PhaseActive, PhaseEnded}, a.seen())
	assert.Equal(t, []Phase{PhaseRinging, PhaseConnecting, PhaseActive, PhaseEnded}, b.seen())
	assert.EqualValues(t, 1, a.source.last().stops.Load())
	assert.EqualValues(t, 1, b.source.last().stops.Load())
	assert.Nil(t, a.manager.Current())
	require.Eventually(t, func() bool { return b.manager.Current() == nil }, waitFor, tick)
	assert.Empty(t, b.sig.sentOfType(domain.EventTerminate), "the side that was hung up on sends nothing")
}

func TestHangup_Idempotent(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")
	b := join(t, relay, "b")
	outgoing, _ := connectCall(t, a, b, domain.MediaAudio)

	var wg sync.WaitGroup
	results := make(chan bool, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- outgoing.Hangup()
		}()
	}
	wg.Wait()
	close(results)

	performed := 0
	for ok := range results {
		if ok {
			performed++
		}
	}
	assert.Equal(t, 1, performed)
	assert.Len(t, a.sig.sentOfType(domain.EventTerminate), 1)
	assert.EqualValues(t, 1, a.source.last().stops.Load())
	assert.Equal(t, 1, a.negs.last().closes)
	assert.False(t, a.manager.Hangup(), "no call left")
}

func TestICE_BufferedUntilRemoteDescription(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")
	b := join(t, relay, "b")
	a.negs.gathered = []string{"a-early-1", "a-early-2"}

	outgoing, err := a.manager.Call(context.Background(), b.id, domain.MediaAudio)
	require.NoError(t, err)

	// candidates gathered during offer creation trail the invite on the wire
	assert.Equal(t, []domain.EventType{domain.EventInvite, domain.EventICECandidate, domain.EventICECandidate}, a.sig.sentTypes())

	incoming := b.ring(t)
	a.negs.last().candidate("a-late-3")
	require.Eventually(t, func() bool {
		incoming.mu.Lock()
		defer incoming.mu.Unlock()
		return len(incoming.remoteQueue) == 3
	}, waitFor, tick)

	require.NoError(t, incoming.Answer(context.Background()))
	neg := b.negs.last()
	assert.Equal(t, []string{"a-early-1", "a-early-2", "a-late-3"}, neg.appliedCandidates())
	assert.Zero(t, neg.earlyAdds)

	a.negs.last().candidate("a-after-4")
	require.Eventually(t, func() bool { return len(neg.appliedCandidates()) == 4 }, waitFor, tick)
	assert.Equal(t, "a-after-4", neg.appliedCandidates()[3])

	waitPhase(t, outgoing, PhaseConnecting)
	b.negs.last().candidate("b-1")
	require.Eventually(t, func() bool { return len(a.negs.last().appliedCandidates()) == 1 }, waitFor, tick)
	assert.Zero(t, a.negs.last().earlyAdds)
}

func TestInvite_BusyWhileInCall(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")
	b := join(t, relay, "b")
	c := join(t, relay, "c")
	_, incoming := connectCall(t, a, b, domain.MediaAudio)

	third, err := c.manager.Call(context.Background(), b.id, domain.MediaAudio)
	require.NoError(t, err)
	waitPhase(t, third, PhaseEnded)

	ended := third.State().(Ended)
	assert.Equal(t, domain.ReasonBusy, ended.Reason)
	assert.True(t, apperrors.HasCode(ended.Err, apperrors.ErrCodeCallBusy))
	assert.Equal(t, PhaseActive, incoming.State().Phase())
	assert.Same(t, incoming, b.manager.Current())
}

func TestCall_RejectsSecondOutgoing(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")
	b := join(t, relay, "b")
	_, err := a.manager.Call(context.Background(), b.id, domain.MediaAudio)
	require.NoError(t, err)

	_, err = a.manager.Call(context.Background(), uuid.New(), domain.MediaAudio)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallBusy))

	_, err = a.manager.Call(context.Background(), a.id, domain.MediaAudio)
	assert.Error(t, err)
}

func TestVideoCall_DowngradesToAudio(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")
	b := join(t, relay, "b")
	a.source.videoErr = videoBusy()

	outgoing, err := a.manager.Call(context.Background(), b.id, domain.MediaVideo)
	require.NoError(t, err)

	assert.Equal(t, domain.MediaAudio, outgoing.Media())
	assert.Equal(t, domain.MediaAudio, outgoing.State().(Dialing).Media)
	assert.Equal(t, []bool{true, false}, a.source.requested)
	a.mu.Lock()
	assert.Equal(t, 1, a.downgrades)
	a.mu.Unlock()

	invites := a.sig.sentOfType(domain.EventInvite)
	require.Len(t, invites, 1)
	assert.Equal(t, domain.MediaAudio, invites[0].MediaType)

	incoming := b.ring(t)
	assert.Equal(t, domain.MediaAudio, incoming.Media())
}

func TestCall_MediaUnavailable(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")
	a.source.videoErr = videoBusy()
	a.source.audioErr = assert.AnError

	s, err := a.manager.Call(context.Background(), uuid.New(), domain.MediaVideo)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMediaUnavailable))

	ended := s.State().(Ended)
	assert.Equal(t, domain.ReasonMediaUnavailable, ended.Reason)
	assert.Empty(t, a.sig.sentTypes(), "the peer never heard of the call")
}

func TestCall_PeerOffline(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")

	s, err := a.manager.Call(context.Background(), uuid.New(), domain.MediaAudio)
	require.NoError(t, err)
	waitPhase(t, s, PhaseEnded)

	ended := s.State().(Ended)
	assert.Equal(t, domain.ReasonPeerOffline, ended.Reason)
	assert.True(t, apperrors.HasCode(ended.Err, apperrors.ErrCodePeerOffline))
	assert.Empty(t, a.sig.sentOfType(domain.EventTerminate))
	assert.EqualValues(t, 1, a.source.last().stops.Load())
}

func TestCall_NoAnswerTimeout(t *testing.T) {
	relay := newFakeRelay()
	cfg := WithConfig(Config{NoAnswerTimeout: 50 * time.Millisecond})
	a := join(t, relay, "a", cfg)
	b := join(t, relay, "b", WithConfig(Config{NoAnswerTimeout: time.Minute}))

	outgoing, err := a.manager.Call(context.Background(), b.id, domain.MediaAudio)
	require.NoError(t, err)
	incoming := b.ring(t)

	waitPhase(t, outgoing, PhaseEnded)
	assert.Equal(t, domain.ReasonNoAnswer, outgoing.State().(Ended).Reason)
	assert.True(t, apperrors.HasCode(outgoing.State().(Ended).Err, apperrors.ErrCodeNegotiationTimeout))

	waitPhase(t, incoming, PhaseEnded)
	assert.Equal(t, domain.ReasonNoAnswer, incoming.State().(Ended).Reason)
}

func TestDecline(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")
	b := join(t, relay, "b")

	outgoing, err := a.manager.Call(context.Background(), b.id, domain.MediaAudio)
	require.NoError(t, err)
	incoming := b.ring(t)

	require.NoError(t, incoming.Decline())
	assert.Error(t, incoming.Decline())
	waitPhase(t, outgoing, PhaseEnded)
	assert.Equal(t, domain.ReasonDeclined, outgoing.State().(Ended).Reason)
	assert.Zero(t, outgoing.State().(Ended).Duration())
}

func TestHangup_DuringCaptureDiscardsLateMedia(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")
	gate := make(chan struct{})
	a.source.gate = gate

	done := make(chan error, 1)
	go func() {
		_, err := a.manager.Call(context.Background(), uuid.New(), domain.MediaAudio)
		done <- err
	}()

	require.Eventually(t, func() bool {
		a.source.mu.Lock()
		defer a.source.mu.Unlock()
		return len(a.source.requested) == 1
	}, waitFor, tick)
	s := a.manager.Current()
	require.NotNil(t, s)
	assert.True(t, s.Hangup())
	close(gate)

	assert.ErrorIs(t, <-done, ErrCallEnded)
	require.NotNil(t, a.source.last())
	assert.EqualValues(t, 1, a.source.last().stops.Load())
	assert.Empty(t, a.sig.sentTypes())
}

func TestMuteAndVideoToggle(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a")
	b := join(t, relay, "b")

	outgoing, err := a.manager.Call(context.Background(), b.id, domain.MediaVideo)
	require.NoError(t, err)
	assert.Error(t, outgoing.SetMuted(true), "not connected yet")

	incoming := b.ring(t)
	require.NoError(t, incoming.Answer(context.Background()))
	waitPhase(t, outgoing, PhaseConnecting)
	a.negs.last().transport(TransportConnected)
	waitPhase(t, outgoing, PhaseActive)

	require.NoError(t, outgoing.SetMuted(true))
	require.NoError(t, outgoing.SetVideoEnabled(false))
	active := outgoing.State().(Active)
	assert.True(t, active.Muted)
	assert.True(t, active.VideoOff)
	assert.Equal(t, map[domain.MediaType]bool{domain.MediaAudio: false, domain.MediaVideo: false}, a.negs.last().enabled)
	assert.Len(t, a.negs.made, 1, "no renegotiation")
}

func TestTransport_GracePeriod(t *testing.T) {
	relay := newFakeRelay()
	a := join(t, relay, "a", WithConfig(Config{DisconnectGrace: 40 * time.Millisecond}))
	b := join(t, relay, "b")
	outgoing, incoming := connectCall(t, a, b, domain.MediaAudio)

	neg := a.negs.last()
	neg.transport(TransportDisconnected)
	neg.transport(TransportConnected)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, PhaseActive, outgoing.State().Phase(), "recovered within grace")

	neg.transport(TransportDisconnected)
	waitPhase(t, outgoing, PhaseEnded)
	assert.Equal(t, domain.ReasonTransportFailure, outgoing.State().(Ended).Reason)
	waitPhase(t, incoming, PhaseEnded)
}

func TestPlayback_RingtoneThenCallAudio(t *testing.T) {
	relay := newFakeRelay()
	ctrl := playback.NewController()
	ringtone := playback.Silent("ringtone")
	a := join(t, relay, "a")
	b := join(t, relay, "b", WithPlayback(ctrl, ringtone))

	voice, err := ctrl.Acquire(playback.Silent("voice-note"))
	require.NoError(t, err)

	_, err = a.manager.Call(context.Background(), b.id, domain.MediaAudio)
	require.NoError(t, err)
	incoming := b.ring(t)
	assert.Equal(t, ringtone, ctrl.Current())
	assert.False(t, voice.Active())

	require.NoError(t, incoming.Answer(context.Background()))
	assert.Nil(t, ctrl.Current())

	b.negs.last().transport(TransportConnected)
	waitPhase(t, incoming, PhaseActive)
	assert.Equal(t, "call:"+a.id.String(), ctrl.Current().Name())

	incoming.Hangup()
	assert.Nil(t, ctrl.Current())
}

func TestRemoteStream_PlaysWhileActiveAndStopsOnEnd(t *testing.T) {
	relay := newFakeRelay()
	ctrl := playback.NewController()

	var mu sync.Mutex
	var heard []string
	sink := WithSink(func(kind domain.MediaType, payload []byte) {
		mu.Lock()
		heard = append(heard, string(kind)+":"+string(payload))
		mu.Unlock()
	})
	played := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string{}, heard...)
	}

	a := join(t, relay, "a")
	b := join(t, relay, "b", WithPlayback(ctrl, nil), sink)
	outgoing, incoming := connectCall(t, a, b, domain.MediaVideo)

	neg := b.negs.last()
	audio := neg.track(domain.MediaAudio)
	video := neg.track(domain.MediaVideo)

	stream := incoming.RemoteStream()
	require.Len(t, stream.Tracks(), 2)
	assert.True(t, stream.HasVideo())
	assert.Equal(t, stream, ctrl.Current(), "the active call holds the speaker")

	audio.write("hello")
	assert.Equal(t, []string{"audio:hello"}, played())

	// a voice note takes the speaker; the call keeps receiving but plays nothing
	_, err := ctrl.Acquire(playback.Silent("voice-note"))
	require.NoError(t, err)
	audio.write("unheard")
	assert.Equal(t, []string{"audio:hello"}, played())
	assert.EqualValues(t, 2, stream.Received())

	incoming.Hangup()
	assert.True(t, stream.Stopped())
	assert.Equal(t, 1, audio.stopCount())
	assert.Equal(t, 1, video.stopCount())

	late := neg.track(domain.MediaAudio)
	assert.Equal(t, 1, late.stopCount(), "tracks arriving after the call ended are stopped")
	assert.Len(t, stream.Tracks(), 2)

	waitPhase(t, outgoing, PhaseEnded)
	assert.True(t, outgoing.RemoteStream().Stopped())
}

// downSignaler accepts handlers but fails every send
type downSignaler struct {
	mu       sync.Mutex
	handlers map[domain.EventType]func(*domain.Envelope)
}

func (d *downSignaler) Send(*domain.Envelope) error { return errors.New("relay connection lost") }

func (d *downSignaler) On(t domain.EventType, h func(*domain.Envelope)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = make(map[domain.EventType]func(*domain.Envelope))
	}
	d.handlers[t] = h
	return func() {}
}

func (d *downSignaler) deliver(env *domain.Envelope) {
	d.mu.Lock()
	h := d.handlers[env.Type]
	d.mu.Unlock()
	h(env)
}

func TestInvite_MalformedOfferRejectFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })

	sig := &downSignaler{}
	m := NewManager(uuid.New(), sig, &fakeSource{}, (&factory{name: "m"}).New)
	t.Cleanup(m.Close)

	caller := uuid.New()
	sig.deliver(&domain.Envelope{Type: domain.EventIncomingInvite, From: caller, MediaType: domain.MediaAudio})

	assert.Nil(t, m.Current(), "a malformed invite creates no call")
	entries := logs.FilterMessage("Failed to reject malformed invite").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "relay connection lost", entries[0].ContextMap()["error"])
}
