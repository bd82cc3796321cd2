package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"wayfarer-backend/internal/domain"
	apperrors "wayfarer-backend/pkg/errors"
)

// fakeRelay forwards like the real relay: stamps from, maps to the incoming
// type and answers target_offline for unknown targets.
type fakeRelay struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*fakeSignaler
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{clients: make(map[uuid.UUID]*fakeSignaler)}
}

func (r *fakeRelay) connect(id uuid.UUID) *fakeSignaler {
	s := &fakeSignaler{
		id:       id,
		relay:    r,
		handlers: make(map[domain.EventType][]func(*domain.Envelope)),
		inbox:    make(chan *domain.Envelope, 256),
	}
	r.mu.Lock()
	r.clients[id] = s
	r.mu.Unlock()
	go s.loop()
	return s
}

func (r *fakeRelay) route(from *fakeSignaler, env *domain.Envelope) {
	r.mu.Lock()
	target := r.clients[env.To]
	r.mu.Unlock()

	if target == nil {
		from.inbox <- &domain.Envelope{Type: domain.EventTargetOffline, To: env.To}
		return
	}
	in, _ := env.Type.Incoming()
	out := *env
	out.Type = in
	out.From = from.id
	out.To = uuid.Nil
	target.inbox <- &out
}

type fakeSignaler struct {
	id    uuid.UUID
	relay *fakeRelay

	mu       sync.Mutex
	handlers map[domain.EventType][]func(*domain.Envelope)
	sent     []*domain.Envelope
	inbox    chan *domain.Envelope
}

func (s *fakeSignaler) Send(env *domain.Envelope) error {
	s.mu.Lock()
	copied := *env
	s.sent = append(s.sent, &copied)
	s.mu.Unlock()
	s.relay.route(s, env)
	return nil
}

func (s *fakeSignaler) On(t domain.EventType, h func(*domain.Envelope)) func() {
	s.mu.Lock()
	s.handlers[t] = append(s.handlers[t], h)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.handlers[t] = nil
		s.mu.Unlock()
	}
}

func (s *fakeSignaler) loop() {
	for env := range s.inbox {
		s.mu.Lock()
		hs := append([]func(*domain.Envelope){}, s.handlers[env.Type]...)
		s.mu.Unlock()
		for _, h := range hs {
			h(env)
		}
	}
}

func (s *fakeSignaler) sentOfType(t domain.EventType) []*domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Envelope
	for _, env := range s.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (s *fakeSignaler) sentTypes() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, 0, len(s.sent))
	for _, env := range s.sent {
		out = append(out, env.Type)
	}
	return out
}

type fakeMedia struct {
	video bool
	stops atomic.Int32
}

func (m *fakeMedia) HasVideo() bool { return m.video }
func (m *fakeMedia) Stop()          { m.stops.Add(1) }

type fakeTrack struct {
	id   string
	kind domain.MediaType

	mu      sync.Mutex
	deliver func([]byte)
	stops   int
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.MediaType { return t.kind }

func (t *fakeTrack) Start(fn func([]byte)) {
	t.mu.Lock()
	t.deliver = fn
	t.mu.Unlock()
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.deliver = nil
	t.mu.Unlock()
}

// write feeds one payload as if read from the network
func (t *fakeTrack) write(payload string) {
	t.mu.Lock()
	fn := t.deliver
	t.mu.Unlock()
	if fn != nil {
		fn([]byte(payload))
	}
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeSource struct {
	mu        sync.Mutex
	videoErr  error
	audioErr  error
	gate      chan struct{}
	acquired  []*fakeMedia
	requested []bool
}

func (f *fakeSource) Acquire(ctx context.Context, video bool) (LocalMedia, error) {
	f.mu.Lock()
	f.requested = append(f.requested, video)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if video && f.videoErr != nil {
		return nil, f.videoErr
	}
	if f.audioErr != nil {
		return nil, f.audioErr
	}
	m := &fakeMedia{video: video}
	f.mu.Lock()
	f.acquired = append(f.acquired, m)
	f.mu.Unlock()
	return m, nil
}

func (f *fakeSource) last() *fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.acquired) == 0 {
		return nil
	}
	return f.acquired[len(f.acquired)-1]
}

var errNoRemote = errors.New("remote description not set")

type fakeNegotiator struct {
	name string

	mu          sync.Mutex
	remote      *domain.SessionDescription
	applied     []string
	earlyAdds   int
	enabled     map[domain.MediaType]bool
	closes      int
	onCandidate func(domain.ICECandidate)
	onTransport func(TransportState)
	onTrack     func(RemoteTrack)
	// gathered are emitted while the offer or answer is created
	gathered []string
}

func (n *fakeNegotiator) AddLocalMedia(LocalMedia) error { return nil }

func (n *fakeNegotiator) CreateOffer(context.Context) (domain.SessionDescription, error) {
	n.gather()
	return domain.SessionDescription{Type: "offer", SDP: "offer-from-" + n.name}, nil
}

func (n *fakeNegotiator) CreateAnswer(context.Context) (domain.SessionDescription, error) {
	n.gather()
	return domain.SessionDescription{Type: "answer", SDP: "answer-from-" + n.name}, nil
}

func (n *fakeNegotiator) gather() {
	n.mu.Lock()
	fn, cands := n.onCandidate, n.gathered
	n.mu.Unlock()
	for _, c := range cands {
		fn(domain.ICECandidate{Candidate: c})
	}
}

func (n *fakeNegotiator) SetRemoteDescription(sd domain.SessionDescription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.remote = &sd
	return nil
}

func (n *fakeNegotiator) AddICECandidate(c domain.ICECandidate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.remote == nil {
		n.earlyAdds++
		return errNoRemote
	}
	n.applied = append(n.applied, c.Candidate)
	return nil
}

func (n *fakeNegotiator) SetTrackEnabled(kind domain.MediaType, enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.enabled == nil {
		n.enabled = make(map[domain.MediaType]bool)
	}
	n.enabled[kind] = enabled
	return nil
}

func (n *fakeNegotiator) OnICECandidate(fn func(domain.ICECandidate)) {
	n.mu.Lock()
	n.onCandidate = fn
	n.mu.Unlock()
}

func (n *fakeNegotiator) OnTransportState(fn func(TransportState)) {
	n.mu.Lock()
	n.onTransport = fn
	n.mu.Unlock()
}

func (n *fakeNegotiator) OnRemoteTrack(fn func(RemoteTrack)) {
	n.mu.Lock()
	n.onTrack = fn
	n.mu.Unlock()
}

func (n *fakeNegotiator) Close() error {
	n.mu.Lock()
	n.closes++
	n.mu.Unlock()
	return nil
}

// emit simulates the transport or a trickled candidate
func (n *fakeNegotiator) transport(ts TransportState) {
	n.mu.Lock()
	fn := n.onTransport
	n.mu.Unlock()
	fn(ts)
}

// track simulates the peer's media arriving
func (n *fakeNegotiator) track(kind domain.MediaType) *fakeTrack {
	t := &fakeTrack{id: string(kind) + "-" + n.name, kind: kind}
	n.mu.Lock()
	fn := n.onTrack
	n.mu.Unlock()
	fn(t)
	return t
}

func (n *fakeNegotiator) candidate(c string) {
	n.mu.Lock()
	fn := n.onCandidate
	n.mu.Unlock()
	fn(domain.ICECandidate{Candidate: c})
}

func (n *fakeNegotiator) appliedCandidates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.applied...)
}

// factory hands out negotiators and remembers them
type factory struct {
	name     string
	gathered []string
	mu       sync.Mutex
	made     []*fakeNegotiator
}

func (f *factory) New() (Negotiator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := &fakeNegotiator{name: fmt.Sprintf("%s-%d", f.name, len(f.made)), gathered: f.gathered}
	f.made = append(f.made, n)
	return n, nil
}

func (f *factory) last() *fakeNegotiator {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.made) == 0 {
		return nil
	}
	return f.made[len(f.made)-1]
}

func videoBusy() error {
	return apperrors.DeviceBusyError(errors.New("camera in use"))
}
