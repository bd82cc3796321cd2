package call

import (
	"sync"
	"sync/atomic"

	"wayfarer-backend/internal/domain"
)

// RemoteTrack is one track received from the peer.
type RemoteTrack interface {
	ID() string
	Kind() domain.MediaType
	// Start delivers each received payload to fn until Stop.
	Start(fn func(payload []byte))
	Stop()
}

// Sink consumes remote media payloads, e.g. an audio output device.
type Sink func(kind domain.MediaType, payload []byte)

// RemoteStream is the peer's media for one call. It is the call's playback
// source: payloads reach the sink only while it holds the speaker.
type RemoteStream struct {
	name string
	sink Sink

	mu      sync.Mutex
	tracks  []RemoteTrack
	playing bool
	stopped bool

	received atomic.Int64
}

func newRemoteStream(name string, sink Sink) *RemoteStream {
	return &RemoteStream{name: name, sink: sink}
}

func (r *RemoteStream) Name() string { return r.name }

func (r *RemoteStream) Play() error {
	r.mu.Lock()
	r.playing = !r.stopped
	r.mu.Unlock()
	return nil
}

func (r *RemoteStream) Pause() {
	r.mu.Lock()
	r.playing = false
	r.mu.Unlock()
}

// Tracks returns the tracks received so far.
func (r *RemoteStream) Tracks() []RemoteTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteTrack(nil), r.tracks...)
}

// HasVideo reports whether the peer sends video.
func (r *RemoteStream) HasVideo() bool {
	for _, t := range r.Tracks() {
		if t.Kind() == domain.MediaVideo {
			return true
		}
	}
	return false
}

// Received counts payloads read from all tracks, played or not.
func (r *RemoteStream) Received() int64 { return r.received.Load() }

func (r *RemoteStream) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// add takes ownership of t. A track arriving after Stop is stopped at once.
func (r *RemoteStream) add(t RemoteTrack) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		t.Stop()
		return false
	}
	r.tracks = append(r.tracks, t)
	r.mu.Unlock()

	kind := t.Kind()
	t.Start(func(payload []byte) { r.deliver(kind, payload) })
	return true
}

func (r *RemoteStream) deliver(kind domain.MediaType, payload []byte) {
	r.received.Add(1)
	r.mu.Lock()
	playing := r.playing
	r.mu.Unlock()
	if playing && r.sink != nil {
		r.sink(kind, payload)
	}
}

// Stop stops every track. Safe to call more than once.
func (r *RemoteStream) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.playing = false
	tracks := r.tracks
	r.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
	}
}
