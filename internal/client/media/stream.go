// Package media captures the local microphone and camera for calls.
package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Stream is captured local media. It is owned by one call and stopped once.
type Stream struct {
	tracks []webrtc.TrackLocal
	video  bool
	stop   func()
	once   sync.Once
}

// NewStream wraps tracks; stop releases the devices behind them and may be nil.
func NewStream(tracks []webrtc.TrackLocal, stop func()) *Stream {
	s := &Stream{tracks: tracks, stop: stop}
	for _, t := range tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			s.video = true
		}
	}
	return s
}

func (s *Stream) HasVideo() bool { return s.video }

// LocalTracks is empty for a receive-only stream.
func (s *Stream) LocalTracks() []webrtc.TrackLocal { return s.tracks }

func (s *Stream) Stop() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
