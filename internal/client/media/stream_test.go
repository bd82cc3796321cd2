package media

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func track(t *testing.T, mime, id string) webrtc.TrackLocal {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "local")
	require.NoError(t, err)
	return tr
}

func TestStream_DetectsVideo(t *testing.T) {
	audioOnly := NewStream([]webrtc.TrackLocal{track(t, webrtc.MimeTypeOpus, "mic")}, nil)
	assert.False(t, audioOnly.HasVideo())

	both := NewStream([]webrtc.TrackLocal{
		track(t, webrtc.MimeTypeOpus, "mic"),
		track(t, webrtc.MimeTypeVP8, "cam"),
	}, nil)
	assert.True(t, both.HasVideo())
	assert.Len(t, both.LocalTracks(), 2)
}

func TestStream_StopsOnce(t *testing.T) {
	stops := 0
	s := NewStream(nil, func() { stops++ })
	s.Stop()
	s.Stop()
	assert.Equal(t, 1, stops)

	NewStream(nil, nil).Stop()
}
