//go:build linux

package media

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"wayfarer-backend/internal/client/call"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/logger"
)

// Source captures from V4L2 cameras and the default microphone.
type Source struct {
	codecs *mediadevices.CodecSelector
}

func NewSource() (*Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to init vp8 encoder: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to init opus encoder: %w", err)
	}

	for _, d := range mediadevices.EnumerateDevices() {
		logger.Debug("Media device", zap.String("kind", fmt.Sprint(d.Kind)), zap.String("label", d.Label))
	}

	return &Source{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Populate registers the encoders' codecs with a peer connection media engine.
func (s *Source) Populate(m *webrtc.MediaEngine) error {
	s.codecs.Populate(m)
	return nil
}

// Acquire opens the microphone, and the camera when video is set. Capture
// is not cancellable, so a result that arrives after ctx is done is closed.
func (s *Source) Acquire(ctx context.Context, video bool) (call.LocalMedia, error) {
	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		stream, err := mediadevices.GetUserMedia(s.constraints(video))
		ch <- result{stream, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if video {
				return nil, apperrors.DeviceBusyError(r.err)
			}
			return nil, apperrors.MediaUnavailableError(r.err)
		}
		return wrap(r.stream), nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				wrap(r.stream).Stop()
			}
		}()
		return nil, ctx.Err()
	}
}

func (s *Source) constraints(video bool) mediadevices.MediaStreamConstraints {
	c := mediadevices.MediaStreamConstraints{
		Codec: s.codecs,
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	}
	if video {
		c.Video = func(t *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some webcams emit frames the VP8 encoder rejects
			t.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			t.Width = prop.IntRanged{Max: 640}
			t.Height = prop.IntRanged{Max: 480}
		}
	}
	return c
}

func wrap(stream mediadevices.MediaStream) *Stream {
	tracks := stream.GetTracks()
	locals := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		t.OnEnded(func(err error) {
			if err != nil {
				logger.Warn("Local track ended", zap.String("track_id", t.ID()), zap.Error(err))
			}
		})
		locals = append(locals, t)
	}
	return NewStream(locals, func() {
		for _, t := range tracks {
			if err := t.Close(); err != nil {
				logger.Debug("Track close", zap.Error(err))
			}
		}
	})
}
