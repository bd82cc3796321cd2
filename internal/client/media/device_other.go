//go:build !linux

package media

import (
	"context"

	"github.com/pion/webrtc/v4"

	"wayfarer-backend/internal/client/call"
	"wayfarer-backend/pkg/logger"
)

// Source has no capture drivers off Linux. Calls run receive-only.
type Source struct{}

func NewSource() (*Source, error) {
	logger.Warn("No media capture on this platform, calls are receive-only")
	return &Source{}, nil
}

func (s *Source) Populate(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (s *Source) Acquire(ctx context.Context, _ bool) (call.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewStream(nil, nil), nil
}
