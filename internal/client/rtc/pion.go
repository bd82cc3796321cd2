// Package rtc implements call negotiation on a pion PeerConnection.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"wayfarer-backend/internal/client/call"
	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/logger"
)

type Config struct {
	ICEServers []string
	// ICE consent timeouts; a relayed path can stall for a few seconds during failover
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	// IncludeLoopback gathers 127.0.0.1 candidates, for two clients on one host
	IncludeLoopback bool
}

func DefaultConfig() Config {
	return Config{
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 10 * time.Second,
		FailedTimeout:       30 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Factory builds peer connections that share one API (codecs, interceptors).
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewFactory registers codecs through populate, typically the media
// source's encoders, plus the default interceptors (NACK, RTCP reports, TWCC).
func NewFactory(cfg Config, populate func(*webrtc.MediaEngine) error) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := populate(mediaEngine); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settings := webrtc.SettingEngine{}
	settings.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	settings.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(settings),
		),
		config: webrtc.Configuration{ICEServers: servers},
	}, nil
}

// New satisfies call.NegotiatorFactory.
func (f *Factory) New() (call.Negotiator, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &PeerConnection{pc: pc, senders: make(map[domain.MediaType]*sender)}, nil
}

type sender struct {
	rtp   *webrtc.RTPSender
	track webrtc.TrackLocal
}

type PeerConnection struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[domain.MediaType]*sender
}

type trackSource interface {
	LocalTracks() []webrtc.TrackLocal
}

func (p *PeerConnection) AddLocalMedia(media call.LocalMedia) error {
	var tracks []webrtc.TrackLocal
	if src, ok := media.(trackSource); ok {
		tracks = src.LocalTracks()
	}
	if len(tracks) == 0 {
		// receive-only: still offer an audio m-line so ICE has something to carry
		_, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, track := range tracks {
		rtp, err := p.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(rtp)
		p.senders[kindOf(track.Kind())] = &sender{rtp: rtp, track: track}
	}
	return nil
}

// drainRTCP reads sender reports so interceptors keep running
func drainRTCP(rtp *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := rtp.Read(buf); err != nil {
			return
		}
	}
}

func (p *PeerConnection) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local offer: %w", err)
	}
	return toDomain(offer), nil
}

func (p *PeerConnection) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local answer: %w", err)
	}
	return toDomain(answer), nil
}

func (p *PeerConnection) SetRemoteDescription(sd domain.SessionDescription) error {
	typ := webrtc.NewSDPType(sd.Type)
	if typ == webrtc.SDPTypeUnknown {
		return fmt.Errorf("unknown sdp type %q", sd.Type)
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sd.SDP})
}

func (p *PeerConnection) AddICECandidate(c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// SetTrackEnabled swaps the sender's track for silence and back, which
// needs no renegotiation.
func (p *PeerConnection) SetTrackEnabled(kind domain.MediaType, enabled bool) error {
	p.mu.Lock()
	s := p.senders[kind]
	p.mu.Unlock()
	if s == nil {
		return fmt.Errorf("no local %s track", kind)
	}
	if enabled {
		return s.rtp.ReplaceTrack(s.track)
	}
	return s.rtp.ReplaceTrack(nil)
}

func (p *PeerConnection) OnICECandidate(fn func(domain.ICECandidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		init := c.ToJSON()
		fn(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (p *PeerConnection) OnTransportState(fn func(call.TransportState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Debug("Peer connection state", zap.String("state", s.String()))
		fn(transportState(s))
	})
}

// OnRemoteTrack reports each track the peer sends. Reading starts when the
// call takes the track.
func (p *PeerConnection) OnRemoteTrack(fn func(call.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		logger.Debug("Remote track",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType))
		fn(&remoteTrack{track: track, receiver: receiver, done: make(chan struct{})})
	})
}

func (p *PeerConnection) Close() error {
	err := p.pc.Close()
	if errors.Is(err, webrtc.ErrConnectionClosed) {
		return nil
	}
	return err
}

type remoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	done     chan struct{}
	once     sync.Once
}

func (r *remoteTrack) ID() string             { return r.track.ID() }
func (r *remoteTrack) Kind() domain.MediaType { return kindOf(r.track.Kind()) }

func (r *remoteTrack) Start(fn func([]byte)) {
	go func() {
		for {
			pkt, _, err := r.track.ReadRTP()
			if err != nil {
				return
			}
			select {
			case <-r.done:
				return
			default:
			}
			fn(pkt.Payload)
		}
	}()
}

// Stop ends reading; a pending ReadRTP returns once the receiver stops.
func (r *remoteTrack) Stop() {
	r.once.Do(func() {
		close(r.done)
		if err := r.receiver.Stop(); err != nil {
			logger.Debug("Remote track stop", zap.Error(err))
		}
	})
}

func transportState(s webrtc.PeerConnectionState) call.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return call.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return call.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return call.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return call.TransportClosed
	default:
		return call.TransportConnecting
	}
}

func kindOf(k webrtc.RTPCodecType) domain.MediaType {
	if k == webrtc.RTPCodecTypeVideo {
		return domain.MediaVideo
	}
	return domain.MediaAudio
}

func toDomain(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}
