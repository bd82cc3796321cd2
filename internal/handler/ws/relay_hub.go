package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/internal/middleware"
	"wayfarer-backend/internal/service/chat"
	"wayfarer-backend/internal/service/presence"
	"wayfarer-backend/pkg/constants"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/metrics"
)

// Bus carries relay frames between nodes
type Bus interface {
	Name() string
	Publish(ctx context.Context, frame []byte) error
	Subscribe(ctx context.Context, handle func([]byte)) error
	Close() error
}

// MessageSender persists and delivers chat messages
type MessageSender interface {
	SendMessage(ctx context.Context, input *chat.SendMessageInput) (*domain.Message, error)
}

// CallLog records call signaling as it passes through
type CallLog interface {
	RecordInvite(ctx context.Context, callerID, calleeID uuid.UUID, media domain.MediaType) error
	RecordAccept(ctx context.Context, calleeID, callerID uuid.UUID) error
	RecordTerminate(ctx context.Context, fromID, toID uuid.UUID, reason domain.TerminateReason) error
	RecordUnreachable(ctx context.Context, callerID, calleeID uuid.UUID, media domain.MediaType) error
}

type HubConfig struct {
	NodeID         string
	MaxConnections int
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

func (c *HubConfig) setDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 1000
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = constants.WebSocketPingInterval
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval + c.PingInterval/9
	}
	if c.WriteWait <= 0 {
		c.WriteWait = constants.WebSocketWriteWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
}

// delivery is where a forwarded envelope went
type delivery string

const (
	deliveredLocal delivery = "local"
	deliveredBus   delivery = "bus"
	targetOffline  delivery = "offline"
)

// busFrame wraps an envelope on the cluster bus
type busFrame struct {
	Node     string           `json:"node"`
	Envelope *domain.Envelope `json:"envelope"`
}

// RelayHub routes signaling, typing and chat envelopes between connected users.
type RelayHub struct {
	cfg      HubConfig
	registry *presence.Registry
	chat     MessageSender
	calls    CallLog
	bus      Bus
	metrics  *metrics.Metrics

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	// callEvents serializes call log writes in signaling order
	callEvents chan callEvent

	// semaphore bounds concurrent connections
	semaphore chan struct{}
	upgrader  websocket.Upgrader
}

type HubOption func(*RelayHub)

func WithCallLog(calls CallLog) HubOption {
	return func(h *RelayHub) { h.calls = calls }
}

func WithBus(bus Bus) HubOption {
	return func(h *RelayHub) { h.bus = bus }
}

func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *RelayHub) { h.metrics = m }
}

// NewRelayHub starts the hub loop. Call Shutdown to stop it.
func NewRelayHub(cfg HubConfig, registry *presence.Registry, sender MessageSender, opts ...HubOption) *RelayHub {
	cfg.setDefaults()
	h := &RelayHub{
		cfg:        cfg,
		registry:   registry,
		chat:       sender,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		semaphore:  make(chan struct{}, cfg.MaxConnections),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	go h.run()
	if h.calls != nil {
		h.callEvents = make(chan callEvent, 1024)
		go h.runCallLog()
	}
	return h
}

// checkOrigin admits non-browser clients (no Origin) and configured origins
func (h *RelayHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// Start subscribes to the cluster bus, if any
func (h *RelayHub) Start(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Subscribe(ctx, h.onBusFrame)
}

// Shutdown closes every connection and stops the hub loop
func (h *RelayHub) Shutdown() {
	h.stopOnce.Do(func() {
		h.registry.CloseAll()
		close(h.done)
		if h.bus != nil {
			if err := h.bus.Close(); err != nil {
				logger.Warn("Failed to close relay bus", zap.Error(err))
			}
		}
	})
}

func (h *RelayHub) run() {
	ctx := context.Background()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.registry.Register(ctx, client.userID, client)
			h.connectionsChanged(ctx)
			logger.Debug("Relay client registered", zap.String("user_id", client.userID.String()))

		case client := <-h.unregister:
			if h.registry.Deregister(ctx, client.userID, client) {
				h.connectionsChanged(ctx)
				logger.Debug("Relay client unregistered", zap.String("user_id", client.userID.String()))
			}
		}
	}
}

// connectionsChanged tells every local client and every other node about the new online set
func (h *RelayHub) connectionsChanged(ctx context.Context) {
	if h.metrics != nil {
		h.metrics.SetWebSocketConnections(h.registry.Count())
	}
	h.broadcastSnapshot(ctx)
	if h.bus != nil {
		h.publish(ctx, &domain.Envelope{Type: domain.EventPresenceSnapshot})
	}
}

func (h *RelayHub) broadcastSnapshot(ctx context.Context) {
	h.registry.Broadcast(&domain.Envelope{
		Type:      domain.EventPresenceSnapshot,
		Online:    h.registry.Online(ctx),
		Timestamp: time.Now().UTC(),
	})
}

// ServeWS upgrades an authenticated request to a relay connection
func (h *RelayHub) ServeWS(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.cfg.MaxConnections))
		if h.metrics != nil {
			h.metrics.RecordWebSocketError("capacity")
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed", zap.String("user_id", userID.String()), zap.Error(err))
		if h.metrics != nil {
			h.metrics.RecordWebSocketError("upgrade")
		}
		return
	}

	client := newClient(h, conn, userID)
	select {
	case h.register <- client:
	case <-h.done:
		<-h.semaphore
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// route handles one envelope read from client c
func (h *RelayHub) route(ctx context.Context, c *Client, env *domain.Envelope) {
	if h.metrics != nil {
		h.metrics.RecordWebSocketMessage(string(env.Type), "in")
	}

	switch env.Type {
	case domain.EventInvite, domain.EventAccept, domain.EventICECandidate, domain.EventTerminate, domain.EventTyping:
		h.forward(ctx, c, env)
	case domain.EventNewMessage:
		h.handleNewMessage(ctx, c, env)
	default:
		metrics.RelayEnvelopesTotal.WithLabelValues("unknown", "invalid").Inc()
		c.Send(&domain.Envelope{Type: domain.EventError, RequestID: env.RequestID, Error: "unknown event type: " + string(env.Type)})
	}
}

// forward stamps the sender and passes the envelope on verbatim
func (h *RelayHub) forward(ctx context.Context, c *Client, env *domain.Envelope) {
	if env.To == uuid.Nil || env.To == c.userID {
		metrics.RelayEnvelopesTotal.WithLabelValues(string(env.Type), "invalid").Inc()
		c.Send(&domain.Envelope{Type: domain.EventError, RequestID: env.RequestID, Error: "invalid target"})
		return
	}

	incoming, _ := env.Type.Incoming()
	out := *env
	out.Type = incoming
	out.From = c.userID
	out.Message = nil
	out.Online = nil
	out.Timestamp = time.Now().UTC()

	result := h.Deliver(ctx, &out)
	metrics.RelayEnvelopesTotal.WithLabelValues(string(env.Type), string(result)).Inc()

	if result == targetOffline && env.Type != domain.EventTyping {
		c.Send(&domain.Envelope{Type: domain.EventTargetOffline, To: env.To, RequestID: env.RequestID})
	}
	h.recordCall(c.userID, env, result)
}

func (h *RelayHub) handleNewMessage(ctx context.Context, c *Client, env *domain.Envelope) {
	fail := func(reason string) {
		metrics.RelayEnvelopesTotal.WithLabelValues(string(env.Type), "failed").Inc()
		c.Send(&domain.Envelope{Type: domain.EventMessageFailed, RequestID: env.RequestID, To: env.To, Error: reason})
	}
	if h.chat == nil {
		fail("chat unavailable")
		return
	}
	if env.Message == nil {
		fail("message required")
		return
	}

	msg, err := h.chat.SendMessage(ctx, &chat.SendMessageInput{
		SenderID:    c.userID,
		RecipientID: env.To,
		Content: domain.Content{
			Type:       env.Message.Type,
			Body:       env.Message.Body,
			Attachment: env.Message.Attachment,
		},
	})
	if err != nil {
		logger.Debug("Message rejected",
			zap.String("user_id", c.userID.String()),
			zap.String("request_id", env.RequestID),
			zap.Error(err))
		fail(errorText(err))
		return
	}

	metrics.RelayEnvelopesTotal.WithLabelValues(string(env.Type), "stored").Inc()
	c.Send(&domain.Envelope{Type: domain.EventMessageAck, RequestID: env.RequestID, To: env.To, Message: msg})
}

// DeliverMessage implements chat.Deliverer
func (h *RelayHub) DeliverMessage(ctx context.Context, msg *domain.Message) bool {
	return h.Deliver(ctx, &domain.Envelope{
		Type:      domain.EventIncomingMessage,
		From:      msg.SenderID,
		To:        msg.RecipientID,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	}) != targetOffline
}

// Deliver hands env to env.To on this node, or on another node through the bus.
func (h *RelayHub) Deliver(ctx context.Context, env *domain.Envelope) delivery {
	if target, ok := h.registry.Lookup(env.To); ok {
		if target.Send(env) {
			if h.metrics != nil {
				h.metrics.RecordWebSocketMessage(string(env.Type), "out")
			}
			return deliveredLocal
		}
		return targetOffline
	}
	if h.bus != nil && h.registry.IsOnline(ctx, env.To) {
		if h.publish(ctx, env) {
			return deliveredBus
		}
	}
	return targetOffline
}

func (h *RelayHub) publish(ctx context.Context, env *domain.Envelope) bool {
	frame, err := json.Marshal(busFrame{Node: h.cfg.NodeID, Envelope: env})
	if err != nil {
		logger.Error("Failed to encode bus frame", zap.Error(err))
		return false
	}
	if err := h.bus.Publish(ctx, frame); err != nil {
		metrics.RelayBusPublishTotal.WithLabelValues(h.bus.Name(), "error").Inc()
		logger.Warn("Failed to publish to relay bus", zap.String("bus", h.bus.Name()), zap.Error(err))
		return false
	}
	metrics.RelayBusPublishTotal.WithLabelValues(h.bus.Name(), "success").Inc()
	return true
}

func (h *RelayHub) onBusFrame(raw []byte) {
	var frame busFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Envelope == nil {
		logger.Warn("Dropping malformed bus frame", zap.Error(err))
		return
	}
	if frame.Node == h.cfg.NodeID {
		return
	}
	metrics.RelayBusReceivedTotal.WithLabelValues(h.bus.Name()).Inc()

	env := frame.Envelope
	if env.Type == domain.EventPresenceSnapshot {
		h.broadcastSnapshot(context.Background())
		return
	}
	if target, ok := h.registry.Lookup(env.To); ok {
		target.Send(env)
	}
}

type callEvent struct {
	eventType domain.EventType
	from      uuid.UUID
	record    func(context.Context) error
}

// recordCall queues a call log write without holding up the sender's read loop
func (h *RelayHub) recordCall(from uuid.UUID, env *domain.Envelope, result delivery) {
	if h.calls == nil {
		return
	}
	to, media, reason := env.To, env.MediaType, env.Reason

	var record func(context.Context) error
	switch env.Type {
	case domain.EventInvite:
		if result == targetOffline {
			record = func(ctx context.Context) error { return h.calls.RecordUnreachable(ctx, from, to, media) }
		} else {
			record = func(ctx context.Context) error { return h.calls.RecordInvite(ctx, from, to, media) }
		}
	case domain.EventAccept:
		record = func(ctx context.Context) error { return h.calls.RecordAccept(ctx, from, to) }
	case domain.EventTerminate:
		record = func(ctx context.Context) error { return h.calls.RecordTerminate(ctx, from, to, reason) }
	default:
		return
	}

	select {
	case h.callEvents <- callEvent{eventType: env.Type, from: from, record: record}:
	default:
		metrics.CallLogEventsTotal.WithLabelValues(string(env.Type), "dropped").Inc()
		logger.Warn("Call log queue full, dropping event", zap.String("type", string(env.Type)))
	}
}

func (h *RelayHub) runCallLog() {
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.callEvents:
			ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
			if err := ev.record(ctx); err != nil {
				logger.Warn("Failed to record call event",
					zap.String("type", string(ev.eventType)),
					zap.String("user_id", ev.from.String()),
					zap.Error(err))
			}
			cancel()
		}
	}
}

func errorText(err error) string {
	if apperrors.IsAppError(err) {
		return apperrors.GetAppError(err).Message
	}
	return "message could not be sent"
}
