// Package signaling is the client end of the relay websocket. One Conn is
// owned per session and injected into the call manager and the chat store.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/constants"
	"wayfarer-backend/pkg/logger"
)

// ErrClosed is returned by Send and Request once the connection is gone
var ErrClosed = errors.New("signaling connection closed")

// Handler receives inbound envelopes. Handlers run on the read goroutine in
// arrival order and must not block.
type Handler = func(*domain.Envelope)

type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers map[domain.EventType]map[uint64]Handler
	nextID   uint64
	pending  map[string]chan *domain.Envelope

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects to the relay at url, authenticating with a bearer token.
func Dial(ctx context.Context, url, token string) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: constants.WebSocketWriteWait}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial relay (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}
	return New(ws), nil
}

// New takes ownership of an established websocket and starts reading.
func New(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:       ws,
		handlers: make(map[domain.EventType]map[uint64]Handler),
		pending:  make(map[string]chan *domain.Envelope),
		done:     make(chan struct{}),
	}
	ws.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(constants.WebSocketWriteWait))
	})
	go c.readLoop()
	return c
}

// On subscribes h to one event type and returns the unsubscribe func.
func (c *Conn) On(t domain.EventType, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[t] == nil {
		c.handlers[t] = make(map[uint64]Handler)
	}
	c.handlers[t][id] = h
	return func() {
		c.mu.Lock()
		delete(c.handlers[t], id)
		c.mu.Unlock()
	}
}

// Send writes one envelope.
func (c *Conn) Send(env *domain.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}
	return nil
}

// Request sends env with a fresh request id and waits for the matching
// message_ack or message_failed.
func (c *Conn) Request(ctx context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	env.RequestID = uuid.NewString()
	reply := make(chan *domain.Envelope, 1)

	c.mu.Lock()
	c.pending[env.RequestID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.RequestID)
		c.mu.Unlock()
	}()

	if err := c.Send(env); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Done is closed when the read loop stops.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection closed.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(constants.WebSocketWriteWait))
	c.writeMu.Unlock()
	err := c.ws.Close()
	c.shutdown(ErrClosed)
	return err
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Conn) readLoop() {
	defer c.ws.Close()
	for {
		var env domain.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Relay connection lost", zap.Error(err))
			}
			c.shutdown(err)
			return
		}
		c.dispatch(&env)
	}
}

func (c *Conn) dispatch(env *domain.Envelope) {
	c.mu.RLock()
	if env.RequestID != "" && (env.Type == domain.EventMessageAck || env.Type == domain.EventMessageFailed) {
		if reply, ok := c.pending[env.RequestID]; ok {
			c.mu.RUnlock()
			reply <- env
			return
		}
	}
	handlers := make([]Handler, 0, len(c.handlers[env.Type]))
	for _, h := range c.handlers[env.Type] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	if len(handlers) == 0 {
		logger.Debug("Unhandled relay event", zap.String("type", string(env.Type)))
	}
	for _, h := range handlers {
		h(env)
	}
}
