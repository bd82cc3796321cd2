package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/metrics"
)

// Client is one relay websocket connection
type Client struct {
	hub    *RelayHub
	conn   *websocket.Conn
	send   chan *domain.Envelope
	userID uuid.UUID

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *RelayHub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan *domain.Envelope, hub.cfg.SendBuffer),
		userID: userID,
		done:   make(chan struct{}),
	}
}

// Send queues env for the writer. A full queue means the peer is not reading;
// the connection is closed rather than letting it stall the relay.
func (c *Client) Send(env *domain.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		metrics.RelaySlowConsumerTotal.Inc()
		logger.Warn("Dropping slow relay client", zap.String("user_id", c.userID.String()))
		c.Close()
		return false
	}
}

// Close stops the writer, which closes the socket and ends the reader
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.Close()
		c.conn.Close()
		<-c.hub.semaphore
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		c.hub.registry.Refresh(context.Background(), c.userID)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			if c.hub.metrics != nil {
				c.hub.metrics.RecordWebSocketError("decode")
			}
			c.Send(&domain.Envelope{Type: domain.EventError, Error: "invalid envelope"})
			continue
		}

		c.hub.route(context.Background(), c, &env)
	}
}

func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			data, err := json.Marshal(env)
			if err != nil {
				logger.Error("Failed to encode envelope", zap.String("type", string(env.Type)), zap.Error(err))
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
