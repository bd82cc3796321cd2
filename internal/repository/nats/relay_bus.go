package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"wayfarer-backend/pkg/logger"
)

type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// RelayBus fans relay frames out to every node over a NATS subject
type RelayBus struct {
	conn    *nats.Conn
	subject string

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewRelayBus(cfg Config) (*RelayBus, error) {
	opts := []nats.Option{
		nats.Name("wayfarer-relay"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &RelayBus{conn: conn, subject: cfg.Subject}, nil
}

func (b *RelayBus) Name() string { return "nats" }

func (b *RelayBus) Publish(_ context.Context, frame []byte) error {
	if err := b.conn.Publish(b.subject, frame); err != nil {
		return fmt.Errorf("failed to publish relay frame: %w", err)
	}
	return nil
}

// Subscribe delivers every frame on the subject to handle until ctx is done
func (b *RelayBus) Subscribe(ctx context.Context, handle func([]byte)) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		handle(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("failed to confirm subscription: %w", err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe()
	}()

	logger.Info("Subscribed to relay bus", zap.String("bus", "nats"), zap.String("subject", b.subject))
	return nil
}

func (b *RelayBus) unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		b.sub.Unsubscribe()
		b.sub = nil
	}
}

// Close drains pending frames and closes the connection
func (b *RelayBus) Close() error {
	b.unsubscribe()
	return b.conn.Drain()
}

// Healthy reports whether the connection is usable
func (b *RelayBus) Healthy() bool {
	return b.conn.IsConnected()
}
