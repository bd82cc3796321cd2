package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wayfarer-backend/internal/database"
	"wayfarer-backend/pkg/logger"
)

// RelayBus fans relay frames out to every node over a Redis pub/sub channel
type RelayBus struct {
	client  *database.RedisClient
	channel string

	mu     sync.Mutex
	pubsub *goredis.PubSub
}

func NewRelayBus(client *database.RedisClient, channel string) *RelayBus {
	return &RelayBus{client: client, channel: channel}
}

func (b *RelayBus) Name() string { return "redis" }

func (b *RelayBus) Publish(ctx context.Context, frame []byte) error {
	if b.client.IsDegraded() {
		return database.ErrDegraded
	}
	if err := b.client.Client.Publish(ctx, b.channel, frame).Err(); err != nil {
		return fmt.Errorf("failed to publish relay frame: %w", err)
	}
	return nil
}

// Subscribe calls handle for every frame until ctx is done or Close is called.
// It returns once the subscription is confirmed.
func (b *RelayBus) Subscribe(ctx context.Context, handle func([]byte)) error {
	pubsub := b.client.Client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handle([]byte(msg.Payload))
			}
		}
	}()

	logger.Info("Subscribed to relay bus", zap.String("bus", "redis"), zap.String("channel", b.channel))
	return nil
}

func (b *RelayBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}
