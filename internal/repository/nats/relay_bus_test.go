package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live server: NATS_TEST_URL=nats://localhost:4222 go test ./...
func TestRelayBus_PublishSubscribe(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}

	bus, err := NewRelayBus(Config{
		URL:           url,
		Subject:       "relay.test." + t.Name(),
		MaxReconnects: 1,
		ReconnectWait: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	assert.True(t, bus.Healthy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	require.NoError(t, bus.Subscribe(ctx, func(frame []byte) { received <- frame }))
	require.NoError(t, bus.Publish(ctx, []byte("hello")))

	select {
	case frame := <-received:
		assert.Equal(t, "hello", string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}
}

func TestNewRelayBus_Unreachable(t *testing.T) {
	_, err := NewRelayBus(Config{URL: "nats://127.0.0.1:1", Subject: "x"})
	assert.Error(t, err)
}
