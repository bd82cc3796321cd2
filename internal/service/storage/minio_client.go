package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"wayfarer-backend/pkg/logger"
)

// ErrCircuitOpen is returned while MinIO is considered down
var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerHalfOpen
	CircuitBreakerOpen
)

type CircuitBreakerConfig struct {
	MaxFailures  int
	Timeout      time.Duration
	ResetTimeout time.Duration
}

func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:  5,
		Timeout:      10 * time.Second,
		ResetTimeout: 30 * time.Second,
	}
}

// MinioClient wraps the MinIO calls the attachment service needs with a
// timeout and a circuit breaker on the network round trips.
type MinioClient struct {
	client *minio.Client
	config *CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	lastFailure time.Time
}

func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool) (*MinioClient, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &MinioClient{
		client: minioClient,
		config: DefaultCircuitBreakerConfig(),
		state:  CircuitBreakerClosed,
	}, nil
}

func (c *MinioClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	var exists bool
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		exists, err = c.client.BucketExists(ctx, bucketName)
		return err
	})
	return exists, err
}

// StatObject reports whether objectName exists. A missing object is not a breaker failure.
func (c *MinioClient) StatObject(ctx context.Context, bucketName, objectName string) (bool, error) {
	var exists bool
	err := c.call(ctx, func(ctx context.Context) error {
		_, err := c.client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
		if err == nil {
			exists = true
			return nil
		}
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return err
	})
	return exists, err
}

// PresignedGetObject signs locally and never opens the breaker
func (c *MinioClient) PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	return c.client.PresignedGetObject(ctx, bucketName, objectName, expires, reqParams)
}

func (c *MinioClient) call(ctx context.Context, fn func(context.Context) error) error {
	if !c.allow() {
		return ErrCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := fn(callCtx); err != nil {
		c.onFailure(err)
		return err
	}
	c.onSuccess()
	return nil
}

// allow lets a single probe through once ResetTimeout has passed since the last failure
func (c *MinioClient) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case CircuitBreakerOpen:
		if time.Since(c.lastFailure) < c.config.ResetTimeout {
			return false
		}
		c.state = CircuitBreakerHalfOpen
		return true
	default:
		return true
	}
}

func (c *MinioClient) onSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.state = CircuitBreakerClosed
	c.lastFailure = time.Time{}
}

func (c *MinioClient) onFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.lastFailure = time.Now()

	logger.Warn("MinIO operation failed", zap.Error(err), zap.Int("failures", c.failures))

	if c.state == CircuitBreakerHalfOpen || c.failures >= c.config.MaxFailures {
		if c.state != CircuitBreakerOpen {
			logger.Error("MinIO circuit breaker opened", zap.Int("failures", c.failures))
		}
		c.state = CircuitBreakerOpen
	}
}

func (c *MinioClient) GetState() CircuitBreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
