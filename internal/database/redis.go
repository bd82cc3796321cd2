package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wayfarer-backend/pkg/logger"
)

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

var (
	redisDegradedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_degraded_mode",
		Help: "1 while Redis is unreachable and presence falls back to the local node",
	})
	redisHealthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_health_check_total",
		Help: "Redis health checks by result",
	}, []string{"result"})
)

// RedisClient wraps the Redis client with a degraded flag maintained by a
// background health check. Presence and bus code consult it to skip Redis
// while it is down instead of stalling every relay frame on a timeout.
type RedisClient struct {
	Client *redis.Client

	mu       sync.RWMutex
	degraded bool

	healthCheckMu sync.Mutex
}

func NewRedisDB(cfg *RedisConfig) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
		MaxRetries:   3,
	})
	return &RedisClient{Client: client}
}

// NewRedisClientFrom wraps an existing client; used with miniredis in tests.
func NewRedisClientFrom(client *redis.Client) *RedisClient {
	return &RedisClient{Client: client}
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// StartHealthCheck pings Redis every interval until ctx is done.
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.HealthCheck(ctx); err != nil {
					logger.Warn("Redis health check failed", zap.Error(err))
				}
			}
		}
	}()
}

func (r *RedisClient) IsDegraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

func (r *RedisClient) setDegraded(degraded bool) {
	r.mu.Lock()
	changed := r.degraded != degraded
	r.degraded = degraded
	r.mu.Unlock()

	if !changed {
		return
	}
	if degraded {
		redisDegradedGauge.Set(1)
		logger.Warn("Redis entered degraded mode")
	} else {
		redisDegradedGauge.Set(0)
		logger.Info("Redis recovered from degraded mode")
	}
}

// HealthCheck pings Redis with a short timeout and updates the degraded flag.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.healthCheckMu.Lock()
	defer r.healthCheckMu.Unlock()

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.Client.Ping(healthCtx).Err(); err != nil {
		redisHealthChecks.WithLabelValues("failed").Inc()
		r.setDegraded(true)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	redisHealthChecks.WithLabelValues("ok").Inc()
	r.setDegraded(false)
	return nil
}

// ErrDegraded is returned by repositories that skip Redis while it is down.
var ErrDegraded = fmt.Errorf("redis is in degraded mode")
