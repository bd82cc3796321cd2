package middleware

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"wayfarer-backend/pkg/jwt"
)

// RedisRevocationChecker looks up blacklist:<jti> keys written by the auth service
type RedisRevocationChecker struct {
	client *redis.Client
}

func NewRedisRevocationChecker(client *redis.Client) *RedisRevocationChecker {
	return &RedisRevocationChecker{client: client}
}

func (c *RedisRevocationChecker) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	jti, err := jwt.TokenID(tokenString)
	if err != nil {
		return false, err
	}
	if jti == "" {
		return false, nil
	}

	exists, err := c.client.Exists(ctx, "blacklist:"+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}
	return exists > 0, nil
}
