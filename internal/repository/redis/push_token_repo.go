package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/database"
	"wayfarer-backend/pkg/constants"
	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/push"
)

// PushTokenRepository stores device tokens in Redis.
//
//	push:token:{token}          -> JSON token, expires after PushTokenExpiry
//	push:user:{userID}:tokens   -> set of tokens owned by the user
type PushTokenRepository struct {
	client *database.RedisClient
}

func NewPushTokenRepository(client *database.RedisClient) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func tokenKey(token string) string {
	return "push:token:" + token
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:user:%s:tokens", userID)
}

// Store registers token, moving it off any previous owner
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	now := time.Now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if previous, err := r.get(ctx, token.Token); err == nil && previous != nil && previous.UserID != token.UserID {
		r.client.Client.SRem(ctx, userTokensKey(previous.UserID), token.Token)
	}

	pipe := r.client.Client.TxPipeline()
	pipe.Set(ctx, tokenKey(token.Token), data, constants.PushTokenExpiry)
	pipe.SAdd(ctx, userTokensKey(token.UserID), token.Token)
	pipe.Expire(ctx, userTokensKey(token.UserID), constants.PushTokenExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// GetByUserID returns the user's live tokens and prunes expired set members
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	members, err := r.client.Client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	tokens := make([]*push.Token, 0, len(members))
	for _, member := range members {
		token, err := r.get(ctx, member)
		if err != nil {
			logger.Warn("Skipping unreadable push token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		if token == nil {
			r.client.Client.SRem(ctx, userTokensKey(userID), member)
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func (r *PushTokenRepository) Delete(ctx context.Context, token string) error {
	existing, err := r.get(ctx, token)
	if err != nil {
		return err
	}

	pipe := r.client.Client.TxPipeline()
	pipe.Del(ctx, tokenKey(token))
	if existing != nil {
		pipe.SRem(ctx, userTokensKey(existing.UserID), token)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// get returns nil, nil when the token is unknown
func (r *PushTokenRepository) get(ctx context.Context, token string) (*push.Token, error) {
	data, err := r.client.Client.Get(ctx, tokenKey(token)).Bytes()
	if isNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var t push.Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &t, nil
}
