package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"wayfarer-backend/internal/database"
)

const onlineSetKey = "presence:online"

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

// PresenceRepository mirrors relay connections into Redis so every node and
// the REST API can answer "is this user online".
// The per-user key carries the owning node id and expires unless refreshed.
type PresenceRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

func NewPresenceRepository(client *database.RedisClient, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{client: client, ttl: ttl}
}

// SetUserOnline records that userID is connected to nodeID
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID uuid.UUID, nodeID string) error {
	if r.client.IsDegraded() {
		return database.ErrDegraded
	}
	pipe := r.client.Client.TxPipeline()
	pipe.Set(ctx, presenceKey(userID), nodeID, r.ttl)
	pipe.SAdd(ctx, onlineSetKey, userID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	return nil
}

// SetUserOffline clears the presence key, but only if nodeID still owns it.
// A user who already reconnected elsewhere stays online.
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID, nodeID string) error {
	if r.client.IsDegraded() {
		return database.ErrDegraded
	}
	owner, err := r.client.Client.Get(ctx, presenceKey(userID)).Result()
	if err != nil && !isNil(err) {
		return fmt.Errorf("failed to read presence owner: %w", err)
	}
	if owner != "" && owner != nodeID {
		return nil
	}

	pipe := r.client.Client.TxPipeline()
	pipe.Del(ctx, presenceKey(userID))
	pipe.SRem(ctx, onlineSetKey, userID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set user offline: %w", err)
	}
	return nil
}

func (r *PresenceRepository) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	if r.client.IsDegraded() {
		return false, database.ErrDegraded
	}
	exists, err := r.client.Client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// RefreshPresence extends the presence key; called on every keep-alive
func (r *PresenceRepository) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	if r.client.IsDegraded() {
		return database.ErrDegraded
	}
	if err := r.client.Client.Expire(ctx, presenceKey(userID), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// GetOnlineUsers lists online users, pruning set members whose key expired
// (a node that died without deregistering).
func (r *PresenceRepository) GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	if r.client.IsDegraded() {
		return nil, database.ErrDegraded
	}
	members, err := r.client.Client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	pipe := r.client.Client.Pipeline()
	checks := make([]*goredis.IntCmd, len(members))
	for i, m := range members {
		checks[i] = pipe.Exists(ctx, "presence:"+m)
	}
	if len(members) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to check online users: %w", err)
		}
	}

	online := make([]uuid.UUID, 0, len(members))
	var stale []interface{}
	for i, m := range members {
		userID, err := uuid.Parse(m)
		if err != nil || checks[i].Val() == 0 {
			stale = append(stale, m)
			continue
		}
		online = append(online, userID)
	}
	if len(stale) > 0 {
		r.client.Client.SRem(ctx, onlineSetKey, stale...)
	}
	return online, nil
}

func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
