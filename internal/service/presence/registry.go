// Package presence tracks which users hold a relay connection on this node
// and mirrors that into Redis for the rest of the cluster.
package presence

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/database"
	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/constants"
	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/metrics"
)

// Handle is one live connection
type Handle interface {
	// Send queues env without blocking; false means it was dropped.
	Send(env *domain.Envelope) bool
	Close()
}

// Mirror is the cluster-wide view of presence
type Mirror interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID, nodeID string) error
	SetUserOffline(ctx context.Context, userID uuid.UUID, nodeID string) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
	IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error)
}

// StatusStore persists the coarse online/offline status on the user profile
type StatusStore interface {
	UpdateStatus(ctx context.Context, userID uuid.UUID, status string) error
}

// Registry maps user id to the single live connection of that user on this node.
type Registry struct {
	nodeID string
	mirror Mirror
	status StatusStore

	mu    sync.RWMutex
	conns map[uuid.UUID]Handle
}

type Option func(*Registry)

func WithMirror(m Mirror) Option {
	return func(r *Registry) { r.mirror = m }
}

func WithStatusStore(s StatusStore) Option {
	return func(r *Registry) { r.status = s }
}

func NewRegistry(nodeID string, opts ...Option) *Registry {
	r := &Registry{
		nodeID: nodeID,
		conns:  make(map[uuid.UUID]Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register makes h the user's connection. A previous connection is closed.
// It reports whether a previous connection was replaced.
func (r *Registry) Register(ctx context.Context, userID uuid.UUID, h Handle) bool {
	r.mu.Lock()
	old, existed := r.conns[userID]
	r.conns[userID] = h
	count := len(r.conns)
	r.mu.Unlock()

	metrics.PresenceOnlineUsers.Set(float64(count))

	replaced := existed && old != h
	if replaced {
		metrics.RelayConnectionsReplacedTotal.Inc()
		logger.Info("Replacing existing connection", zap.String("user_id", userID.String()))
		old.Close()
	}

	if r.mirror != nil {
		r.logMirrorErr("online", userID, r.mirror.SetUserOnline(ctx, userID, r.nodeID))
	}
	if r.status != nil && !existed {
		r.logMirrorErr("status", userID, r.status.UpdateStatus(ctx, userID, constants.UserStatusOnline))
	}
	return replaced
}

// Deregister removes h if it is still the user's connection. A handle that
// was already replaced is ignored and false is returned.
func (r *Registry) Deregister(ctx context.Context, userID uuid.UUID, h Handle) bool {
	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || current != h {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	count := len(r.conns)
	r.mu.Unlock()

	metrics.PresenceOnlineUsers.Set(float64(count))

	if r.mirror != nil {
		r.logMirrorErr("offline", userID, r.mirror.SetUserOffline(ctx, userID, r.nodeID))
	}
	if r.status != nil {
		r.logMirrorErr("status", userID, r.status.UpdateStatus(ctx, userID, constants.UserStatusOffline))
	}
	return true
}

// Lookup returns the local connection of userID
func (r *Registry) Lookup(userID uuid.UUID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.conns[userID]
	return h, ok
}

// IsOnline checks this node, then the cluster mirror
func (r *Registry) IsOnline(ctx context.Context, userID uuid.UUID) bool {
	if _, ok := r.Lookup(userID); ok {
		return true
	}
	if r.mirror == nil {
		return false
	}
	online, err := r.mirror.IsUserOnline(ctx, userID)
	if err != nil {
		r.logMirrorErr("lookup", userID, err)
		return false
	}
	return online
}

// Refresh extends the mirrored presence of userID
func (r *Registry) Refresh(ctx context.Context, userID uuid.UUID) {
	if r.mirror != nil {
		r.logMirrorErr("refresh", userID, r.mirror.RefreshPresence(ctx, userID))
	}
}

// Local returns the users connected to this node, sorted
func (r *Registry) Local() []uuid.UUID {
	r.mu.RLock()
	users := make([]uuid.UUID, 0, len(r.conns))
	for id := range r.conns {
		users = append(users, id)
	}
	r.mu.RUnlock()
	sortIDs(users)
	return users
}

// Online returns every online user in the cluster, sorted. Without a
// reachable mirror it falls back to this node.
func (r *Registry) Online(ctx context.Context) []uuid.UUID {
	local := r.Local()
	if r.mirror == nil {
		return local
	}
	remote, err := r.mirror.GetOnlineUsers(ctx)
	if err != nil {
		r.logMirrorErr("snapshot", uuid.Nil, err)
		return local
	}
	seen := make(map[uuid.UUID]struct{}, len(local)+len(remote))
	merged := make([]uuid.UUID, 0, len(local)+len(remote))
	for _, id := range slices.Concat(local, remote) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	sortIDs(merged)
	return merged
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast sends env to every local connection
func (r *Registry) Broadcast(env *domain.Envelope) {
	for _, h := range r.handles() {
		h.Send(env)
	}
}

// CloseAll closes every local connection; used on shutdown
func (r *Registry) CloseAll() {
	for _, h := range r.handles() {
		h.Close()
	}
}

func (r *Registry) handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := make([]Handle, 0, len(r.conns))
	for _, h := range r.conns {
		hs = append(hs, h)
	}
	return hs
}

func (r *Registry) logMirrorErr(op string, userID uuid.UUID, err error) {
	if err == nil || errors.Is(err, database.ErrDegraded) {
		return
	}
	logger.Warn("Presence mirror failed",
		zap.String("op", op),
		zap.String("user_id", userID.String()),
		zap.Error(err))
}

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

func sortIDs(ids []uuid.UUID) {
	slices.SortFunc(ids, compareIDs)
}
