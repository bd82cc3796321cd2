package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wayfarer-backend/internal/domain"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads profile summaries from the users table owned by the
// profile service. The only write is the coarse online status.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetSummary(ctx context.Context, userID uuid.UUID) (*domain.UserSummary, error) {
	query := `
		SELECT user_id, COALESCE(display_name, username), COALESCE(avatar_url, '')
		FROM users
		WHERE user_id = $1
	`

	user := &domain.UserSummary{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(&user.UserID, &user.DisplayName, &user.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateStatus stores online/offline for profile pages
func (r *UserRepository) UpdateStatus(ctx context.Context, userID uuid.UUID, status string) error {
	query := `UPDATE users SET status = $2, updated_at = NOW() WHERE user_id = $1`
	if _, err := r.pool.Exec(ctx, query, userID, status); err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	return nil
}
