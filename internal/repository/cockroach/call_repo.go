package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/constants"
)

// ErrCallNotFound is returned when no call matches
var ErrCallNotFound = errors.New("call not found")

// CallRepository is the call log:
//
//	CREATE TABLE calls (
//	    call_id     UUID PRIMARY KEY,
//	    caller_id   UUID NOT NULL,
//	    callee_id   UUID NOT NULL,
//	    media_type  STRING NOT NULL,
//	    status      STRING NOT NULL,
//	    end_reason  STRING NOT NULL DEFAULT '',
//	    started_at  TIMESTAMPTZ NOT NULL,
//	    answered_at TIMESTAMPTZ,
//	    ended_at    TIMESTAMPTZ,
//	    duration    INT NOT NULL DEFAULT 0,
//	    INDEX (caller_id, started_at DESC),
//	    INDEX (callee_id, started_at DESC)
//	);
type CallRepository struct {
	pool *pgxpool.Pool
}

func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

const callColumns = `call_id, caller_id, callee_id, media_type, status, end_reason,
	started_at, answered_at, ended_at, duration`

func (r *CallRepository) Create(ctx context.Context, call *domain.CallRecord) error {
	query := `
		INSERT INTO calls (
			call_id, caller_id, callee_id, media_type, status, end_reason, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.CallerID,
		call.CalleeID,
		string(call.MediaType),
		call.Status,
		call.EndReason,
		call.StartedAt,
		call.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}
	return nil
}

// FindOpenBetween returns the newest ringing or active call between a and b
// in either direction.
func (r *CallRepository) FindOpenBetween(ctx context.Context, a, b uuid.UUID) (*domain.CallRecord, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE ((caller_id = $1 AND callee_id = $2) OR (caller_id = $2 AND callee_id = $1))
		  AND status IN ($3, $4)
		ORDER BY started_at DESC
		LIMIT 1
	`

	call, err := scanCall(r.pool.QueryRow(ctx, query, a, b, constants.CallStatusRinging, constants.CallStatusActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open call: %w", err)
	}
	return call, nil
}

// MarkAnswered moves a ringing call to active
func (r *CallRepository) MarkAnswered(ctx context.Context, callID uuid.UUID, at time.Time) error {
	query := `
		UPDATE calls
		SET status = $2, answered_at = $3
		WHERE call_id = $1 AND status = $4
	`

	_, err := r.pool.Exec(ctx, query, callID, constants.CallStatusActive, at, constants.CallStatusRinging)
	if err != nil {
		return fmt.Errorf("failed to mark call answered: %w", err)
	}
	return nil
}

// EndCall closes a call with a final status. Duration counts from the answer,
// so unanswered calls keep zero.
func (r *CallRepository) EndCall(ctx context.Context, callID uuid.UUID, status, reason string, at time.Time) error {
	query := `
		UPDATE calls
		SET status = $2,
		    end_reason = $3,
		    ended_at = $4,
		    duration = CASE WHEN answered_at IS NULL THEN 0
		               ELSE EXTRACT(EPOCH FROM ($4 - answered_at))::INT END
		WHERE call_id = $1
	`

	_, err := r.pool.Exec(ctx, query, callID, status, reason, at)
	if err != nil {
		return fmt.Errorf("failed to end call: %w", err)
	}
	return nil
}

func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return call, nil
}

// GetUserCalls lists calls the user placed or received, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	calls := make([]*domain.CallRecord, 0, limit)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calls: %w", err)
	}
	return calls, nil
}

func scanCall(row pgx.Row) (*domain.CallRecord, error) {
	call := &domain.CallRecord{}
	var mediaType string
	err := row.Scan(
		&call.CallID,
		&call.CallerID,
		&call.CalleeID,
		&mediaType,
		&call.Status,
		&call.EndReason,
		&call.StartedAt,
		&call.AnsweredAt,
		&call.EndedAt,
		&call.Duration,
	)
	if err != nil {
		return nil, err
	}
	call.MediaType = domain.MediaType(mediaType)
	return call, nil
}
