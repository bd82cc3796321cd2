package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wayfarer-backend/internal/domain"
)

// Transaction provides transaction support
type Transaction struct {
	tx pgx.Tx
}

func (r *ConversationRepository) BeginTx(ctx context.Context) (*Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx}, nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Transaction) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// ConversationRepository keeps one summary row per (owner, peer):
//
//	CREATE TABLE conversation_summaries (
//	    owner_id        UUID NOT NULL,
//	    peer_id         UUID NOT NULL,
//	    last_preview    STRING NOT NULL DEFAULT '',
//	    last_sender_id  UUID,
//	    last_message_at TIMESTAMPTZ NOT NULL,
//	    unread_count    INT NOT NULL DEFAULT 0,
//	    PRIMARY KEY (owner_id, peer_id),
//	    INDEX (owner_id, last_message_at DESC)
//	);
type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

const upsertSummaryQuery = `
	INSERT INTO conversation_summaries (
		owner_id, peer_id, last_preview, last_sender_id, last_message_at, unread_count
	) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (owner_id, peer_id) DO UPDATE SET
		last_preview = CASE WHEN excluded.last_message_at >= conversation_summaries.last_message_at
			THEN excluded.last_preview ELSE conversation_summaries.last_preview END,
		last_sender_id = CASE WHEN excluded.last_message_at >= conversation_summaries.last_message_at
			THEN excluded.last_sender_id ELSE conversation_summaries.last_sender_id END,
		last_message_at = GREATEST(conversation_summaries.last_message_at, excluded.last_message_at),
		unread_count = conversation_summaries.unread_count + excluded.unread_count
`

// RecordMessage updates both participants' summaries in one transaction.
// The recipient's unread count goes up by one, the sender's is untouched.
func (r *ConversationRepository) RecordMessage(ctx context.Context, msg *domain.Message) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	preview := msg.Preview()
	if _, err := tx.tx.Exec(ctx, upsertSummaryQuery,
		msg.SenderID, msg.RecipientID, preview, msg.SenderID, msg.CreatedAt, 0,
	); err != nil {
		return fmt.Errorf("failed to update sender summary: %w", err)
	}
	if _, err := tx.tx.Exec(ctx, upsertSummaryQuery,
		msg.RecipientID, msg.SenderID, preview, msg.SenderID, msg.CreatedAt, 1,
	); err != nil {
		return fmt.Errorf("failed to update recipient summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit summaries: %w", err)
	}
	return nil
}

// ListForOwner returns the owner's conversations, most recent first, joined
// with the peer's profile summary.
func (r *ConversationRepository) ListForOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.Conversation, error) {
	query := `
		SELECT s.peer_id, COALESCE(u.display_name, ''), COALESCE(u.avatar_url, ''),
		       s.last_preview, s.last_sender_id, s.last_message_at, s.unread_count
		FROM conversation_summaries s
		LEFT JOIN users u ON u.user_id = s.peer_id
		WHERE s.owner_id = $1
		ORDER BY s.last_message_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]*domain.Conversation, 0, limit)
	for rows.Next() {
		var (
			c          domain.Conversation
			preview    string
			lastSender *uuid.UUID
			lastAt     time.Time
		)
		if err := rows.Scan(
			&c.PeerID,
			&c.PeerDisplayName,
			&c.PeerAvatar,
			&preview,
			&lastSender,
			&lastAt,
			&c.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if lastSender != nil {
			c.LastMessage = &domain.LastMessage{Preview: preview, SenderID: *lastSender, At: lastAt}
		}
		conversations = append(conversations, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return conversations, nil
}

// MarkRead zeroes the owner's unread count for peer. A missing row is not an error.
func (r *ConversationRepository) MarkRead(ctx context.Context, ownerID, peerID uuid.UUID) error {
	query := `UPDATE conversation_summaries SET unread_count = 0 WHERE owner_id = $1 AND peer_id = $2`
	if _, err := r.pool.Exec(ctx, query, ownerID, peerID); err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}
