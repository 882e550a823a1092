package dao

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

// SummaryPostgres implements summary storage for PostgreSQL
type SummaryPostgres struct {
	pool *pgxpool.Pool
}

// NewSummaryPostgres creates a new PostgreSQL summary repository
func NewSummaryPostgres(pool *pgxpool.Pool) *SummaryPostgres {
	return &SummaryPostgres{pool: pool}
}

// GetByUserID retrieves a user's summaries, most recent activity first
func (r *SummaryPostgres) GetByUserID(ctx context.Context, userID string) ([]entity.Summary, error) {
	query := `
		SELECT user_id, conversation_id, friend_id, friend_display_name,
		       friend_avatar_url, friend_email, last_message, last_message_at, created_at
		FROM chat_summaries
		WHERE user_id = $1
		ORDER BY COALESCE(last_message_at, created_at) DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]entity.Summary, 0)
	for rows.Next() {
		var s entity.Summary
		err := rows.Scan(
			&s.UserID,
			&s.ConversationID,
			&s.Friend.ID,
			&s.Friend.DisplayName,
			&s.Friend.AvatarURL,
			&s.Friend.Email,
			&s.LastMessage,
			&s.LastMessageAt,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summaries: %w", err)
	}

	return summaries, nil
}

// GetStale returns conversations with a summary older than the latest message.
// A limit of zero or less returns all of them.
func (r *SummaryPostgres) GetStale(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT c.id
		FROM chat_conversations c
		JOIN LATERAL (
			SELECT max(m.created_at) AS latest
			FROM chat_messages m
			WHERE m.conversation_id = c.id
		) lm ON lm.latest IS NOT NULL
		WHERE EXISTS (
			SELECT 1 FROM chat_summaries s
			WHERE s.conversation_id = c.id
			  AND (s.last_message_at IS NULL OR s.last_message_at < lm.latest)
		)
		LIMIT $1
	`

	// LIMIT NULL returns every row.
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := r.pool.Query(ctx, query, lim)
	if err != nil {
		return nil, fmt.Errorf("querying stale summaries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Refresh copies the latest message into both summaries of the conversation
func (r *SummaryPostgres) Refresh(ctx context.Context, conversationID string) error {
	query := `
		UPDATE chat_summaries s
		SET last_message = COALESCE(lm.text, ''), last_message_at = lm.created_at
		FROM (
			SELECT text, created_at
			FROM chat_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm
		WHERE s.conversation_id = $1
	`

	if _, err := r.pool.Exec(ctx, query, conversationID); err != nil {
		return fmt.Errorf("refreshing summaries: %w", err)
	}
	return nil
}
