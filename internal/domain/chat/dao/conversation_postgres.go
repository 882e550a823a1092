package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint violations
const uniqueViolation = "23505"

// ConversationPostgres implements the conversation registry for PostgreSQL
type ConversationPostgres struct {
	pool *pgxpool.Pool
}

// NewConversationPostgres creates a new PostgreSQL conversation repository
func NewConversationPostgres(pool *pgxpool.Pool) *ConversationPostgres {
	return &ConversationPostgres{pool: pool}
}

// GetByID retrieves a conversation by ID
func (r *ConversationPostgres) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, created_at
		FROM chat_conversations
		WHERE id = $1
	`

	var conv entity.Conversation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&conv.ID,
		&conv.Participants[0],
		&conv.Participants[1],
		&conv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	return &conv, nil
}

// Create inserts a conversation and its seeded summaries in one transaction
func (r *ConversationPostgres) Create(ctx context.Context, conv *entity.Conversation, summaries []entity.Summary) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_conversations (id, participant_a, participant_b, created_at)
		VALUES ($1, $2, $3, $4)
	`, conv.ID, conv.Participants[0], conv.Participants[1], conv.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return entity.ErrConversationExists
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO chat_summaries (
			user_id, conversation_id, friend_id, friend_display_name,
			friend_avatar_url, friend_email, last_message, last_message_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, s := range summaries {
		batch.Queue(query,
			s.UserID,
			s.ConversationID,
			s.Friend.ID,
			s.Friend.DisplayName,
			s.Friend.AvatarURL,
			s.Friend.Email,
			s.LastMessage,
			s.LastMessageAt,
			s.CreatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range summaries {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("inserting summary: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}
	return nil
}
