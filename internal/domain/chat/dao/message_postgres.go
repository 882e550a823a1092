package dao

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

// MessagePostgres implements the message log for PostgreSQL
type MessagePostgres struct {
	pool *pgxpool.Pool
}

// NewMessagePostgres creates a new PostgreSQL message repository
func NewMessagePostgres(pool *pgxpool.Pool) *MessagePostgres {
	return &MessagePostgres{pool: pool}
}

// Append inserts the message and updates both summaries in one transaction.
// created_at comes from the database clock.
func (r *MessagePostgres) Append(ctx context.Context, msg *entity.Message, participants [2]string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO chat_messages (id, conversation_id, sender_id, text, attachment_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Text, msg.AttachmentURL).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	// A concurrent append may already have moved the summary past this message.
	_, err = tx.Exec(ctx, `
		UPDATE chat_summaries
		SET last_message = $2, last_message_at = $3
		WHERE conversation_id = $1
		  AND user_id = ANY($4)
		  AND (last_message_at IS NULL OR last_message_at <= $3)
	`, msg.ConversationID, msg.Preview(), msg.CreatedAt, participants[:])
	if err != nil {
		return fmt.Errorf("updating summaries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

// GetByConversationID retrieves the conversation's messages oldest first
func (r *MessagePostgres) GetByConversationID(ctx context.Context, conversationID string) ([]entity.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, text, attachment_url, created_at
		FROM chat_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]entity.Message, 0)
	for rows.Next() {
		var msg entity.Message
		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.Text,
			&msg.AttachmentURL,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}
