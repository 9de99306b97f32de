package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the pgx surface the store needs. *pgxpool.Pool satisfies it, as
// do the pgxmock pools used in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversations and their transcript in Postgres. The Redis
// context is the working state; this store is the durable audit trail. A nil
// *Store is a no-op, so the manager runs without Postgres in tests.
type Store struct {
	pool PgxPool
}

// NewStore creates a store, or nil when pool is nil.
func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// StoredMessage is one persisted transcript row.
type StoredMessage struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	Intent         Intent
	Confidence     float64
	Processed      bool
	CreatedAt      time.Time
}

// EnsureConversation returns the id of the open conversation for the
// (user, session) pair, creating one when absent.
func (s *Store) EnsureConversation(ctx context.Context, userID, sessionID string) (uuid.UUID, error) {
	if s == nil {
		return uuid.New(), nil
	}
	id := uuid.New()
	query := `
		INSERT INTO conversations (id, user_id, session_id, status)
		VALUES ($1, $2, $3, 'active')
		ON CONFLICT (user_id, session_id)
		DO UPDATE SET updated_at = now()
		RETURNING id
	`
	if err := s.pool.QueryRow(ctx, query, id, userID, sessionID).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("conversation: ensure conversation: %w", err)
	}
	return id, nil
}

// SaveMessage appends one transcript row. Processed marks whether the turn
// made it through the full pipeline or fell to the catch-all reply.
func (s *Store) SaveMessage(ctx context.Context, msg StoredMessage) error {
	if s == nil {
		return nil
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	query := `
		INSERT INTO conversation_messages (id, conversation_id, role, content, intent, confidence, processed)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`
	_, err := s.pool.Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, string(msg.Intent), msg.Confidence, msg.Processed)
	if err != nil {
		return fmt.Errorf("conversation: save message: %w", err)
	}
	return nil
}

// CloseConversation marks a conversation finished.
func (s *Store) CloseConversation(ctx context.Context, id uuid.UUID) error {
	if s == nil {
		return nil
	}
	query := `UPDATE conversations SET status = 'completed', updated_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("conversation: close conversation: %w", err)
	}
	return nil
}

// History returns up to limit most recent rows for a conversation, oldest
// first.
func (s *Store) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]StoredMessage, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, conversation_id, role, content, COALESCE(intent, ''), confidence, processed, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var (
			msg    StoredMessage
			intent string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &intent, &msg.Confidence, &msg.Processed, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		msg.Intent = Intent(intent)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate history: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
