package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store appends messages to a chat's history.
type Store interface {
	Append(ctx context.Context, chatID int64, msg Message) error
}

// SQLiteStore keeps history in the history table.
type SQLiteStore struct {
	DB *sql.DB
}

// Append inserts msg. Appending the same message id twice is a no-op.
func (s *SQLiteStore) Append(ctx context.Context, chatID int64, msg Message) error {
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("append message: unknown role %q", msg.Role)
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO history (message_id, chat_id, role, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID.String(), chatID, msg.Role, msg.Content, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append message %s: %w", msg.ID, err)
	}
	return nil
}

// Recent returns the most recent limit messages for the chat, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT message_id, role, text, created_at FROM history WHERE chat_id = ? ORDER BY id DESC LIMIT ?",
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var (
			id, role, text string
			created        int64
		)
		if err := rows.Scan(&id, &role, &text, &created); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("history row has bad message id %q: %w", id, err)
		}
		results = append(results, Message{ID: parsed, Role: role, Content: text, Timestamp: time.Unix(created, 0)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}
