package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SQLiteStore keeps credentials in the user_settings table.
type SQLiteStore struct {
	DB *sql.DB
}

// Lookup returns the stored key; a missing row or blank key is ErrNotFound.
func (s *SQLiteStore) Lookup(ctx context.Context, userID string) (string, error) {
	var key sql.NullString
	err := s.DB.QueryRowContext(ctx,
		"SELECT api_key FROM user_settings WHERE user_id = ?", userID,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup credential user_id=%s: %w", userID, err)
	}
	if !key.Valid || strings.TrimSpace(key.String) == "" {
		return "", ErrNotFound
	}
	return key.String, nil
}

// Put stores or replaces the user's key.
func (s *SQLiteStore) Put(ctx context.Context, userID, key string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("validation: user id is required")
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, api_key, updated_at) VALUES (?, ?, unixepoch())
		 ON CONFLICT(user_id) DO UPDATE SET api_key = excluded.api_key, updated_at = unixepoch()`,
		userID, key,
	)
	if err != nil {
		return fmt.Errorf("store credential user_id=%s: %w", userID, err)
	}
	return nil
}

// Delete removes the user's key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM user_settings WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("delete credential user_id=%s: %w", userID, err)
	}
	return nil
}
