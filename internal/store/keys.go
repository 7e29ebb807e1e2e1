package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/anchor/internal/keys"
)

var _ keys.Custody = (*Store)(nil)

// PutKey stores key material. A second write for the same slot replaces it.
func (s *Store) PutKey(ctx context.Context, ownerDID string, purpose keys.Purpose, tokenID string, key []byte) error {
	if !purpose.Valid() {
		return fmt.Errorf("put key: unknown purpose %q", purpose)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custody_keys (owner, purpose, token_id, key) VALUES (?, ?, ?, ?)
		ON CONFLICT(owner, purpose, token_id) DO UPDATE SET key = excluded.key
	`, ownerDID, string(purpose), tokenID, key)
	if err != nil {
		return fmt.Errorf("put key: %w", err)
	}
	return nil
}

// GetKey implements keys.Custody.
func (s *Store) GetKey(ctx context.Context, ownerDID string, purpose keys.Purpose, tokenID string) ([]byte, error) {
	var key []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT key FROM custody_keys WHERE owner = ? AND purpose = ? AND token_id = ?
	`, ownerDID, string(purpose), tokenID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s key for %s: %w", purpose, ownerDID, keys.ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}
	return key, nil
}
