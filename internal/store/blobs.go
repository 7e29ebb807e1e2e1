package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/anchor/internal/blob"
	"github.com/roach88/anchor/internal/sentinel"
)

var _ blob.Store = (*Blobs)(nil)

// Blobs is the SQLite-backed content store.
type Blobs struct {
	s *Store
}

// Blobs returns the content store view of s.
func (s *Store) Blobs() *Blobs {
	return &Blobs{s: s}
}

// Put stores data under its CID. Writing the same bytes twice is a no-op.
func (b *Blobs) Put(ctx context.Context, data []byte) (blob.CID, error) {
	c, err := blob.ComputeCID(data)
	if err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	_, err = b.s.db.ExecContext(ctx, `
		INSERT INTO blobs (cid, data) VALUES (?, ?)
		ON CONFLICT(cid) DO NOTHING
	`, string(c), data)
	if err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	return c, nil
}

// Get returns the bytes stored under c.
func (b *Blobs) Get(ctx context.Context, c blob.CID) ([]byte, error) {
	var data []byte
	err := b.s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE cid = ?`, string(c)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get blob %s: %w", c, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", c, err)
	}
	return data, nil
}
