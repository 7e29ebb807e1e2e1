package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/anchor/internal/mint"
	"github.com/roach88/anchor/internal/sentinel"
)

var (
	_ mint.RequestStore  = (*Store)(nil)
	_ mint.TokenRegistry = (*Store)(nil)
)

// CreateRequest implements mint.RequestStore. Duplicate ids are ignored.
func (s *Store) CreateRequest(ctx context.Context, rec mint.RequestRecord) error {
	now := unixMillis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mint_requests
		(id, kind, token_id, owner, target, memo, state, requested, minted, transferred,
		 failures, provenance_id, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID, string(rec.Kind), rec.TokenID, rec.Owner, rec.Target, rec.Memo, string(rec.State),
		rec.Requested, rec.Minted, rec.Transferred, rec.Failures, rec.ProvenanceID, rec.Error,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// UpdateRequest implements mint.RequestStore. Only progress fields change.
func (s *Store) UpdateRequest(ctx context.Context, rec mint.RequestRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mint_requests
		SET state = ?, requested = ?, minted = ?, transferred = ?, failures = ?,
		    provenance_id = ?, error = ?, updated_at = ?
		WHERE id = ?
	`,
		string(rec.State), rec.Requested, rec.Minted, rec.Transferred, rec.Failures,
		rec.ProvenanceID, rec.Error, unixMillis(s.now()), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update request %s: %w", rec.ID, sentinel.ErrNotFound)
	}
	return nil
}

// Request implements mint.RequestStore.
func (s *Store) Request(ctx context.Context, id string) (mint.RequestRecord, error) {
	var rec mint.RequestRecord
	var kind, state string
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, token_id, owner, target, memo, state, requested, minted, transferred,
		       failures, provenance_id, error, created_at, updated_at
		FROM mint_requests WHERE id = ?
	`, id).Scan(&rec.ID, &kind, &rec.TokenID, &rec.Owner, &rec.Target, &rec.Memo, &state,
		&rec.Requested, &rec.Minted, &rec.Transferred, &rec.Failures, &rec.ProvenanceID, &rec.Error,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return mint.RequestRecord{}, fmt.Errorf("request %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return mint.RequestRecord{}, fmt.Errorf("request %s: %w", id, err)
	}
	rec.Kind = mint.Kind(kind)
	rec.State = mint.State(state)
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	return rec, nil
}
