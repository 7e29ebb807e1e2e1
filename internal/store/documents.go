package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/anchor/internal/canon"
	"github.com/roach88/anchor/internal/document"
	"github.com/roach88/anchor/internal/sentinel"
)

var _ document.Repository = (*Store)(nil)

// PutSchema registers a credential schema under its IRI.
func (s *Store) PutSchema(ctx context.Context, iri string, schema map[string]any) error {
	data, err := canon.MarshalCanonical(schema)
	if err != nil {
		return fmt.Errorf("put schema: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schemas (iri, document) VALUES (?, ?)
		ON CONFLICT(iri) DO UPDATE SET document = excluded.document
	`, iri, string(data))
	if err != nil {
		return fmt.Errorf("put schema: %w", err)
	}
	return nil
}

// Schema implements document.Repository.
func (s *Store) Schema(ctx context.Context, iri string) (map[string]any, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM schemas WHERE iri = ?`, iri).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schema %s: %w", iri, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", iri, err)
	}
	var schema map[string]any
	if err := decodeJSON(data, &schema); err != nil {
		return nil, fmt.Errorf("schema %s: %w", iri, err)
	}
	return schema, nil
}

// InsertDocument stores the first version of a chain.
// Duplicate ids are silently ignored.
func (s *Store) InsertDocument(ctx context.Context, rec document.Record) error {
	if err := insertDocument(ctx, s.db, rec, s.now()); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDocument(ctx context.Context, db execer, rec document.Record, now time.Time) error {
	doc, err := canon.MarshalCanonical(rec.Document)
	if err != nil {
		return err
	}
	rels := rec.Relationships
	if rels == nil {
		rels = []string{}
	}
	relJSON, err := json.Marshal(rels)
	if err != nil {
		return err
	}
	created := rec.CreatedAt.UnixMilli()
	if rec.CreatedAt.IsZero() {
		created = now.UnixMilli()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO vc_documents
		(id, hash, message_id, init_id, relationships, old_version, owner, policy_id, topic_id, schema_iri, tag, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Hash,
		rec.MessageID,
		rec.ChainID(),
		string(relJSON),
		boolToInt(rec.OldVersion),
		rec.Owner,
		rec.PolicyID,
		rec.TopicID,
		rec.SchemaIRI,
		rec.Tag,
		string(doc),
		created,
	)
	return err
}

// Document implements document.Repository.
func (s *Store) Document(ctx context.Context, id string) (document.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, message_id, init_id, relationships, old_version, owner,
		       policy_id, topic_id, schema_iri, tag, document, created_at
		FROM vc_documents WHERE id = ?
	`, id)
	rec, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Record{}, fmt.Errorf("document %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return document.Record{}, fmt.Errorf("document %s: %w", id, err)
	}
	return rec, nil
}

// SaveVersion implements document.Repository. The predecessor is flipped
// first so a concurrent writer that lost the race sees ErrStaleVersion
// instead of a unique-index violation.
func (s *Store) SaveVersion(ctx context.Context, next, prev document.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save version: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		UPDATE vc_documents SET old_version = 1 WHERE id = ? AND old_version = 0
	`, prev.ID)
	if err != nil {
		return fmt.Errorf("save version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save version: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("save version of %s: %w", prev.ID, document.ErrStaleVersion)
	}

	next.OldVersion = false
	if err := insertDocument(ctx, tx, next, s.now()); err != nil {
		return fmt.Errorf("save version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save version: %w", err)
	}
	return nil
}

// Versions implements document.Repository. Newest first.
func (s *Store) Versions(ctx context.Context, chainID string) ([]document.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hash, message_id, init_id, relationships, old_version, owner,
		       policy_id, topic_id, schema_iri, tag, document, created_at
		FROM vc_documents WHERE init_id = ?
		ORDER BY seq DESC
	`, chainID)
	if err != nil {
		return nil, fmt.Errorf("versions: %w", err)
	}
	defer rows.Close()

	versions := make([]document.Record, 0)
	for rows.Next() {
		rec, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("versions: %w", err)
		}
		versions = append(versions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("versions: %w", err)
	}
	return versions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (document.Record, error) {
	var rec document.Record
	var relJSON, docJSON string
	var old int
	var created int64
	err := row.Scan(&rec.ID, &rec.Hash, &rec.MessageID, &rec.InitID, &relJSON, &old, &rec.Owner,
		&rec.PolicyID, &rec.TopicID, &rec.SchemaIRI, &rec.Tag, &docJSON, &created)
	if err != nil {
		return document.Record{}, err
	}
	if err := json.Unmarshal([]byte(relJSON), &rec.Relationships); err != nil {
		return document.Record{}, fmt.Errorf("decode relationships: %w", err)
	}
	if err := decodeJSON(docJSON, &rec.Document); err != nil {
		return document.Record{}, fmt.Errorf("decode document: %w", err)
	}
	rec.OldVersion = old != 0
	rec.CreatedAt = fromMillis(created)
	return rec, nil
}

// decodeJSON keeps numbers as json.Number so re-hashing a stored document
// reproduces its canonical form exactly.
func decodeJSON(data string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	return dec.Decode(v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
