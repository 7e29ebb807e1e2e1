// Package document versions verifiable-credential documents. A new version
// copies the current credential, takes new values only for the fields the
// schema marks updatable, re-signs it and anchors it on the ledger with a
// link back to the version it supersedes.
package document

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Record is one stored version of a credential document.
type Record struct {
	ID            string
	Hash          string
	MessageID     string   // ledger anchor of this version
	InitID        string   // ledger anchor of the first version of the chain
	Relationships []string // predecessor message ids, oldest first
	OldVersion    bool
	Owner         string // owner DID
	PolicyID      string
	TopicID       string
	SchemaIRI     string
	Tag           string
	Document      map[string]any
	CreatedAt     time.Time
}

// ChainID identifies the version chain r belongs to.
func (r Record) ChainID() string {
	switch {
	case r.InitID != "":
		return r.InitID
	case r.MessageID != "":
		return r.MessageID
	}
	return r.ID
}

// Repository persists document versions and resolves schemas.
type Repository interface {
	Document(ctx context.Context, id string) (Record, error)
	Schema(ctx context.Context, iri string) (map[string]any, error)

	// InsertDocument stores the first version of a chain.
	InsertDocument(ctx context.Context, rec Record) error

	// SaveVersion stores next and marks prev superseded in one transaction.
	// Fails with ErrStaleVersion when prev is no longer current.
	SaveVersion(ctx context.Context, next, prev Record) error

	// Versions returns every version in the chain, newest first.
	Versions(ctx context.Context, chainID string) ([]Record, error)
}

var (
	// ErrStaleVersion is returned when versioning a superseded record.
	ErrStaleVersion = errors.New("document version is not current")

	// ErrCardinalityMismatch is returned when an updatable array field
	// receives a different number of values than the document holds.
	ErrCardinalityMismatch = errors.New("array cardinality mismatch")
)

// SchemaResolutionError reports a schema that could not be loaded or parsed.
type SchemaResolutionError struct {
	IRI string
	Err error
}

func (e *SchemaResolutionError) Error() string {
	return fmt.Sprintf("resolve schema %q: %v", e.IRI, e.Err)
}

func (e *SchemaResolutionError) Unwrap() error {
	return e.Err
}

// IsSchemaResolutionError returns true if err is a SchemaResolutionError.
func IsSchemaResolutionError(err error) bool {
	var se *SchemaResolutionError
	return errors.As(err, &se)
}
