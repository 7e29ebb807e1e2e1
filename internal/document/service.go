package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/anchor/internal/canon"
	"github.com/roach88/anchor/internal/message"
	"github.com/roach88/anchor/internal/topic"
)

// Publisher anchors messages on a ledger topic. Satisfied by *topic.Client.
type Publisher interface {
	Publish(ctx context.Context, topicID string, m message.Message) (topic.PublishedRef, error)
}

// VersionRequest asks for a new version of a document.
type VersionRequest struct {
	DocumentID string

	// Partial holds new credential-subject values. Only fields the schema
	// marks updatable are taken from it.
	Partial map[string]any

	// Signer is the DID whose signing key re-signs the credential.
	// Defaults to the document owner.
	Signer string
}

// IssueRequest asks for the first version of a document.
type IssueRequest struct {
	Owner     string // owner DID, also the signer
	PolicyID  string
	TopicID   string // policy instance topic the document is anchored on
	SchemaIRI string
	Tag       string

	Credential map[string]any
}

// Service produces new versions of credential documents.
type Service struct {
	repo      Repository
	publisher Publisher
	signer    Signer
	now       func() time.Time
}

// NewService creates a versioning service.
func NewService(repo Repository, publisher Publisher, signer Signer) *Service {
	return &Service{repo: repo, publisher: publisher, signer: signer, now: time.Now}
}

// Issue signs and anchors a new credential and stores it as the head of
// a new version chain.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (Record, error) {
	switch {
	case req.Owner == "":
		return Record{}, errors.New("issue document: owner is required")
	case req.TopicID == "":
		return Record{}, errors.New("issue document: topic is required")
	case len(req.Credential) == 0:
		return Record{}, errors.New("issue document: credential is empty")
	}
	if _, err := s.resolveSchema(ctx, req.SchemaIRI); err != nil {
		return Record{}, err
	}

	normalized, err := canon.Normalize(req.Credential)
	if err != nil {
		return Record{}, fmt.Errorf("issue document: %w", err)
	}
	credential, ok := normalized.(map[string]any)
	if !ok {
		return Record{}, errors.New("issue document: credential is not an object")
	}
	signed, err := s.signer.Sign(ctx, req.Owner, credential)
	if err != nil {
		return Record{}, fmt.Errorf("sign document: %w", err)
	}
	hash, err := canon.Base58Hash(withoutProof(signed))
	if err != nil {
		return Record{}, fmt.Errorf("hash document: %w", err)
	}

	msg := message.NewVCMessage(message.ActionCreateVC)
	msg.Issuer = req.Owner
	msg.Hash = hash
	msg.Tag = req.Tag
	msg.Document = signed

	ref, err := s.publisher.Publish(ctx, req.TopicID, msg)
	if err != nil {
		return Record{}, fmt.Errorf("publish document: %w", err)
	}

	rec := Record{
		ID:        msg.UUID,
		Hash:      hash,
		MessageID: ref.ID,
		InitID:    ref.ID,
		Owner:     req.Owner,
		PolicyID:  req.PolicyID,
		TopicID:   req.TopicID,
		SchemaIRI: req.SchemaIRI,
		Tag:       req.Tag,
		Document:  signed,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.InsertDocument(ctx, rec); err != nil {
		slog.WarnContext(ctx, "published document not persisted",
			"document", rec.ID,
			"message_id", ref.ID,
			"error", err,
		)
		return Record{}, fmt.Errorf("save document %s: %w", rec.ID, err)
	}
	slog.InfoContext(ctx, "document issued", "document", rec.ID, "message_id", rec.MessageID)
	return rec, nil
}

// NewVersion supersedes the current version of a document.
//
// The transition is all-or-nothing. Nothing is stored unless the new
// version was published, and the previous version stays current if
// publication or persistence fails.
func (s *Service) NewVersion(ctx context.Context, req VersionRequest) (Record, error) {
	if req.DocumentID == "" {
		return Record{}, errors.New("new version: document id is required")
	}
	prev, err := s.repo.Document(ctx, req.DocumentID)
	if err != nil {
		return Record{}, fmt.Errorf("load document %s: %w", req.DocumentID, err)
	}
	if prev.OldVersion {
		return Record{}, fmt.Errorf("new version of %s: %w", prev.ID, ErrStaleVersion)
	}

	schema, err := s.resolveSchema(ctx, prev.SchemaIRI)
	if err != nil {
		return Record{}, err
	}

	credential, err := s.project(prev.Document, req.Partial, schema.UpdatablePaths())
	if err != nil {
		return Record{}, fmt.Errorf("new version of %s: %w", prev.ID, err)
	}

	did := req.Signer
	if did == "" {
		did = prev.Owner
	}
	signed, err := s.signer.Sign(ctx, did, credential)
	if err != nil {
		return Record{}, fmt.Errorf("re-sign %s: %w", prev.ID, err)
	}
	hash, err := canon.Base58Hash(withoutProof(signed))
	if err != nil {
		return Record{}, fmt.Errorf("hash %s: %w", prev.ID, err)
	}

	rels := make([]string, 0, len(prev.Relationships)+1)
	rels = append(rels, prev.Relationships...)
	if prev.MessageID != "" {
		rels = append(rels, prev.MessageID)
	}

	msg := message.NewVCMessage(message.ActionCreateVC)
	msg.Issuer = did
	msg.Relationships = rels
	msg.InitID = prev.ChainID()
	msg.Hash = hash
	msg.Tag = prev.Tag
	msg.Document = signed

	ref, err := s.publisher.Publish(ctx, prev.TopicID, msg)
	if err != nil {
		return Record{}, fmt.Errorf("publish version of %s: %w", prev.ID, err)
	}

	next := Record{
		ID:            msg.UUID,
		Hash:          hash,
		MessageID:     ref.ID,
		InitID:        msg.InitID,
		Relationships: rels,
		Owner:         prev.Owner,
		PolicyID:      prev.PolicyID,
		TopicID:       prev.TopicID,
		SchemaIRI:     prev.SchemaIRI,
		Tag:           prev.Tag,
		Document:      signed,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.SaveVersion(ctx, next, prev); err != nil {
		// The version is on the ledger but not recorded locally. The old
		// record stays current so a retry publishes again.
		slog.WarnContext(ctx, "published version not persisted",
			"document", prev.ID,
			"message_id", ref.ID,
			"error", err,
		)
		return Record{}, fmt.Errorf("save version of %s: %w", prev.ID, err)
	}

	slog.InfoContext(ctx, "document versioned",
		"document", prev.ID,
		"version", next.ID,
		"message_id", next.MessageID,
		"chain", next.InitID,
	)
	return next, nil
}

// Versions returns every version in the chain of documentID, newest first.
func (s *Service) Versions(ctx context.Context, documentID string) ([]Record, error) {
	rec, err := s.repo.Document(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	versions, err := s.repo.Versions(ctx, rec.ChainID())
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", documentID, err)
	}
	return versions, nil
}

func (s *Service) resolveSchema(ctx context.Context, iri string) (Schema, error) {
	if iri == "" {
		return Schema{}, &SchemaResolutionError{IRI: iri, Err: errors.New("document has no schema")}
	}
	doc, err := s.repo.Schema(ctx, iri)
	if err != nil {
		return Schema{}, &SchemaResolutionError{IRI: iri, Err: err}
	}
	schema, err := ParseSchema(iri, doc)
	if err != nil {
		return Schema{}, &SchemaResolutionError{IRI: iri, Err: err}
	}
	return schema, nil
}

// project copies the credential and applies partial to its first subject.
// The stored document is never modified.
func (s *Service) project(doc, partial map[string]any, paths []string) (map[string]any, error) {
	cloned, err := canon.Normalize(doc)
	if err != nil {
		return nil, err
	}
	credential, ok := cloned.(map[string]any)
	if !ok {
		return nil, errors.New("document is not a json object")
	}
	if len(paths) == 0 || len(partial) == 0 {
		return credential, nil
	}

	subject, err := firstSubject(credential)
	if err != nil {
		return nil, err
	}
	normalized, err := canon.Normalize(partial)
	if err != nil {
		return nil, err
	}
	source, _ := normalized.(map[string]any)
	if err := Project(subject, source, paths); err != nil {
		return nil, err
	}
	return credential, nil
}

// firstSubject returns the credential subject, which credentials carry as
// either an object or an array of objects.
func firstSubject(credential map[string]any) (map[string]any, error) {
	switch cs := credential["credentialSubject"].(type) {
	case map[string]any:
		return cs, nil
	case []any:
		if len(cs) > 0 {
			if subject, ok := cs[0].(map[string]any); ok {
				return subject, nil
			}
		}
	}
	return nil, errors.New("document has no credential subject")
}
