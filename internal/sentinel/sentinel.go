package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, the ledger and the
// content store return these (optionally wrapped) so services can translate
// them into domain errors with errors.Is.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: record, message, blob or key does not exist
//   - ErrConflict: a write raced another writer for the same slot
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrUnavailable: backend temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
