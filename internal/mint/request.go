package mint

import (
	"context"
	"time"

	"github.com/roach88/anchor/internal/ledger"
)

// State is a step of the mint (or wipe) state machine.
type State string

const (
	StateAggregating  State = "Aggregating"
	StateChunking     State = "Chunking"
	StateMinting      State = "Minting"
	StateTransferring State = "Transferring"
	StateAnchored     State = "Anchored"
	StateDeferred     State = "Deferred" // handed to the policy group
	StateWiping       State = "Wiping"
	StateWiped        State = "Wiped"
	StateFailed       State = "Failed"
)

// Kind distinguishes mint from wipe requests.
type Kind string

const (
	KindMint      Kind = "mint"
	KindMultiMint Kind = "multi-mint"
	KindWipe      Kind = "wipe"
)

// RequestRecord is the persisted progress of one request.
type RequestRecord struct {
	ID           string
	Kind         Kind
	TokenID      string
	Owner        string
	Target       string
	Memo         string
	State        State
	Requested    int64
	Minted       int64
	Transferred  int64
	Failures     int
	ProvenanceID string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RequestStore persists request progress for observability.
type RequestStore interface {
	CreateRequest(ctx context.Context, rec RequestRecord) error
	UpdateRequest(ctx context.Context, rec RequestRecord) error
	Request(ctx context.Context, id string) (RequestRecord, error)
}

// TokenRegistry resolves token definitions.
type TokenRegistry interface {
	Token(ctx context.Context, id string) (ledger.Token, error)
}
