package message

import (
	"errors"
	"fmt"
)

// ErrImmutable is returned when a write-once ledger field is assigned twice.
var ErrImmutable = errors.New("ledger reference already assigned")

// URL points at one off-ledger document blob.
type URL struct {
	CID string `json:"cid"`
	URI string `json:"uri"`
}

// Envelope is the header every message carries. Concrete messages embed it.
//
// The ledger-assigned fields (id, topic, payer) are unexported and
// write-once: they are set by the topic client after publication or after
// reading a record back, and never appear in the wire JSON.
type Envelope struct {
	UUID    string `json:"id"`
	Status  Status `json:"status"`
	Type    Type   `json:"type"`
	Action  Action `json:"action"`
	Lang    string `json:"lang"`
	Account string `json:"account,omitempty"`
	URLs    []URL  `json:"urls,omitempty"`

	// Present only when Status is not ISSUE.
	RevokeMessage string   `json:"revokeMessage,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	ParentIDs     []string `json:"parentIds,omitempty"`

	id      string
	topicID string
	payer   string
	memo    string
}

// Message is implemented by every concrete message type.
type Message interface {
	// Header returns the embedded envelope.
	Header() *Envelope

	// Validate checks type-specific invariants. Called before every
	// publication and after every decode.
	Validate() error

	// Documents returns the blobs to store off-ledger, in URL order.
	Documents() ([][]byte, error)

	// LoadDocuments restores documents from blobs resolved in URL order.
	LoadDocuments(blobs [][]byte) error
}

// Related is implemented by messages that link to earlier messages.
type Related interface {
	RelationshipIDs() []string
}

func newEnvelope(t Type, a Action) Envelope {
	return Envelope{
		UUID:   uuidGen.Generate(),
		Status: StatusIssue,
		Type:   t,
		Action: a,
		Lang:   DefaultLang,
	}
}

// Header returns e. Promoted to every message that embeds Envelope.
func (e *Envelope) Header() *Envelope { return e }

// ID returns the ledger message id, or "" before publication.
func (e *Envelope) ID() string { return e.id }

// TopicID returns the topic the message was published to.
func (e *Envelope) TopicID() string { return e.topicID }

// Payer returns the account that paid for the ledger submission.
func (e *Envelope) Payer() string { return e.payer }

// Memo returns the ledger transaction memo.
func (e *Envelope) Memo() string { return e.memo }

// SetMemo sets the transaction memo used on the next submission.
func (e *Envelope) SetMemo(memo string) { e.memo = memo }

// SetLedgerRef records where the message lives on the ledger.
// Returns ErrImmutable if a reference has already been assigned.
func (e *Envelope) SetLedgerRef(id, topicID, payer string) error {
	if e.id != "" || e.topicID != "" || e.payer != "" {
		return fmt.Errorf("%w: %s", ErrImmutable, e.id)
	}
	e.id = id
	e.topicID = topicID
	e.payer = payer
	return nil
}

// Revoke turns m into a revocation notice. Only the header and revocation
// fields are serialized for a revoked message.
func Revoke(m Message, text, reason string, parentIDs []string) {
	h := m.Header()
	h.Status = StatusRevoke
	h.Action = ActionRevokeDocument
	h.RevokeMessage = text
	h.Reason = reason
	h.ParentIDs = parentIDs
}

// Delete turns m into a deletion notice.
func Delete(m Message, text string, parentIDs []string) {
	h := m.Header()
	h.Status = StatusDeleted
	h.Action = ActionDeleteDocument
	h.RevokeMessage = text
	h.ParentIDs = parentIDs
}

func (e *Envelope) isIssued() bool {
	return e.Status == StatusIssue || e.Status == ""
}

// validateHeader checks the fields every message needs. allowed lists the
// Type values the concrete struct may carry.
func (e *Envelope) validateHeader(allowed ...Type) error {
	ok := false
	for _, t := range allowed {
		if e.Type == t {
			ok = true
			break
		}
	}
	if !ok {
		return newInvalidTypeError(allowed[0], e.Type)
	}
	switch {
	case e.UUID == "":
		return newInvalidMessageError(e.Type, "id", "message id is required")
	case e.Action == "":
		return newInvalidMessageError(e.Type, "action", "action is required")
	case e.Lang == "":
		return newInvalidMessageError(e.Type, "lang", "lang is required")
	}
	switch e.Status {
	case "", StatusIssue, StatusRevoke, StatusDeleted, StatusWithdraw:
	default:
		return newInvalidMessageError(e.Type, "status", fmt.Sprintf("unknown status %q", e.Status))
	}
	return nil
}
