package message

// Policy types carried by CreateMultiPolicy messages.
const (
	PolicyTypeMain = "Main"
	PolicyTypeSub  = "Sub"
)

// SynchronizationMessage is published to a policy group's synchronization
// topic. A create-multi-policy message registers a policy as a member of
// the group for a user; a mint message is one policy's contribution to the
// joint mint identified by Hash.
type SynchronizationMessage struct {
	Envelope
	noDocuments
	Policy      string `json:"policy"`
	PolicyType  string `json:"policyType,omitempty"`
	PolicyOwner string `json:"policyOwner"`
	User        string `json:"user"`

	// Mint contributions only.
	Hash      string `json:"hash,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	TokenID   string `json:"tokenId,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	Memo      string `json:"memo,omitempty"`
	Target    string `json:"target,omitempty"`
}

// NewSynchronizationMessage creates a Synchronization-Event message.
func NewSynchronizationMessage(action Action) *SynchronizationMessage {
	return &SynchronizationMessage{Envelope: newEnvelope(TypeSynchronization, action)}
}

func (m *SynchronizationMessage) Validate() error {
	if err := m.validateHeader(TypeSynchronization); err != nil {
		return err
	}
	if !m.isIssued() {
		return nil
	}
	if m.Policy == "" {
		return newInvalidMessageError(m.Type, "policy", "policy is required")
	}
	if m.User == "" {
		return newInvalidMessageError(m.Type, "user", "user is required")
	}
	switch m.Action {
	case ActionCreateMultiPolicy:
		if m.PolicyType != PolicyTypeMain && m.PolicyType != PolicyTypeSub {
			return newInvalidMessageError(m.Type, "policyType", "policyType must be Main or Sub")
		}
	case ActionMint:
		switch {
		case m.Hash == "":
			return newInvalidMessageError(m.Type, "hash", "hash is required")
		case m.MessageID == "":
			return newInvalidMessageError(m.Type, "messageId", "messageId is required")
		case m.TokenID == "":
			return newInvalidMessageError(m.Type, "tokenId", "tokenId is required")
		case m.Amount < 0:
			return newInvalidMessageError(m.Type, "amount", "amount must not be negative")
		}
	default:
		return newInvalidMessageError(m.Type, "action", "unsupported synchronization action "+string(m.Action))
	}
	return nil
}

// ProvenanceMessage is the anchored record of a token movement. It links
// the mint or wipe back to the messages that justified it.
type ProvenanceMessage struct {
	Envelope
	noDocuments
	TokenID       string   `json:"tokenId"`
	Target        string   `json:"target"`
	Requested     int64    `json:"requested"`
	Amount        int64    `json:"amount"`
	Serials       []int64  `json:"serials,omitempty"`
	Memo          string   `json:"memo,omitempty"`
	Relationships []string `json:"relationships,omitempty"`
}

// NewProvenanceMessage creates a Token-Provenance message.
func NewProvenanceMessage(action Action) *ProvenanceMessage {
	return &ProvenanceMessage{Envelope: newEnvelope(TypeTokenProvenance, action)}
}

func (m *ProvenanceMessage) Validate() error {
	if err := m.validateHeader(TypeTokenProvenance); err != nil {
		return err
	}
	if !m.isIssued() {
		return nil
	}
	switch {
	case m.TokenID == "":
		return newInvalidMessageError(m.Type, "tokenId", "tokenId is required")
	case m.Target == "":
		return newInvalidMessageError(m.Type, "target", "target is required")
	case m.Amount < 0 || m.Requested < 0:
		return newInvalidMessageError(m.Type, "amount", "amounts must not be negative")
	case m.Amount > m.Requested:
		return newInvalidMessageError(m.Type, "amount", "amount exceeds requested")
	}
	return nil
}

func (m *ProvenanceMessage) RelationshipIDs() []string { return m.Relationships }
