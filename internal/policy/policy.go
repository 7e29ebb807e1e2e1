// Package policy holds the policy registry records the token worker and the
// synchronization loop read: published policies, their group membership,
// and the joint-mint transactions a Main policy waits on.
package policy

import (
	"context"
	"time"
)

// Status is the publication state of a policy.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISH"
)

// Policy is one published policy instance.
type Policy struct {
	ID                     string
	Name                   string
	Owner                  string // owner DID
	OwnerAccount           string // ledger account paying for the owner's messages
	Status                 Status
	TopicID                string
	InstanceTopicID        string
	SynchronizationTopicID string
}

// Synchronized reports whether the policy takes part in a policy group.
func (p Policy) Synchronized() bool {
	return p.Status == StatusPublished && p.SynchronizationTopicID != ""
}

// GroupType is the role a policy instance plays in its group.
type GroupType string

const (
	GroupMain GroupType = "Main"
	GroupSub  GroupType = "Sub"
)

// GroupConfig binds a user of one policy instance to a policy group.
type GroupConfig struct {
	InstanceTopicID        string
	Owner                  string // DID of the user the config belongs to
	User                   string // the user's ledger account
	PolicyOwner            string // ledger account of the policy owner
	MainPolicyTopicID      string
	SynchronizationTopicID string
	Type                   GroupType
}

// TransactionStatus moves forward only: Pending to Completed or Failed.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "Pending"
	TxCompleted TransactionStatus = "Completed"
	TxFailed    TransactionStatus = "Failed"
)

// Transaction is a joint mint waiting for every group member to contribute.
type Transaction struct {
	ID            string
	PolicyID      string
	User          string
	Hash          string // hash of the originating credential set
	MessageID     string // the Main policy's own contribution source
	TokenID       string
	Amount        int64
	Target        string
	Status        TransactionStatus
	Contributions []string // synchronization messages spent, set when finished
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository persists policies, group configs and transactions.
type Repository interface {
	Policy(ctx context.Context, id string) (Policy, error)
	PublishedPolicies(ctx context.Context) ([]Policy, error)
	GroupConfig(ctx context.Context, instanceTopicID, owner string) (GroupConfig, error)

	CreateTransaction(ctx context.Context, tx Transaction) error
	CountPendingTransactions(ctx context.Context, policyID string) (int, error)
	PendingTransactions(ctx context.Context, policyID, user string) ([]Transaction, error)

	// SpentContributions lists the contributions recorded on the user's
	// finished transactions of a policy.
	SpentContributions(ctx context.Context, policyID, user string) ([]string, error)

	// CompleteTransaction and FailTransaction only move a Pending
	// transaction; any other state yields sentinel.ErrInvalidState.
	CompleteTransaction(ctx context.Context, id string, contributions []string) error
	FailTransaction(ctx context.Context, id string, contributions []string, reason string) error
}
