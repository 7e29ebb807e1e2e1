package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/sentinel"
)

func TestPolicies_Published(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutPolicy(ctx, policy.Policy{ID: "p2", Name: "B", Owner: "did:b", OwnerAccount: "0.0.2", Status: policy.StatusPublished}))
	require.NoError(t, s.PutPolicy(ctx, policy.Policy{ID: "p1", Name: "A", Owner: "did:a", OwnerAccount: "0.0.1", Status: policy.StatusPublished, SynchronizationTopicID: "0.0.9"}))
	require.NoError(t, s.PutPolicy(ctx, policy.Policy{ID: "p3", Name: "C", Owner: "did:c", OwnerAccount: "0.0.3", Status: policy.StatusDraft}))

	published, err := s.PublishedPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, published, 2)
	assert.Equal(t, "p1", published[0].ID)
	assert.True(t, published[0].Synchronized())
	assert.False(t, published[1].Synchronized())

	_, err = s.Policy(ctx, "nope")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestGroupConfig_PutAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := policy.GroupConfig{
		InstanceTopicID:        "0.0.10",
		Owner:                  "did:user",
		User:                   "0.0.50",
		PolicyOwner:            "0.0.1",
		MainPolicyTopicID:      "0.0.10",
		SynchronizationTopicID: "0.0.9",
		Type:                   policy.GroupMain,
	}
	require.NoError(t, s.PutGroupConfig(ctx, cfg))

	got, err := s.GroupConfig(ctx, "0.0.10", "did:user")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	_, err = s.GroupConfig(ctx, "0.0.10", "did:other")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func pendingTx(id, hash string) policy.Transaction {
	return policy.Transaction{
		ID:       id,
		PolicyID: "p1",
		User:     "0.0.50",
		Hash:     hash,
		TokenID:  "0.0.3",
		Amount:   10,
		Target:   "0.0.50",
	}
}

func TestTransactions_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTransaction(ctx, pendingTx("tx1", "h1")))
	require.NoError(t, s.CreateTransaction(ctx, pendingTx("tx2", "h2")))
	// Same (policy, user, hash) is ignored.
	require.NoError(t, s.CreateTransaction(ctx, pendingTx("tx3", "h1")))

	n, err := s.CountPendingTransactions(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.CompleteTransaction(ctx, "tx1", []string{"0.0.9-1", "0.0.9-2"}))
	require.NoError(t, s.FailTransaction(ctx, "tx2", []string{"0.0.9-3"}, "ledger said no"))

	pending, err := s.PendingTransactions(ctx, "p1", "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	tx1, err := s.Transaction(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, policy.TxCompleted, tx1.Status)
	assert.Equal(t, []string{"0.0.9-1", "0.0.9-2"}, tx1.Contributions)

	tx2, err := s.Transaction(ctx, "tx2")
	require.NoError(t, err)
	assert.Equal(t, policy.TxFailed, tx2.Status)
	assert.Equal(t, "ledger said no", tx2.Error)
	assert.Equal(t, []string{"0.0.9-3"}, tx2.Contributions)
}

func TestSpentContributions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	other := pendingTx("tx4", "h4")
	other.User = "0.0.60"
	for _, tx := range []policy.Transaction{pendingTx("tx1", "h1"), pendingTx("tx2", "h2"), pendingTx("tx3", "h3"), other} {
		require.NoError(t, s.CreateTransaction(ctx, tx))
	}
	require.NoError(t, s.CompleteTransaction(ctx, "tx1", []string{"0.0.9-1", "0.0.9-2"}))
	require.NoError(t, s.FailTransaction(ctx, "tx2", []string{"0.0.9-3"}, "ledger said no"))
	require.NoError(t, s.CompleteTransaction(ctx, "tx4", []string{"0.0.9-4"}))

	spent, err := s.SpentContributions(ctx, "p1", "0.0.50")
	require.NoError(t, err)
	assert.Equal(t, []string{"0.0.9-1", "0.0.9-2", "0.0.9-3"}, spent)

	spent, err = s.SpentContributions(ctx, "p2", "0.0.50")
	require.NoError(t, err)
	assert.Empty(t, spent)
}

func TestTransactions_NeverMoveBackward(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTransaction(ctx, pendingTx("tx1", "h1")))
	require.NoError(t, s.CompleteTransaction(ctx, "tx1", []string{"a"}))

	assert.ErrorIs(t, s.CompleteTransaction(ctx, "tx1", []string{"b"}), sentinel.ErrInvalidState)
	assert.ErrorIs(t, s.FailTransaction(ctx, "tx1", nil, "late"), sentinel.ErrInvalidState)
	assert.ErrorIs(t, s.FailTransaction(ctx, "missing", nil, "x"), sentinel.ErrNotFound)

	tx, err := s.Transaction(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tx.Contributions)
}

func TestListTransactions_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	other := pendingTx("tx2", "h2")
	other.User = "0.0.60"
	require.NoError(t, s.CreateTransaction(ctx, pendingTx("tx1", "h1")))
	require.NoError(t, s.CreateTransaction(ctx, other))

	byUser, err := s.PendingTransactions(ctx, "p1", "0.0.60")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "tx2", byUser[0].ID)

	all, err := s.ListTransactions(ctx, TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
