package multipolicy

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/keys"
	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/message"
	"github.com/roach88/anchor/internal/mint"
	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/store"
	"github.com/roach88/anchor/internal/topic"
	"github.com/roach88/anchor/internal/workers"
)

// countingMinter counts joint mints handed to the real token worker.
type countingMinter struct {
	Minter
	calls atomic.Int32
}

func (c *countingMinter) MultiMint(ctx context.Context, tokenID string, amount int64, target string, ids []string, provenanceTopic string) (mint.Result, error) {
	c.calls.Add(1)
	return c.Minter.MultiMint(ctx, tokenID, amount, target, ids, provenanceTopic)
}

type groupWorld struct {
	store        *store.Store
	client       *topic.Client
	minter       *mint.Service
	tokenID      string
	mainInstance string
	subInstance  string
	syncTopic    string
}

func newGroupWorld(t *testing.T) *groupWorld {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "anchor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := topic.NewClient(st, st.Blobs(), "0.0.2")
	newTopic := func(memo string) string {
		id, err := client.CreateTopic(ctx, memo)
		require.NoError(t, err)
		return id
	}

	tok := ledger.Token{Name: "Carbon", Symbol: "CO2", Type: ledger.Fungible, Treasury: "0.0.2", Owner: "did:example:issuer"}
	tk := store.TokenKeys{Supply: []byte("supply"), Treasury: []byte("treasury"), Wipe: []byte("wipe")}
	tokenID, err := st.CreateToken(ctx, tok, tk)
	require.NoError(t, err)
	require.NoError(t, st.PutKey(ctx, tok.Owner, keys.PurposeSupply, tokenID, tk.Supply))
	require.NoError(t, st.PutKey(ctx, tok.Owner, keys.PurposeTreasury, tokenID, tk.Treasury))

	pool := workers.New(workers.Config{Size: 2, MaxRetries: 1, RetryInterval: time.Millisecond})
	t.Cleanup(pool.Close)

	w := &groupWorld{
		store:        st,
		client:       client,
		tokenID:      tokenID,
		mainInstance: newTopic("main"),
		subInstance:  newTopic("sub"),
		syncTopic:    newTopic("sync"),
	}
	w.minter = mint.NewService(st, st, st, client, pool,
		mint.WithGroups(st, func(account string) mint.Publisher { return client.WithPayer(account) }),
		mint.WithRequests(st),
	)
	return w
}

// join registers the user's membership the way the policy group command
// does: a registration paid by the user plus the local group config.
func (w *groupWorld) join(t *testing.T, instance, owner string, typ policy.GroupType) {
	t.Helper()
	ctx := context.Background()
	reg := message.NewSynchronizationMessage(message.ActionCreateMultiPolicy)
	reg.Policy, reg.PolicyType, reg.PolicyOwner, reg.User = instance, string(typ), owner, user
	_, err := w.client.WithPayer(user).Publish(ctx, w.syncTopic, reg)
	require.NoError(t, err)
	require.NoError(t, w.store.PutGroupConfig(ctx, policy.GroupConfig{
		InstanceTopicID:        instance,
		Owner:                  "did:example:alice",
		User:                   user,
		PolicyOwner:            owner,
		MainPolicyTopicID:      w.mainInstance,
		SynchronizationTopicID: w.syncTopic,
		Type:                   typ,
	}))
}

func (w *groupWorld) request(instance, vp, policyID string) mint.Request {
	return mint.Request{
		TokenID:         w.tokenID,
		Amount:          10,
		Owner:           "did:example:alice",
		Target:          "0.0.500",
		MessageID:       vp,
		Documents:       []map[string]any{{"id": vp, "credentialSubject": map[string]any{"area": 10}}},
		PolicyID:        policyID,
		InstanceTopicID: instance,
	}
}

func TestJointMintAcrossPolicies(t *testing.T) {
	ctx := context.Background()
	w := newGroupWorld(t)
	w.join(t, w.mainInstance, mainOwner, policy.GroupMain)
	w.join(t, w.subInstance, subOwner, policy.GroupSub)

	minter := &countingMinter{Minter: w.minter}
	svc := NewService(policy.Policy{
		ID:                     mainPolicy,
		OwnerAccount:           mainOwner,
		Status:                 policy.StatusPublished,
		InstanceTopicID:        w.mainInstance,
		SynchronizationTopicID: w.syncTopic,
	}, w.store, w.client, minter)

	res, err := w.minter.Execute(ctx, w.request(w.mainInstance, "0.0.77-1", mainPolicy))
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	rep, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Members)
	assert.Equal(t, 1, rep.Waiting)
	assert.Zero(t, minter.calls.Load())

	res, err = w.minter.Execute(ctx, w.request(w.subInstance, "0.0.88-4", ""))
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	rep, err = svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Completed)
	assert.Equal(t, int32(1), minter.calls.Load())

	txs, err := w.store.ListTransactions(ctx, store.TransactionFilter{PolicyID: mainPolicy})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, policy.TxCompleted, txs[0].Status)
	assert.Len(t, txs[0].Contributions, 2)

	balance, err := w.store.Balance(ctx, w.tokenID, "0.0.500")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	for range 2 {
		rep, err = svc.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, TickIdle, rep.Outcome)
	}
	assert.Equal(t, int32(1), minter.calls.Load())
	balance, err = w.store.Balance(ctx, w.tokenID, "0.0.500")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestJointMintIgnoresUnregisteredPolicy(t *testing.T) {
	ctx := context.Background()
	w := newGroupWorld(t)
	w.join(t, w.mainInstance, mainOwner, policy.GroupMain)
	// The Sub policy defers but its user never registered it, so the group
	// has one member and completes on the Main contribution alone.
	require.NoError(t, w.store.PutGroupConfig(ctx, policy.GroupConfig{
		InstanceTopicID:        w.subInstance,
		Owner:                  "did:example:alice",
		User:                   user,
		PolicyOwner:            subOwner,
		MainPolicyTopicID:      w.mainInstance,
		SynchronizationTopicID: w.syncTopic,
		Type:                   policy.GroupSub,
	}))

	minter := &countingMinter{Minter: w.minter}
	svc := NewService(policy.Policy{
		ID:                     mainPolicy,
		Status:                 policy.StatusPublished,
		InstanceTopicID:        w.mainInstance,
		SynchronizationTopicID: w.syncTopic,
	}, w.store, w.client, minter)

	_, err := w.minter.Execute(ctx, w.request(w.mainInstance, "0.0.77-1", mainPolicy))
	require.NoError(t, err)
	_, err = w.minter.Execute(ctx, w.request(w.subInstance, "0.0.88-4", ""))
	require.NoError(t, err)

	rep, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Completed)
	assert.Equal(t, int32(1), minter.calls.Load())
}
