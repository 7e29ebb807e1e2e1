package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/sentinel"
)

func TestCreateTopic_AllocatesEntityIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.CreateTopic(ctx, "first")
	require.NoError(t, err)
	second, err := s.CreateTopic(ctx, "second")
	require.NoError(t, err)

	assert.Equal(t, "0.0.1", first)
	assert.Equal(t, "0.0.2", second)
}

func TestSubmit_AssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	topicID, err := s.CreateTopic(ctx, "")
	require.NoError(t, err)

	for want := int64(1); want <= 3; want++ {
		rec, err := s.Submit(ctx, topicID, "0.0.100", "memo", []byte(`{"n":1}`))
		require.NoError(t, err)
		assert.Equal(t, want, rec.Seq)
		assert.Equal(t, ledger.FormatID(topicID, want), rec.ID)
	}
}

func TestSubmit_UnknownTopic(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Submit(context.Background(), "0.0.404", "0.0.100", "", []byte("{}"))
	require.Error(t, err)
	assert.Equal(t, ledger.ErrCodeTopicNotFound, ledger.CodeOf(err))
	assert.False(t, ledger.IsTransient(err))
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestRecord_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	topicID, err := s.CreateTopic(ctx, "")
	require.NoError(t, err)
	submitted, err := s.Submit(ctx, topicID, "0.0.100", "hello", []byte(`{"a":1}`))
	require.NoError(t, err)

	got, err := s.Record(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, submitted, got)
}

func TestRecord_NotFound(t *testing.T) {
	s := createTestStore(t)

	for _, id := range []string{"0.0.1-1", "garbage"} {
		_, err := s.Record(context.Background(), id)
		assert.ErrorIs(t, err, sentinel.ErrNotFound, id)
	}
}

func TestRecords_Paging(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	topicID, err := s.CreateTopic(ctx, "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.Submit(ctx, topicID, "0.0.100", "", []byte("{}"))
		require.NoError(t, err)
	}

	page, err := s.Records(ctx, topicID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].Seq)
	assert.Equal(t, int64(2), page[1].Seq)

	page, err = s.Records(ctx, topicID, 4, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(5), page[0].Seq)

	page, err = s.Records(ctx, topicID, 5, 10)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)
}

func TestFungible_MintTransferWipe(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tokenID := createTestToken(t, s, ledger.Fungible)

	require.NoError(t, s.MintFungible(ctx, tokenID, testKeys.Supply, 100, "mint"))
	require.NoError(t, s.TransferFungible(ctx, tokenID, "0.0.2", "0.0.7", testKeys.Treasury, 60, "transfer"))
	require.NoError(t, s.Wipe(ctx, tokenID, "0.0.7", testKeys.Wipe, 10, "wipe"))

	treasury, err := s.Balance(ctx, tokenID, "0.0.2")
	require.NoError(t, err)
	user, err := s.Balance(ctx, tokenID, "0.0.7")
	require.NoError(t, err)
	assert.Equal(t, int64(40), treasury)
	assert.Equal(t, int64(50), user)

	ops, err := s.TokenOperations(ctx, tokenID)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "mint", ops[0].Op)
	assert.Equal(t, "transfer", ops[1].Op)
	assert.Equal(t, "wipe", ops[2].Op)
}

func TestFungible_InsufficientBalance(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tokenID := createTestToken(t, s, ledger.Fungible)

	require.NoError(t, s.MintFungible(ctx, tokenID, testKeys.Supply, 5, ""))
	err := s.TransferFungible(ctx, tokenID, "0.0.2", "0.0.7", testKeys.Treasury, 6, "")
	assert.Equal(t, ledger.ErrCodeInsufficientBalance, ledger.CodeOf(err))

	// Failed transfer leaves balances untouched.
	bal, err := s.Balance(ctx, tokenID, "0.0.2")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)
}

func TestTokenOps_WrongKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tokenID := createTestToken(t, s, ledger.Fungible)

	err := s.MintFungible(ctx, tokenID, []byte("not-the-supply-key"), 1, "")
	assert.Equal(t, ledger.ErrCodeInvalidSignature, ledger.CodeOf(err))

	err = s.MintFungible(ctx, tokenID, nil, 1, "")
	assert.Equal(t, ledger.ErrCodeInvalidSignature, ledger.CodeOf(err))

	err = s.Wipe(ctx, tokenID, "0.0.2", testKeys.Supply, 1, "")
	assert.Equal(t, ledger.ErrCodeInvalidSignature, ledger.CodeOf(err))
}

func TestTokenOps_UnknownToken(t *testing.T) {
	s := createTestStore(t)

	err := s.MintFungible(context.Background(), "0.0.999", testKeys.Supply, 1, "")
	assert.Equal(t, ledger.ErrCodeInvalidToken, ledger.CodeOf(err))
}

func TestNonFungible_MintAndTransfer(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tokenID := createTestToken(t, s, ledger.NonFungible)

	serials, err := s.MintNonFungible(ctx, tokenID, testKeys.Supply, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, serials)

	more, err := s.MintNonFungible(ctx, tokenID, testKeys.Supply, [][]byte{[]byte("d")}, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, more)

	require.NoError(t, s.TransferNonFungible(ctx, tokenID, "0.0.2", "0.0.7", testKeys.Treasury, []int64{1, 3}, ""))

	user, err := s.Balance(ctx, tokenID, "0.0.7")
	require.NoError(t, err)
	assert.Equal(t, int64(2), user)

	// Serial 1 is no longer held by the treasury.
	err = s.TransferNonFungible(ctx, tokenID, "0.0.2", "0.0.8", testKeys.Treasury, []int64{1}, "")
	assert.Equal(t, ledger.ErrCodeInsufficientBalance, ledger.CodeOf(err))

	require.NoError(t, s.Wipe(ctx, tokenID, "0.0.7", testKeys.Wipe, 1, ""))
	var remaining int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM token_serials WHERE account = '0.0.7'`).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}

func TestNonFungible_RejectsFungibleMint(t *testing.T) {
	s := createTestStore(t)
	tokenID := createTestToken(t, s, ledger.NonFungible)

	err := s.MintFungible(context.Background(), tokenID, testKeys.Supply, 10, "")
	assert.Equal(t, ledger.ErrCodeInvalidToken, ledger.CodeOf(err))
}

func TestToken_Lookup(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tokenID := createTestToken(t, s, ledger.NonFungible)

	tok, err := s.Token(ctx, tokenID)
	require.NoError(t, err)
	assert.Equal(t, ledger.NonFungible, tok.Type)
	assert.Equal(t, "0.0.2", tok.Treasury)
	assert.Equal(t, "did:example:owner", tok.Owner)

	_, err = s.Token(ctx, "0.0.999")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
