package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/sentinel"
)

func TestMemoryLedger_SubmitAndRead(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	topicID, err := l.CreateTopic(ctx, "")
	require.NoError(t, err)

	first, err := l.Submit(ctx, topicID, "0.0.1", "m1", []byte("a"))
	require.NoError(t, err)
	second, err := l.Submit(ctx, topicID, "0.0.1", "m2", []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, Genesis.Add(DefaultStep), first.Timestamp)
	assert.True(t, second.Timestamp.After(first.Timestamp))

	got, err := l.Record(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	page, err := l.Records(ctx, topicID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Record{second}, page)

	_, err = l.Record(ctx, ledger.FormatID(topicID, 3))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryLedger_FailSubmits(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	topicID, err := l.CreateTopic(ctx, "")
	require.NoError(t, err)

	boom := errors.New("boom")
	l.FailSubmits(boom, nil)

	_, err = l.Submit(ctx, topicID, "0.0.1", "", []byte("a"))
	assert.ErrorIs(t, err, boom)
	_, err = l.Submit(ctx, topicID, "0.0.1", "", []byte("a"))
	assert.NoError(t, err)
	assert.Equal(t, 2, l.Submits())
	assert.Len(t, l.Topic(topicID), 1)

	_, err = l.Submit(ctx, "0.0.404", "0.0.1", "", []byte("a"))
	assert.Equal(t, ledger.ErrCodeTopicNotFound, ledger.CodeOf(err))
}

func TestTokenLedger_RecordsAndFails(t *testing.T) {
	l := NewTokenLedger()
	ctx := context.Background()

	calls := 0
	l.Fail = func(c TokenCall) error {
		if c.Op == OpMintNFT {
			calls++
			if calls == 1 {
				return ledger.NewError("mint", ledger.ErrCodeBusy, nil)
			}
		}
		return nil
	}

	_, err := l.MintNonFungible(ctx, "0.0.3", nil, make([][]byte, 2), "")
	assert.True(t, ledger.IsTransient(err))

	serials, err := l.MintNonFungible(ctx, "0.0.3", nil, make([][]byte, 2), "")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, serials)

	require.NoError(t, l.TransferNonFungible(ctx, "0.0.3", "0.0.2", "0.0.9", nil, serials, ""))
	bal, err := l.Balance(ctx, "0.0.3", "0.0.9")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bal)

	assert.Len(t, l.Attempts(), 3)
	assert.Len(t, l.Calls(), 2)
	assert.Len(t, l.CallsOf(OpMintNFT), 1)
}
