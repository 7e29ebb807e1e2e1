package topic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/blob"
	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/message"
	"github.com/roach88/anchor/internal/metrics"
	"github.com/roach88/anchor/internal/sentinel"
	"github.com/roach88/anchor/internal/testutil"
)

type fixture struct {
	ledger  *testutil.MemoryLedger
	blobs   *blob.Memory
	client  *Client
	topicID string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	l := testutil.NewMemoryLedger()
	b := blob.NewMemory()
	c := NewClient(l, b, "0.0.77", opts...)
	topicID, err := c.CreateTopic(context.Background(), "test")
	require.NoError(t, err)
	return &fixture{ledger: l, blobs: b, client: c, topicID: topicID}
}

func schemaMessage(name string) *message.SchemaMessage {
	m := message.NewSchemaMessage(message.TypeSchema, message.ActionCreateSchema)
	m.Name = name
	m.Version = "1.0.0"
	m.SchemaUUID = "uuid-" + name
	m.Document = map[string]any{"$id": "#" + name}
	m.Context = map[string]any{}
	return m
}

func mintContribution(policy, hash string) *message.SynchronizationMessage {
	m := message.NewSynchronizationMessage(message.ActionMint)
	m.Policy = policy
	m.PolicyOwner = "0.0.1"
	m.User = "0.0.50"
	m.Hash = hash
	m.MessageID = "0.0.9-1"
	m.TokenID = "0.0.3"
	m.Amount = 10
	return m
}

func TestPublish_ScenarioSchemaReadBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, err := f.client.Publish(ctx, f.topicID, schemaMessage("MonitoringReport"))
	require.NoError(t, err)
	assert.Equal(t, f.topicID, ref.TopicID)
	assert.Equal(t, 2, f.blobs.Len(), "schema and context documents stored off-ledger")

	got, err := f.client.GetMessage(ctx, ref.ID, message.TypeSchema)
	require.NoError(t, err)
	s := got.(*message.SchemaMessage)
	assert.Equal(t, message.TypeSchema, s.Type)
	assert.Equal(t, "MonitoringReport", s.Name)
	assert.Equal(t, "1.0.0", s.Version)
	assert.Equal(t, ref.ID, s.ID())
	assert.Equal(t, f.topicID, s.TopicID())
	assert.Equal(t, "0.0.77", s.Payer())
}

func TestPublish_SetsLedgerRefOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := schemaMessage("a")
	ref, err := f.client.Publish(ctx, f.topicID, m)
	require.NoError(t, err)
	assert.Equal(t, ref.ID, m.ID())

	// Publishing the same message instance again cannot reassign its id.
	_, err = f.client.Publish(ctx, f.topicID, m)
	assert.ErrorIs(t, err, message.ErrImmutable)
}

func TestPublish_MonotonicIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		m := mintContribution("0.0.10", "h")
		_, err := f.client.Publish(ctx, f.topicID, m)
		require.NoError(t, err)
		seq := Seq(m)
		assert.Greater(t, seq, last)
		last = seq
	}
}

func TestPublish_InvalidNeverReachesLedger(t *testing.T) {
	f := newFixture(t)

	m := mintContribution("0.0.10", "")
	_, err := f.client.Publish(context.Background(), f.topicID, m)
	require.Error(t, err)
	assert.True(t, message.IsInvalidMessage(err))
	assert.Equal(t, 0, f.ledger.Submits())
	assert.Empty(t, m.ID())
}

func TestPublish_NoRetryOnLedgerFailure(t *testing.T) {
	f := newFixture(t)
	busy := ledger.NewError("submit", ledger.ErrCodeBusy, nil)
	f.ledger.FailSubmits(busy)

	m := mintContribution("0.0.10", "h")
	_, err := f.client.Publish(context.Background(), f.topicID, m)
	assert.ErrorIs(t, err, busy)
	assert.True(t, ledger.IsTransient(err))
	assert.Equal(t, 1, f.ledger.Submits())
	assert.Empty(t, m.ID())
}

func TestPublish_RecordsLatency(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, WithMetrics(m))

	_, err := f.client.Publish(context.Background(), f.topicID, mintContribution("0.0.10", "h"))
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, fam := range families {
		if fam.GetName() == "anchor_topic_publish_duration_seconds" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGetMessage_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.GetMessage(context.Background(), ledger.FormatID(f.topicID, 42), "")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestGetMessage_InvalidType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, err := f.client.Publish(ctx, f.topicID, mintContribution("0.0.10", "h"))
	require.NoError(t, err)

	_, err = f.client.GetMessage(ctx, ref.ID, message.TypeVCDocument)
	require.Error(t, err)
	assert.True(t, message.IsInvalidType(err))

	got, err := f.client.GetMessage(ctx, ref.ID, "")
	require.NoError(t, err)
	assert.Equal(t, message.TypeSynchronization, got.Header().Type)
}

func TestScan_FiltersAndOrders(t *testing.T) {
	f := newFixture(t, WithPageSize(2))
	ctx := context.Background()

	for _, h := range []string{"h1", "h2", "h3"} {
		_, err := f.client.Publish(ctx, f.topicID, mintContribution("0.0.10", h))
		require.NoError(t, err)
		_, err = f.client.Publish(ctx, f.topicID, schemaMessage(h))
		require.NoError(t, err)
	}

	var hashes []string
	for m, err := range f.client.Scan(ctx, f.topicID, Filter{Type: message.TypeSynchronization, Action: message.ActionMint}) {
		require.NoError(t, err)
		hashes = append(hashes, m.(*message.SynchronizationMessage).Hash)
	}
	assert.Equal(t, []string{"h1", "h2", "h3"}, hashes)

	total := 0
	for _, err := range f.client.Scan(ctx, f.topicID, Filter{}) {
		require.NoError(t, err)
		total++
	}
	assert.Equal(t, 6, total)
}

func TestScan_Restartable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, h := range []string{"h1", "h2"} {
		_, err := f.client.Publish(ctx, f.topicID, mintContribution("0.0.10", h))
		require.NoError(t, err)
	}

	seq := f.client.Scan(ctx, f.topicID, Filter{})
	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 2, count())
	assert.Equal(t, 2, count())

	var resumed []string
	for m, err := range f.client.ScanFrom(ctx, f.topicID, 1, Filter{}) {
		require.NoError(t, err)
		resumed = append(resumed, m.(*message.SynchronizationMessage).Hash)
	}
	assert.Equal(t, []string{"h2"}, resumed)
}

func TestScan_EarlyBreak(t *testing.T) {
	f := newFixture(t, WithPageSize(1))
	ctx := context.Background()
	for _, h := range []string{"h1", "h2", "h3"} {
		_, err := f.client.Publish(ctx, f.topicID, mintContribution("0.0.10", h))
		require.NoError(t, err)
	}

	n := 0
	for range f.client.Scan(ctx, f.topicID, Filter{}) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestScan_SkipsMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.Publish(ctx, f.topicID, mintContribution("0.0.10", "h1"))
	require.NoError(t, err)
	_, err = f.ledger.Submit(ctx, f.topicID, "0.0.66", "", []byte("not json"))
	require.NoError(t, err)
	_, err = f.ledger.Submit(ctx, f.topicID, "0.0.66", "", []byte(`{"type":"Synchronization-Event","action":"mint","id":"x","lang":"en-US"}`))
	require.NoError(t, err)
	// References a document that was never stored.
	_, err = f.ledger.Submit(ctx, f.topicID, "0.0.66", "",
		[]byte(`{"type":"Schema","action":"create-schema","id":"y","lang":"en-US","urls":[{"cid":"bafkreimissing","uri":"ipfs://bafkreimissing"}]}`))
	require.NoError(t, err)
	_, err = f.client.Publish(ctx, f.topicID, mintContribution("0.0.10", "h2"))
	require.NoError(t, err)

	var hashes []string
	for m, err := range f.client.Scan(ctx, f.topicID, Filter{}) {
		require.NoError(t, err)
		hashes = append(hashes, m.(*message.SynchronizationMessage).Hash)
	}
	assert.Equal(t, []string{"h1", "h2"}, hashes)
}

type failingBlobs struct {
	*blob.Memory
	err error
}

func (b failingBlobs) Get(ctx context.Context, c blob.CID) ([]byte, error) {
	return nil, b.err
}

func TestScan_StopsOnStoreOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.Publish(ctx, f.topicID, schemaMessage("a"))
	require.NoError(t, err)

	outage := errors.New("connection refused")
	broken := NewClient(f.ledger, failingBlobs{Memory: f.blobs, err: outage}, "0.0.77")

	var errs []error
	for _, err := range broken.Scan(ctx, f.topicID, Filter{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], outage)
}

func TestScan_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range f.client.Scan(ctx, f.topicID, Filter{}) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestWithPayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := f.client.WithPayer("0.0.88")
	ref, err := other.Publish(ctx, f.topicID, mintContribution("0.0.10", "h"))
	require.NoError(t, err)

	got, err := f.client.GetMessage(ctx, ref.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "0.0.88", got.Header().Payer())
	assert.Equal(t, "0.0.77", f.client.Payer())
}
