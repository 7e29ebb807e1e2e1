// Package kafka stores ledger topics in Kafka.
//
// Every ledger topic is one single-partition Kafka topic named
// prefix+topicID, kept forever. The partition offset plus one is the
// record's sequence number, so ledger.FormatID ids stay stable across
// restarts. Payer and memo travel as record headers.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/sentinel"
)

// Record header keys.
const (
	headerPayer = "anchor-payer"
	headerMemo  = "anchor-memo"
)

// DefaultReadTimeout bounds a single Records call.
const DefaultReadTimeout = 10 * time.Second

// Ledger implements ledger.Ledger on a Kafka cluster.
//
// Thread-safety: all methods may be called concurrently.
type Ledger struct {
	brokers     []string
	prefix      string
	readTimeout time.Duration

	client *kgo.Client
	admin  *kadm.Client

	known  sync.Map // kafka topic name -> struct{}
	lastID atomic.Int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithReadTimeout bounds how long Records waits for a page.
func WithReadTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

// New connects to brokers. Topic names are prefixed with prefix.
func New(ctx context.Context, brokers []string, prefix string, opts ...Option) (*Ledger, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka ledger: no brokers")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka ledger: create client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ledger: ping: %w", err)
	}
	l := &Ledger{
		brokers:     brokers,
		prefix:      prefix,
		readTimeout: DefaultReadTimeout,
		client:      client,
		admin:       kadm.NewClient(client),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close releases the client.
func (l *Ledger) Close() {
	l.client.Close()
}

func (l *Ledger) kafkaTopic(topicID string) string {
	return l.prefix + topicID
}

// nextTopicID returns a new id in the ledger's shard.realm.num form. The
// number is time based and strictly increasing within the process.
func (l *Ledger) nextTopicID() string {
	now := time.Now().UnixMicro()
	for {
		last := l.lastID.Load()
		next := max(now, last+1)
		if l.lastID.CompareAndSwap(last, next) {
			return "0.0." + strconv.FormatInt(next, 10)
		}
	}
}

// CreateTopic creates a single-partition topic with unlimited retention.
// Kafka topics carry no memo, so memo is only logged.
func (l *Ledger) CreateTopic(ctx context.Context, memo string) (string, error) {
	id := l.nextTopicID()
	name := l.kafkaTopic(id)
	configs := map[string]*string{
		"retention.ms":    kadm.StringPtr("-1"),
		"retention.bytes": kadm.StringPtr("-1"),
	}
	resp, err := l.admin.CreateTopic(ctx, 1, -1, configs, name)
	if err == nil {
		err = resp.Err
	}
	if err != nil {
		return "", ledgerError("create topic", err)
	}
	l.known.Store(name, struct{}{})
	slog.DebugContext(ctx, "kafka topic created", "topic_id", id, "kafka_topic", name, "memo", memo)
	return id, nil
}

// exists reports whether the Kafka topic for topicID exists. Positive
// answers are cached; topics are never deleted.
func (l *Ledger) exists(ctx context.Context, topicID string) error {
	name := l.kafkaTopic(topicID)
	if _, ok := l.known.Load(name); ok {
		return nil
	}
	details, err := l.admin.ListTopics(ctx, name)
	if err != nil {
		return err
	}
	d, ok := details[name]
	if !ok || d.Err != nil {
		return kerr.UnknownTopicOrPartition
	}
	l.known.Store(name, struct{}{})
	return nil
}

// Submit produces body and waits for the broker acknowledgement.
func (l *Ledger) Submit(ctx context.Context, topicID, payer, memo string, body []byte) (ledger.Record, error) {
	if err := l.exists(ctx, topicID); err != nil {
		return ledger.Record{}, ledgerError("submit", err)
	}
	rec := &kgo.Record{
		Topic: l.kafkaTopic(topicID),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: headerPayer, Value: []byte(payer)},
			{Key: headerMemo, Value: []byte(memo)},
		},
	}
	produced, err := l.client.ProduceSync(ctx, rec).First()
	if err != nil {
		return ledger.Record{}, ledgerError("submit", err)
	}
	return l.fromKafka(topicID, produced), nil
}

// Record fetches one record by id.
func (l *Ledger) Record(ctx context.Context, id string) (ledger.Record, error) {
	topicID, seq, err := ledger.ParseID(id)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("get record %s: %w", id, sentinel.ErrNotFound)
	}
	recs, err := l.Records(ctx, topicID, seq-1, 1)
	if err != nil {
		if ledger.CodeOf(err) == ledger.ErrCodeTopicNotFound {
			return ledger.Record{}, fmt.Errorf("get record %s: %w", id, sentinel.ErrNotFound)
		}
		return ledger.Record{}, err
	}
	if len(recs) == 0 {
		return ledger.Record{}, fmt.Errorf("get record %s: %w", id, sentinel.ErrNotFound)
	}
	return recs[0], nil
}

// Records reads up to limit records after afterSeq. It looks up the end
// offset first so it never blocks waiting for records that do not exist.
func (l *Ledger) Records(ctx context.Context, topicID string, afterSeq int64, limit int) ([]ledger.Record, error) {
	if err := l.exists(ctx, topicID); err != nil {
		return nil, ledgerError("read", err)
	}
	name := l.kafkaTopic(topicID)

	ends, err := l.admin.ListEndOffsets(ctx, name)
	if err != nil {
		return nil, ledgerError("read", err)
	}
	end, ok := ends.Lookup(name, 0)
	if !ok {
		return nil, ledgerError("read", kerr.UnknownTopicOrPartition)
	}
	if end.Err != nil {
		return nil, ledgerError("read", end.Err)
	}
	want := min(int64(limit), end.Offset-afterSeq)
	if want <= 0 {
		return nil, nil
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(l.brokers...),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			name: {0: kgo.NewOffset().At(afterSeq)},
		}),
	)
	if err != nil {
		return nil, ledgerError("read", err)
	}
	defer consumer.Close()

	readCtx, cancel := context.WithTimeout(ctx, l.readTimeout)
	defer cancel()

	out := make([]ledger.Record, 0, want)
	for int64(len(out)) < want {
		fetches := consumer.PollFetches(readCtx)
		if err := readCtx.Err(); err != nil {
			return nil, ledgerError("read", err)
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return nil, ledgerError("read", errs[0].Err)
		}
		fetches.EachRecord(func(r *kgo.Record) {
			if int64(len(out)) < want && r.Offset >= afterSeq {
				out = append(out, l.fromKafka(topicID, r))
			}
		})
	}
	return out, nil
}

func (l *Ledger) fromKafka(topicID string, r *kgo.Record) ledger.Record {
	seq := r.Offset + 1
	rec := ledger.Record{
		ID:        ledger.FormatID(topicID, seq),
		TopicID:   topicID,
		Seq:       seq,
		Body:      r.Value,
		Timestamp: r.Timestamp.UTC(),
	}
	for _, h := range r.Headers {
		switch h.Key {
		case headerPayer:
			rec.Payer = string(h.Value)
		case headerMemo:
			rec.Memo = string(h.Value)
		}
	}
	return rec
}

// ledgerError classifies Kafka failures. Timeouts and retriable broker
// errors are transient.
func ledgerError(op string, err error) error {
	switch {
	case errors.Is(err, kerr.UnknownTopicOrPartition):
		return ledger.NewError(op, ledger.ErrCodeTopicNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, kerr.RequestTimedOut):
		return ledger.NewError(op, ledger.ErrCodeTimeout, err)
	case errors.Is(err, kerr.ThrottlingQuotaExceeded):
		return ledger.NewError(op, ledger.ErrCodeRateLimited, err)
	case kerr.IsRetriable(err):
		return ledger.NewError(op, ledger.ErrCodeBusy, err)
	}
	return fmt.Errorf("ledger %s: %w", op, err)
}
