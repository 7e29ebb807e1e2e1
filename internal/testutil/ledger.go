package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/sentinel"
)

var _ ledger.Ledger = (*MemoryLedger)(nil)

// MemoryLedger is an in-memory ledger.Ledger.
//
// Thread-safety: MemoryLedger is safe for concurrent use.
type MemoryLedger struct {
	mu        sync.Mutex
	topics    map[string][]ledger.Record
	clocks    map[string]*ConsensusClock
	nextTopic int
	submitErr []error
	submits   int
}

// NewMemoryLedger creates an empty ledger. Each topic runs its own
// consensus clock from Genesis so records compare equal across runs.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		topics: make(map[string][]ledger.Record),
		clocks: make(map[string]*ConsensusClock),
	}
}

// FailSubmits makes the next len(errs) calls to Submit fail with errs in
// order. A nil entry lets that call through.
func (l *MemoryLedger) FailSubmits(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr = append(l.submitErr, errs...)
}

// Submits returns the number of Submit calls, failed ones included.
func (l *MemoryLedger) Submits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submits
}

// CreateTopic implements ledger.Ledger.
func (l *MemoryLedger) CreateTopic(ctx context.Context, memo string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextTopic++
	id := fmt.Sprintf("0.0.%d", 1000+l.nextTopic)
	l.topics[id] = nil
	l.clocks[id] = NewConsensusClock(Genesis, DefaultStep)
	return id, nil
}

// Submit implements ledger.Ledger.
func (l *MemoryLedger) Submit(ctx context.Context, topicID, payer, memo string, body []byte) (ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submits++

	if len(l.submitErr) > 0 {
		err := l.submitErr[0]
		l.submitErr = l.submitErr[1:]
		if err != nil {
			return ledger.Record{}, err
		}
	}
	clock, ok := l.clocks[topicID]
	if !ok {
		return ledger.Record{}, ledger.NewError("submit", ledger.ErrCodeTopicNotFound, nil)
	}
	seq, at := clock.Tick()
	rec := ledger.Record{
		ID:        ledger.FormatID(topicID, seq),
		TopicID:   topicID,
		Seq:       seq,
		Payer:     payer,
		Memo:      memo,
		Body:      append([]byte(nil), body...),
		Timestamp: at,
	}
	l.topics[topicID] = append(l.topics[topicID], rec)
	return rec, nil
}

// Record implements ledger.Ledger.
func (l *MemoryLedger) Record(ctx context.Context, id string) (ledger.Record, error) {
	topicID, seq, err := ledger.ParseID(id)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := l.topics[topicID]
	if seq > int64(len(recs)) {
		return ledger.Record{}, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	return recs[seq-1], nil
}

// Records implements ledger.Ledger.
func (l *MemoryLedger) Records(ctx context.Context, topicID string, afterSeq int64, limit int) ([]ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := l.topics[topicID]
	out := make([]ledger.Record, 0, limit)
	for i := afterSeq; i < int64(len(recs)) && len(out) < limit; i++ {
		out = append(out, recs[i])
	}
	return out, nil
}

// Topic returns a copy of every record in topicID.
func (l *MemoryLedger) Topic(topicID string) []ledger.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Record(nil), l.topics[topicID]...)
}
