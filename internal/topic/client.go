// Package topic publishes messages to ledger topics and reads them back.
//
// The client is the only place that combines the ledger with the content
// store: documents go to the content store, the canonical JSON envelope
// goes to the ledger, and reads resolve both back into a typed message.
package topic

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/roach88/anchor/internal/blob"
	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/message"
	"github.com/roach88/anchor/internal/metrics"
	"github.com/roach88/anchor/internal/sentinel"
)

// DefaultPageSize is the number of ledger records fetched per scan page.
const DefaultPageSize = 100

// PublishedRef identifies a published message.
type PublishedRef struct {
	ID      string
	TopicID string
}

// Filter selects messages during a scan. Empty fields match anything.
type Filter struct {
	Type   message.Type
	Action message.Action
}

func (f Filter) match(h message.Envelope) bool {
	return (f.Type == "" || h.Type == f.Type) && (f.Action == "" || h.Action == f.Action)
}

// Client publishes and resolves messages.
//
// Thread-safety: Client is safe for concurrent use if its ledger and blob
// store are.
type Client struct {
	ledger   ledger.Ledger
	blobs    blob.Store
	payer    string
	pageSize int
	metrics  *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize sets the scan page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithMetrics records publication latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client that pays for submissions from payer.
func NewClient(l ledger.Ledger, blobs blob.Store, payer string, opts ...Option) *Client {
	c := &Client{
		ledger:   l,
		blobs:    blobs,
		payer:    payer,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithPayer returns a copy of c that submits as payer.
func (c *Client) WithPayer(payer string) *Client {
	cp := *c
	cp.payer = payer
	return &cp
}

// Payer returns the account submissions are paid from.
func (c *Client) Payer() string {
	return c.payer
}

// CreateTopic allocates a new topic on the ledger.
func (c *Client) CreateTopic(ctx context.Context, memo string) (string, error) {
	id, err := c.ledger.CreateTopic(ctx, memo)
	if err != nil {
		return "", fmt.Errorf("create topic: %w", err)
	}
	return id, nil
}

// Publish validates m, uploads its documents and appends it to topicID.
// On success the ledger reference is recorded on m. Publish never retries;
// a failed submission leaves m without a ledger reference.
func (c *Client) Publish(ctx context.Context, topicID string, m message.Message) (ref PublishedRef, err error) {
	start := time.Now()
	defer func() { c.metrics.ObservePublish(time.Since(start), err) }()

	h := m.Header()
	if h.ID() != "" {
		return PublishedRef{}, fmt.Errorf("publish %s: already published as %s: %w", h.Type, h.ID(), message.ErrImmutable)
	}
	w, err := message.ToWire(m)
	if err != nil {
		return PublishedRef{}, err
	}

	for i, data := range w.Blobs {
		cid, err := c.blobs.Put(ctx, data)
		if err != nil {
			return PublishedRef{}, fmt.Errorf("publish %s: store document %d: %w", h.Type, i, err)
		}
		if string(cid) != h.URLs[i].CID {
			return PublishedRef{}, fmt.Errorf("publish %s: content store returned %s, expected %s",
				h.Type, cid, h.URLs[i].CID)
		}
	}

	rec, err := c.ledger.Submit(ctx, topicID, c.payer, h.Memo(), w.JSON)
	if err != nil {
		return PublishedRef{}, fmt.Errorf("publish %s to %s: %w", h.Type, topicID, err)
	}
	if err := h.SetLedgerRef(rec.ID, rec.TopicID, rec.Payer); err != nil {
		return PublishedRef{}, fmt.Errorf("publish %s: %w", h.Type, err)
	}

	slog.DebugContext(ctx, "message published",
		"topic_id", rec.TopicID,
		"message_id", rec.ID,
		"type", h.Type,
		"action", h.Action,
	)
	return PublishedRef{ID: rec.ID, TopicID: rec.TopicID}, nil
}

// GetMessage fetches a message by id. want may be empty to accept any type.
// Fails with sentinel.ErrNotFound when absent and an INVALID_MESSAGE_TYPE
// codec error when the stored type differs from want.
func (c *Client) GetMessage(ctx context.Context, id string, want message.Type) (message.Message, error) {
	rec, err := c.ledger.Record(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	m, err := c.decode(ctx, rec, want)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

// Scan returns every message of topicID matching f in ledger order. The
// sequence is lazy: records are fetched a page at a time as the caller
// ranges over it. Each range starts again from the beginning of the topic.
//
// Malformed records are logged and skipped. A ledger or content-store
// failure is yielded as an error and ends the scan.
func (c *Client) Scan(ctx context.Context, topicID string, f Filter) iter.Seq2[message.Message, error] {
	return c.ScanFrom(ctx, topicID, 0, f)
}

// ScanFrom is Scan starting after sequence number afterSeq.
func (c *Client) ScanFrom(ctx context.Context, topicID string, afterSeq int64, f Filter) iter.Seq2[message.Message, error] {
	return func(yield func(message.Message, error) bool) {
		cursor := afterSeq
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			page, err := c.ledger.Records(ctx, topicID, cursor, c.pageSize)
			if err != nil {
				yield(nil, fmt.Errorf("scan %s: %w", topicID, err))
				return
			}
			for _, rec := range page {
				cursor = rec.Seq
				m, err := c.scanRecord(ctx, rec, f)
				if err != nil {
					yield(nil, err)
					return
				}
				if m == nil {
					continue
				}
				if !yield(m, nil) {
					return
				}
			}
			if len(page) < c.pageSize {
				return
			}
		}
	}
}

// scanRecord decodes rec if it passes f. Returns nil, nil for records that
// are filtered out or malformed.
func (c *Client) scanRecord(ctx context.Context, rec ledger.Record, f Filter) (message.Message, error) {
	h, err := message.PeekHeader(rec.Body)
	if err != nil {
		logSkipped(ctx, rec, err)
		return nil, nil
	}
	if !f.match(h) {
		return nil, nil
	}
	m, err := c.decode(ctx, rec, "")
	if err != nil {
		if isMalformed(err) {
			logSkipped(ctx, rec, err)
			return nil, nil
		}
		return nil, fmt.Errorf("scan %s: %w", rec.TopicID, err)
	}
	return m, nil
}

func (c *Client) decode(ctx context.Context, rec ledger.Record, want message.Type) (message.Message, error) {
	h, err := message.PeekHeader(rec.Body)
	if err != nil {
		return nil, err
	}
	if want != "" && h.Type != want {
		return nil, &message.CodecError{
			Code:    message.ErrCodeInvalidMessageType,
			Message: fmt.Sprintf("expected %s, got %s", want, h.Type),
			Type:    h.Type,
		}
	}

	refs := h.References()
	blobs := make([][]byte, 0, len(refs))
	for _, cid := range refs {
		data, err := c.blobs.Get(ctx, cid)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", cid, err)
		}
		blobs = append(blobs, data)
	}

	m, err := message.FromWire(rec.Body, blobs, want)
	if err != nil {
		return nil, err
	}
	mh := m.Header()
	if err := mh.SetLedgerRef(rec.ID, rec.TopicID, rec.Payer); err != nil {
		return nil, err
	}
	mh.SetMemo(rec.Memo)
	return m, nil
}

// isMalformed reports errors that come from the record itself rather than
// from the infrastructure: undecodable messages and documents that are
// missing or do not match their CID.
func isMalformed(err error) bool {
	return message.IsCodecError(err) ||
		errors.Is(err, sentinel.ErrNotFound) ||
		errors.Is(err, blob.ErrCIDMismatch)
}

func logSkipped(ctx context.Context, rec ledger.Record, err error) {
	slog.WarnContext(ctx, "skipping malformed message",
		"topic_id", rec.TopicID,
		"message_id", rec.ID,
		"error", err,
	)
}

// Seq returns the ledger sequence number of a message read from a topic,
// or 0 for messages that were never published.
func Seq(m message.Message) int64 {
	_, seq, err := ledger.ParseID(m.Header().ID())
	if err != nil {
		return 0
	}
	return seq
}
