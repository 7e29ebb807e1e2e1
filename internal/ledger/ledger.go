// Package ledger defines the consensus-ledger collaborator: ordered,
// append-only topics plus the token operations the mint worker drives.
//
// Two topic backends exist. The SQLite store (internal/store) is a local
// single-node network used for development and tests; the Kafka backend
// (internal/ledger/kafka) maps every topic onto a single-partition Kafka
// topic whose offsets serve as sequence numbers.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one entry of a topic as the ledger stores it.
type Record struct {
	ID        string // opaque message id, see FormatID
	TopicID   string
	Seq       int64 // 1-based, strictly increasing within a topic
	Payer     string
	Memo      string
	Body      []byte
	Timestamp time.Time
}

// Ledger is the topic half of the ledger protocol.
type Ledger interface {
	// CreateTopic allocates a new empty topic and returns its id.
	CreateTopic(ctx context.Context, memo string) (string, error)

	// Submit appends body to topicID. The returned record carries the
	// ledger-assigned id and sequence number.
	Submit(ctx context.Context, topicID, payer, memo string, body []byte) (Record, error)

	// Record fetches a record by its absolute id.
	// Returns sentinel.ErrNotFound (wrapped) when absent.
	Record(ctx context.Context, id string) (Record, error)

	// Records returns at most limit records with Seq > afterSeq in
	// ascending sequence order. An empty slice means the end of the topic.
	Records(ctx context.Context, topicID string, afterSeq int64, limit int) ([]Record, error)
}

// TokenType distinguishes fungible from non-fungible tokens.
type TokenType string

const (
	Fungible    TokenType = "fungible"
	NonFungible TokenType = "non-fungible"
)

// Token describes a token known to the ledger.
type Token struct {
	ID       string
	Name     string
	Symbol   string
	Type     TokenType
	Decimals int
	Treasury string // account that receives minted units
	Owner    string // DID of the token owner, used for key custody
}

// TokenLedger is the token half of the ledger protocol.
// Every operation is authorised by the key passed alongside it.
type TokenLedger interface {
	MintFungible(ctx context.Context, tokenID string, supplyKey []byte, amount int64, memo string) error
	MintNonFungible(ctx context.Context, tokenID string, supplyKey []byte, metadata [][]byte, memo string) ([]int64, error)
	TransferFungible(ctx context.Context, tokenID, from, to string, treasuryKey []byte, amount int64, memo string) error
	TransferNonFungible(ctx context.Context, tokenID, from, to string, treasuryKey []byte, serials []int64, memo string) error
	Wipe(ctx context.Context, tokenID, account string, wipeKey []byte, amount int64, memo string) error
	Balance(ctx context.Context, tokenID, account string) (int64, error)
}

// FormatID builds the message id for a record. Callers outside the ledger
// backends must treat ids as opaque strings.
func FormatID(topicID string, seq int64) string {
	return topicID + "-" + strconv.FormatInt(seq, 10)
}

// ParseID splits an id produced by FormatID.
func ParseID(id string) (topicID string, seq int64, err error) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("malformed message id %q", id)
	}
	seq, err = strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil || seq < 1 {
		return "", 0, fmt.Errorf("malformed message id %q", id)
	}
	return id[:i], seq, nil
}
