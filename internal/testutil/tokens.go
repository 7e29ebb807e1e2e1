package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/anchor/internal/ledger"
)

var _ ledger.TokenLedger = (*TokenLedger)(nil)

// Token operations recorded by TokenLedger.
const (
	OpMint        = "mint"
	OpMintNFT     = "mint-nft"
	OpTransfer    = "transfer"
	OpTransferNFT = "transfer-nft"
	OpWipe        = "wipe"
)

// TokenCall is one call made against a TokenLedger.
type TokenCall struct {
	Op      string
	TokenID string
	From    string
	To      string
	Amount  int64 // units, or number of serials for NFT operations
	Serials []int64
	Memo    string
	Key     []byte
}

// TokenLedger records token operations and assigns serial numbers.
// Fail, when set, is consulted before every call; a non-nil result fails
// that attempt without recording it as successful.
//
// Thread-safety: TokenLedger is safe for concurrent use.
type TokenLedger struct {
	Fail func(TokenCall) error

	mu         sync.Mutex
	attempts   []TokenCall
	calls      []TokenCall
	nextSerial int64
	balances   map[string]int64
}

// NewTokenLedger creates an empty recording ledger.
func NewTokenLedger() *TokenLedger {
	return &TokenLedger{balances: make(map[string]int64)}
}

func (l *TokenLedger) do(call TokenCall) error {
	l.mu.Lock()
	l.attempts = append(l.attempts, call)
	fail := l.Fail
	l.mu.Unlock()

	if fail != nil {
		if err := fail(call); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
	return nil
}

// Calls returns the successful calls in completion order.
func (l *TokenLedger) Calls() []TokenCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

// CallsOf returns the successful calls of one operation.
func (l *TokenLedger) CallsOf(op string) []TokenCall {
	var out []TokenCall
	for _, c := range l.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Attempts returns every call, failed ones included.
func (l *TokenLedger) Attempts() []TokenCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.attempts)
}

// MintFungible implements ledger.TokenLedger.
func (l *TokenLedger) MintFungible(ctx context.Context, tokenID string, supplyKey []byte, amount int64, memo string) error {
	return l.do(TokenCall{Op: OpMint, TokenID: tokenID, Amount: amount, Memo: memo, Key: supplyKey})
}

// MintNonFungible implements ledger.TokenLedger.
func (l *TokenLedger) MintNonFungible(ctx context.Context, tokenID string, supplyKey []byte, metadata [][]byte, memo string) ([]int64, error) {
	call := TokenCall{Op: OpMintNFT, TokenID: tokenID, Amount: int64(len(metadata)), Memo: memo, Key: supplyKey}
	if err := l.do(call); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	serials := make([]int64, len(metadata))
	for i := range serials {
		l.nextSerial++
		serials[i] = l.nextSerial
	}
	return serials, nil
}

// TransferFungible implements ledger.TokenLedger.
func (l *TokenLedger) TransferFungible(ctx context.Context, tokenID, from, to string, treasuryKey []byte, amount int64, memo string) error {
	call := TokenCall{Op: OpTransfer, TokenID: tokenID, From: from, To: to, Amount: amount, Memo: memo, Key: treasuryKey}
	if err := l.do(call); err != nil {
		return err
	}
	l.credit(tokenID, to, amount)
	return nil
}

// TransferNonFungible implements ledger.TokenLedger.
func (l *TokenLedger) TransferNonFungible(ctx context.Context, tokenID, from, to string, treasuryKey []byte, serials []int64, memo string) error {
	call := TokenCall{Op: OpTransferNFT, TokenID: tokenID, From: from, To: to,
		Amount: int64(len(serials)), Serials: slices.Clone(serials), Memo: memo, Key: treasuryKey}
	if err := l.do(call); err != nil {
		return err
	}
	l.credit(tokenID, to, int64(len(serials)))
	return nil
}

// Wipe implements ledger.TokenLedger.
func (l *TokenLedger) Wipe(ctx context.Context, tokenID, account string, wipeKey []byte, amount int64, memo string) error {
	call := TokenCall{Op: OpWipe, TokenID: tokenID, To: account, Amount: amount, Memo: memo, Key: wipeKey}
	if err := l.do(call); err != nil {
		return err
	}
	l.credit(tokenID, account, -amount)
	return nil
}

// Balance implements ledger.TokenLedger. Only transfers and wipes move
// balances; the treasury is not tracked.
func (l *TokenLedger) Balance(ctx context.Context, tokenID, account string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[tokenID+"|"+account], nil
}

func (l *TokenLedger) credit(tokenID, account string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[tokenID+"|"+account] += amount
}
