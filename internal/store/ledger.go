package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/sentinel"
)

// The Store doubles as a local single-node ledger network. Topic and token
// operations below implement ledger.Ledger and ledger.TokenLedger.

var (
	_ ledger.Ledger      = (*Store)(nil)
	_ ledger.TokenLedger = (*Store)(nil)
)

// ledgerError maps a database error to a ledger error. Lock contention is
// transient; anything else is reported as-is and treated as permanent.
func ledgerError(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return ledger.NewError(op, ledger.ErrCodeBusy, err)
	}
	return fmt.Errorf("ledger %s: %w", op, err)
}

func nextEntityID(ctx context.Context, tx *sql.Tx, kind string) (string, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO entities (kind) VALUES (?)`, kind)
	if err != nil {
		return "", err
	}
	num, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("0.0.%d", num), nil
}

// CreateTopic allocates a new empty topic.
func (s *Store) CreateTopic(ctx context.Context, memo string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", ledgerError("create topic", err)
	}
	defer tx.Rollback() // No-op if committed

	id, err := nextEntityID(ctx, tx, "topic")
	if err != nil {
		return "", ledgerError("create topic", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO topics (id, memo, created_at) VALUES (?, ?, ?)
	`, id, memo, unixMillis(s.now())); err != nil {
		return "", ledgerError("create topic", err)
	}
	if err := tx.Commit(); err != nil {
		return "", ledgerError("create topic", err)
	}
	return id, nil
}

// Submit appends body to the topic and assigns the next sequence number.
func (s *Store) Submit(ctx context.Context, topicID, payer, memo string, body []byte) (ledger.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Record{}, ledgerError("submit", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics WHERE id = ?`, topicID).Scan(&exists)
	if err != nil {
		return ledger.Record{}, ledgerError("submit", err)
	}
	if exists == 0 {
		return ledger.Record{}, ledger.NewError("submit", ledger.ErrCodeTopicNotFound,
			fmt.Errorf("topic %s: %w", topicID, sentinel.ErrNotFound))
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM topic_messages WHERE topic_id = ?
	`, topicID).Scan(&seq)
	if err != nil {
		return ledger.Record{}, ledgerError("submit", err)
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO topic_messages (topic_id, seq, payer, memo, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, topicID, seq, payer, memo, body, unixMillis(now)); err != nil {
		return ledger.Record{}, ledgerError("submit", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Record{}, ledgerError("submit", err)
	}

	return ledger.Record{
		ID:        ledger.FormatID(topicID, seq),
		TopicID:   topicID,
		Seq:       seq,
		Payer:     payer,
		Memo:      memo,
		Body:      body,
		Timestamp: fromMillis(unixMillis(now)),
	}, nil
}

// Record fetches one topic message by id.
func (s *Store) Record(ctx context.Context, id string) (ledger.Record, error) {
	topicID, seq, err := ledger.ParseID(id)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}

	rec := ledger.Record{ID: id, TopicID: topicID, Seq: seq}
	var created int64
	err = s.db.QueryRowContext(ctx, `
		SELECT payer, memo, body, created_at FROM topic_messages
		WHERE topic_id = ? AND seq = ?
	`, topicID, seq).Scan(&rec.Payer, &rec.Memo, &rec.Body, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return ledger.Record{}, ledgerError("record", err)
	}
	rec.Timestamp = fromMillis(created)
	return rec, nil
}

// Records returns up to limit messages after afterSeq, ordered by seq ASC.
// Returns an empty slice (not nil) at the end of the topic.
func (s *Store) Records(ctx context.Context, topicID string, afterSeq int64, limit int) ([]ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, payer, memo, body, created_at FROM topic_messages
		WHERE topic_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, topicID, afterSeq, limit)
	if err != nil {
		return nil, ledgerError("records", err)
	}
	defer rows.Close()

	records := make([]ledger.Record, 0, limit)
	for rows.Next() {
		rec := ledger.Record{TopicID: topicID}
		var created int64
		if err := rows.Scan(&rec.Seq, &rec.Payer, &rec.Memo, &rec.Body, &created); err != nil {
			return nil, ledgerError("records", err)
		}
		rec.ID = ledger.FormatID(topicID, rec.Seq)
		rec.Timestamp = fromMillis(created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgerError("records", err)
	}
	return records, nil
}

// TokenKeys are the authorities a token is created with. The ledger only
// keeps their digests.
type TokenKeys struct {
	Supply   []byte
	Treasury []byte
	Wipe     []byte
}

func keyHash(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

// CreateToken registers a token. If tok.ID is empty a new entity id is
// allocated. Returns the token id.
func (s *Store) CreateToken(ctx context.Context, tok ledger.Token, keys TokenKeys) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", ledgerError("create token", err)
	}
	defer tx.Rollback()

	id := tok.ID
	if id == "" {
		if id, err = nextEntityID(ctx, tx, "token"); err != nil {
			return "", ledgerError("create token", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tokens
		(id, name, symbol, type, decimals, treasury, owner, supply_key_hash, treasury_key_hash, wipe_key_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, tok.Name, tok.Symbol, string(tok.Type), tok.Decimals, tok.Treasury, tok.Owner,
		keyHash(keys.Supply), keyHash(keys.Treasury), keyHash(keys.Wipe)); err != nil {
		return "", ledgerError("create token", err)
	}
	if err := tx.Commit(); err != nil {
		return "", ledgerError("create token", err)
	}
	return id, nil
}

// Token returns a token definition.
func (s *Store) Token(ctx context.Context, id string) (ledger.Token, error) {
	tok := ledger.Token{ID: id}
	var typ string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, symbol, type, decimals, treasury, owner FROM tokens WHERE id = ?
	`, id).Scan(&tok.Name, &tok.Symbol, &typ, &tok.Decimals, &tok.Treasury, &tok.Owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Token{}, fmt.Errorf("token %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return ledger.Token{}, fmt.Errorf("token %s: %w", id, err)
	}
	tok.Type = ledger.TokenType(typ)
	return tok, nil
}

type tokenRow struct {
	typ        ledger.TokenType
	treasury   string
	supplyHash string
	treasHash  string
	wipeHash   string
	nextSerial int64
}

func loadToken(ctx context.Context, tx *sql.Tx, op, id string) (tokenRow, error) {
	var row tokenRow
	var typ string
	err := tx.QueryRowContext(ctx, `
		SELECT type, treasury, supply_key_hash, treasury_key_hash, wipe_key_hash, next_serial
		FROM tokens WHERE id = ?
	`, id).Scan(&typ, &row.treasury, &row.supplyHash, &row.treasHash, &row.wipeHash, &row.nextSerial)
	if errors.Is(err, sql.ErrNoRows) {
		return tokenRow{}, ledger.NewError(op, ledger.ErrCodeInvalidToken, fmt.Errorf("token %s", id))
	}
	if err != nil {
		return tokenRow{}, ledgerError(op, err)
	}
	row.typ = ledger.TokenType(typ)
	return row, nil
}

func checkKey(op string, key []byte, wantHash string) error {
	if len(key) == 0 || keyHash(key) != wantHash {
		return ledger.NewError(op, ledger.ErrCodeInvalidSignature, nil)
	}
	return nil
}

func adjustBalance(ctx context.Context, tx *sql.Tx, op, tokenID, account string, delta int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO token_balances (token_id, account, amount) VALUES (?, ?, 0)
		ON CONFLICT(token_id, account) DO NOTHING
	`, tokenID, account); err != nil {
		return ledgerError(op, err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE token_balances SET amount = amount + ?
		WHERE token_id = ? AND account = ? AND amount + ? >= 0
	`, delta, tokenID, account, delta)
	if err != nil {
		return ledgerError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NewError(op, ledger.ErrCodeInsufficientBalance,
			fmt.Errorf("account %s token %s", account, tokenID))
	}
	return nil
}

func (s *Store) recordOperation(ctx context.Context, tx *sql.Tx, tokenID, op, account string, amount int64, memo string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO token_operations (token_id, op, account, amount, memo, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tokenID, op, account, amount, memo, unixMillis(s.now()))
	if err != nil {
		return ledgerError(op, err)
	}
	return nil
}

// MintFungible credits amount to the token's treasury.
func (s *Store) MintFungible(ctx context.Context, tokenID string, supplyKey []byte, amount int64, memo string) error {
	const op = "mint"
	if amount <= 0 {
		return ledger.NewError(op, ledger.ErrCodeInvalidToken, fmt.Errorf("amount %d", amount))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledgerError(op, err)
	}
	defer tx.Rollback()

	tok, err := loadToken(ctx, tx, op, tokenID)
	if err != nil {
		return err
	}
	if tok.typ != ledger.Fungible {
		return ledger.NewError(op, ledger.ErrCodeInvalidToken, fmt.Errorf("token %s is %s", tokenID, tok.typ))
	}
	if err := checkKey(op, supplyKey, tok.supplyHash); err != nil {
		return err
	}
	if err := adjustBalance(ctx, tx, op, tokenID, tok.treasury, amount); err != nil {
		return err
	}
	if err := s.recordOperation(ctx, tx, tokenID, op, tok.treasury, amount, memo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ledgerError(op, err)
	}
	return nil
}

// MintNonFungible creates one serial per metadata entry, owned by the treasury.
func (s *Store) MintNonFungible(ctx context.Context, tokenID string, supplyKey []byte, metadata [][]byte, memo string) ([]int64, error) {
	const op = "mint"
	if len(metadata) == 0 {
		return nil, ledger.NewError(op, ledger.ErrCodeInvalidToken, errors.New("no metadata"))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ledgerError(op, err)
	}
	defer tx.Rollback()

	tok, err := loadToken(ctx, tx, op, tokenID)
	if err != nil {
		return nil, err
	}
	if tok.typ != ledger.NonFungible {
		return nil, ledger.NewError(op, ledger.ErrCodeInvalidToken, fmt.Errorf("token %s is %s", tokenID, tok.typ))
	}
	if err := checkKey(op, supplyKey, tok.supplyHash); err != nil {
		return nil, err
	}

	serials := make([]int64, 0, len(metadata))
	for i, meta := range metadata {
		serial := tok.nextSerial + int64(i)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO token_serials (token_id, serial, account, metadata) VALUES (?, ?, ?, ?)
		`, tokenID, serial, tok.treasury, meta); err != nil {
			return nil, ledgerError(op, err)
		}
		serials = append(serials, serial)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tokens SET next_serial = ? WHERE id = ?
	`, tok.nextSerial+int64(len(metadata)), tokenID); err != nil {
		return nil, ledgerError(op, err)
	}
	if err := adjustBalance(ctx, tx, op, tokenID, tok.treasury, int64(len(metadata))); err != nil {
		return nil, err
	}
	if err := s.recordOperation(ctx, tx, tokenID, op, tok.treasury, int64(len(metadata)), memo); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, ledgerError(op, err)
	}
	return serials, nil
}

// TransferFungible moves amount from one account to another.
func (s *Store) TransferFungible(ctx context.Context, tokenID, from, to string, treasuryKey []byte, amount int64, memo string) error {
	const op = "transfer"
	if to == "" {
		return ledger.NewError(op, ledger.ErrCodeInvalidAccount, errors.New("empty target account"))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledgerError(op, err)
	}
	defer tx.Rollback()

	tok, err := loadToken(ctx, tx, op, tokenID)
	if err != nil {
		return err
	}
	if err := checkKey(op, treasuryKey, tok.treasHash); err != nil {
		return err
	}
	if err := adjustBalance(ctx, tx, op, tokenID, from, -amount); err != nil {
		return err
	}
	if err := adjustBalance(ctx, tx, op, tokenID, to, amount); err != nil {
		return err
	}
	if err := s.recordOperation(ctx, tx, tokenID, op, to, amount, memo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ledgerError(op, err)
	}
	return nil
}

// TransferNonFungible moves serials from one account to another.
func (s *Store) TransferNonFungible(ctx context.Context, tokenID, from, to string, treasuryKey []byte, serials []int64, memo string) error {
	const op = "transfer"
	if to == "" {
		return ledger.NewError(op, ledger.ErrCodeInvalidAccount, errors.New("empty target account"))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledgerError(op, err)
	}
	defer tx.Rollback()

	tok, err := loadToken(ctx, tx, op, tokenID)
	if err != nil {
		return err
	}
	if err := checkKey(op, treasuryKey, tok.treasHash); err != nil {
		return err
	}
	for _, serial := range serials {
		res, err := tx.ExecContext(ctx, `
			UPDATE token_serials SET account = ? WHERE token_id = ? AND serial = ? AND account = ?
		`, to, tokenID, serial, from)
		if err != nil {
			return ledgerError(op, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.NewError(op, ledger.ErrCodeInsufficientBalance,
				fmt.Errorf("serial %d not owned by %s", serial, from))
		}
	}
	n := int64(len(serials))
	if err := adjustBalance(ctx, tx, op, tokenID, from, -n); err != nil {
		return err
	}
	if err := adjustBalance(ctx, tx, op, tokenID, to, n); err != nil {
		return err
	}
	if err := s.recordOperation(ctx, tx, tokenID, op, to, n, memo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ledgerError(op, err)
	}
	return nil
}

// Wipe destroys amount units held by account. For non-fungible tokens the
// account's lowest serials are removed.
func (s *Store) Wipe(ctx context.Context, tokenID, account string, wipeKey []byte, amount int64, memo string) error {
	const op = "wipe"
	if amount <= 0 {
		return ledger.NewError(op, ledger.ErrCodeInvalidToken, fmt.Errorf("amount %d", amount))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledgerError(op, err)
	}
	defer tx.Rollback()

	tok, err := loadToken(ctx, tx, op, tokenID)
	if err != nil {
		return err
	}
	if err := checkKey(op, wipeKey, tok.wipeHash); err != nil {
		return err
	}
	if err := adjustBalance(ctx, tx, op, tokenID, account, -amount); err != nil {
		return err
	}
	if tok.typ == ledger.NonFungible {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM token_serials WHERE token_id = ? AND serial IN (
				SELECT serial FROM token_serials WHERE token_id = ? AND account = ?
				ORDER BY serial ASC LIMIT ?
			)
		`, tokenID, tokenID, account, amount); err != nil {
			return ledgerError(op, err)
		}
	}
	if err := s.recordOperation(ctx, tx, tokenID, op, account, amount, memo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ledgerError(op, err)
	}
	return nil
}

// Balance returns the units of tokenID held by account.
func (s *Store) Balance(ctx context.Context, tokenID, account string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		SELECT amount FROM token_balances WHERE token_id = ? AND account = ?
	`, tokenID, account).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return amount, nil
}

// TokenOperation is one audited token operation on the local ledger.
type TokenOperation struct {
	Seq     int64
	TokenID string
	Op      string
	Account string
	Amount  int64
	Memo    string
}

// TokenOperations returns every operation recorded for tokenID in order.
func (s *Store) TokenOperations(ctx context.Context, tokenID string) ([]TokenOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, token_id, op, account, amount, memo FROM token_operations
		WHERE token_id = ? ORDER BY seq ASC
	`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("token operations: %w", err)
	}
	defer rows.Close()

	ops := make([]TokenOperation, 0)
	for rows.Next() {
		var o TokenOperation
		if err := rows.Scan(&o.Seq, &o.TokenID, &o.Op, &o.Account, &o.Amount, &o.Memo); err != nil {
			return nil, fmt.Errorf("token operations: %w", err)
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}
