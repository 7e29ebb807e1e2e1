package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/sentinel"
)

var _ policy.Repository = (*Store)(nil)

// PutPolicy registers or replaces a policy.
func (s *Store) PutPolicy(ctx context.Context, p policy.Policy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies
		(id, name, owner, owner_account, status, topic_id, instance_topic_id, synchronization_topic_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner = excluded.owner,
			owner_account = excluded.owner_account,
			status = excluded.status,
			topic_id = excluded.topic_id,
			instance_topic_id = excluded.instance_topic_id,
			synchronization_topic_id = excluded.synchronization_topic_id
	`, p.ID, p.Name, p.Owner, p.OwnerAccount, string(p.Status), p.TopicID, p.InstanceTopicID, p.SynchronizationTopicID)
	if err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	return nil
}

const policyColumns = `id, name, owner, owner_account, status, topic_id, instance_topic_id, synchronization_topic_id`

func scanPolicy(row rowScanner) (policy.Policy, error) {
	var p policy.Policy
	var status string
	err := row.Scan(&p.ID, &p.Name, &p.Owner, &p.OwnerAccount, &status, &p.TopicID, &p.InstanceTopicID, &p.SynchronizationTopicID)
	p.Status = policy.Status(status)
	return p, err
}

// Policy implements policy.Repository.
func (s *Store) Policy(ctx context.Context, id string) (policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Policy{}, fmt.Errorf("policy %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return policy.Policy{}, fmt.Errorf("policy %s: %w", id, err)
	}
	return p, nil
}

// PublishedPolicies implements policy.Repository. Ordered by id.
func (s *Store) PublishedPolicies(ctx context.Context) ([]policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+policyColumns+` FROM policies WHERE status = ? ORDER BY id ASC
	`, string(policy.StatusPublished))
	if err != nil {
		return nil, fmt.Errorf("published policies: %w", err)
	}
	defer rows.Close()

	policies := make([]policy.Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("published policies: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// PutGroupConfig binds a user of a policy instance to a group.
func (s *Store) PutGroupConfig(ctx context.Context, g policy.GroupConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_groups
		(instance_topic_id, owner, user_account, policy_owner, main_policy_topic_id, synchronization_topic_id, type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_topic_id, owner) DO UPDATE SET
			user_account = excluded.user_account,
			policy_owner = excluded.policy_owner,
			main_policy_topic_id = excluded.main_policy_topic_id,
			synchronization_topic_id = excluded.synchronization_topic_id,
			type = excluded.type
	`, g.InstanceTopicID, g.Owner, g.User, g.PolicyOwner, g.MainPolicyTopicID, g.SynchronizationTopicID, string(g.Type))
	if err != nil {
		return fmt.Errorf("put group config: %w", err)
	}
	return nil
}

// GroupConfig implements policy.Repository.
func (s *Store) GroupConfig(ctx context.Context, instanceTopicID, owner string) (policy.GroupConfig, error) {
	g := policy.GroupConfig{InstanceTopicID: instanceTopicID, Owner: owner}
	var typ string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_account, policy_owner, main_policy_topic_id, synchronization_topic_id, type
		FROM policy_groups WHERE instance_topic_id = ? AND owner = ?
	`, instanceTopicID, owner).Scan(&g.User, &g.PolicyOwner, &g.MainPolicyTopicID, &g.SynchronizationTopicID, &typ)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.GroupConfig{}, fmt.Errorf("group config %s/%s: %w", instanceTopicID, owner, sentinel.ErrNotFound)
	}
	if err != nil {
		return policy.GroupConfig{}, fmt.Errorf("group config: %w", err)
	}
	g.Type = policy.GroupType(typ)
	return g, nil
}

// CreateTransaction implements policy.Repository. A second transaction for
// the same (policy, user, hash) is silently ignored.
func (s *Store) CreateTransaction(ctx context.Context, tx policy.Transaction) error {
	if tx.Status == "" {
		tx.Status = policy.TxPending
	}
	now := unixMillis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO multi_policy_transactions
		(id, policy_id, user_account, hash, message_id, token_id, amount, target, status, contributions, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', '', ?, ?)
		ON CONFLICT DO NOTHING
	`, tx.ID, tx.PolicyID, tx.User, tx.Hash, tx.MessageID, tx.TokenID, tx.Amount, tx.Target, string(tx.Status), now, now)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// CountPendingTransactions implements policy.Repository.
func (s *Store) CountPendingTransactions(ctx context.Context, policyID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM multi_policy_transactions WHERE policy_id = ? AND status = ?
	`, policyID, string(policy.TxPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending transactions: %w", err)
	}
	return n, nil
}

const transactionColumns = `id, policy_id, user_account, hash, message_id, token_id, amount, target,
	status, contributions, error, created_at, updated_at`

func scanTransaction(row rowScanner) (policy.Transaction, error) {
	var tx policy.Transaction
	var status, contributions string
	var created, updated int64
	err := row.Scan(&tx.ID, &tx.PolicyID, &tx.User, &tx.Hash, &tx.MessageID, &tx.TokenID, &tx.Amount, &tx.Target,
		&status, &contributions, &tx.Error, &created, &updated)
	if err != nil {
		return policy.Transaction{}, err
	}
	if err := json.Unmarshal([]byte(contributions), &tx.Contributions); err != nil {
		return policy.Transaction{}, fmt.Errorf("decode contributions: %w", err)
	}
	tx.Status = policy.TransactionStatus(status)
	tx.CreatedAt = fromMillis(created)
	tx.UpdatedAt = fromMillis(updated)
	return tx, nil
}

// PendingTransactions implements policy.Repository. An empty user returns
// every pending transaction of the policy. Ordered by creation.
func (s *Store) PendingTransactions(ctx context.Context, policyID, user string) ([]policy.Transaction, error) {
	return s.ListTransactions(ctx, TransactionFilter{PolicyID: policyID, User: user, Status: policy.TxPending})
}

// TransactionFilter narrows ListTransactions. Empty fields match anything.
type TransactionFilter struct {
	PolicyID string
	User     string
	Status   policy.TransactionStatus
}

// ListTransactions returns transactions matching f, oldest first.
func (s *Store) ListTransactions(ctx context.Context, f TransactionFilter) ([]policy.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM multi_policy_transactions
		WHERE (? = '' OR policy_id = ?)
		  AND (? = '' OR user_account = ?)
		  AND (? = '' OR status = ?)
		ORDER BY seq ASC
	`, f.PolicyID, f.PolicyID, f.User, f.User, string(f.Status), string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]policy.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// Transaction returns one transaction by id.
func (s *Store) Transaction(ctx context.Context, id string) (policy.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM multi_policy_transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Transaction{}, fmt.Errorf("transaction %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return policy.Transaction{}, fmt.Errorf("transaction %s: %w", id, err)
	}
	return tx, nil
}

// SpentContributions implements policy.Repository.
func (s *Store) SpentContributions(ctx context.Context, policyID, user string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contributions FROM multi_policy_transactions
		WHERE policy_id = ? AND user_account = ? AND status != ?
		ORDER BY seq ASC
	`, policyID, user, string(policy.TxPending))
	if err != nil {
		return nil, fmt.Errorf("spent contributions: %w", err)
	}
	defer rows.Close()

	spent := make([]string, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("spent contributions: %w", err)
		}
		var ids []string
		if err := json.Unmarshal([]byte(data), &ids); err != nil {
			return nil, fmt.Errorf("decode contributions: %w", err)
		}
		spent = append(spent, ids...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spent contributions: %w", err)
	}
	return spent, nil
}

// CompleteTransaction implements policy.Repository.
func (s *Store) CompleteTransaction(ctx context.Context, id string, contributions []string) error {
	data, err := encodeContributions(contributions)
	if err != nil {
		return fmt.Errorf("complete transaction: %w", err)
	}
	return s.finishTransaction(ctx, "complete transaction", id, policy.TxCompleted, data, "")
}

// FailTransaction implements policy.Repository. The contributions stay
// spent.
func (s *Store) FailTransaction(ctx context.Context, id string, contributions []string, reason string) error {
	data, err := encodeContributions(contributions)
	if err != nil {
		return fmt.Errorf("fail transaction: %w", err)
	}
	return s.finishTransaction(ctx, "fail transaction", id, policy.TxFailed, data, reason)
}

func encodeContributions(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) finishTransaction(ctx context.Context, op, id string, status policy.TransactionStatus, contributions, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE multi_policy_transactions
		SET status = ?, contributions = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(status), contributions, reason, unixMillis(s.now()), id, string(policy.TxPending))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		if _, err := s.Transaction(ctx, id); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s %s: %w", op, id, sentinel.ErrInvalidState)
	}
	return nil
}
