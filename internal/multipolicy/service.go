// Package multipolicy reconciles joint mints across a policy group.
//
// Every member policy of a group publishes to a shared synchronization
// topic: one create-multi-policy message per user when it joins, and one
// mint message per contribution. The Main policy keeps a Pending
// transaction for each mint it wants to make. A tick reads the topic,
// groups contributions by credential hash and completes a transaction
// once every registered member has an unspent contribution for its hash.
// A contribution is spent by the first transaction that uses it, whether
// the joint mint succeeds or fails.
//
// The ledger topic is the only shared state between policies.
package multipolicy

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/anchor/internal/message"
	"github.com/roach88/anchor/internal/metrics"
	"github.com/roach88/anchor/internal/mint"
	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/sentinel"
	"github.com/roach88/anchor/internal/topic"
)

// DefaultUserChunk is the number of users reconciled concurrently.
const DefaultUserChunk = 10

// Tick outcomes, also used as metric labels.
const (
	TickRan     = "ran"
	TickIdle    = "idle"
	TickSkipped = "skipped"
	TickError   = "error"
)

// Repository is the transaction store a Service reconciles against.
type Repository interface {
	CountPendingTransactions(ctx context.Context, policyID string) (int, error)
	PendingTransactions(ctx context.Context, policyID, user string) ([]policy.Transaction, error)
	SpentContributions(ctx context.Context, policyID, user string) ([]string, error)
	CompleteTransaction(ctx context.Context, id string, contributions []string) error
	FailTransaction(ctx context.Context, id string, contributions []string, reason string) error
}

// Scanner reads a topic. Satisfied by *topic.Client.
type Scanner interface {
	Scan(ctx context.Context, topicID string, f topic.Filter) iter.Seq2[message.Message, error]
}

// Minter performs joint mints. Satisfied by *mint.Service.
type Minter interface {
	MultiMint(ctx context.Context, tokenID string, amount int64, target string, ids []string, provenanceTopic string) (mint.Result, error)
}

// Report summarises one tick.
type Report struct {
	Outcome   string
	Members   int // users with at least one registered member policy
	Completed int
	Failed    int
	Waiting   int // pending transactions whose bucket is incomplete
}

// Service reconciles one published policy.
//
// Thread-safety: Tick may be called concurrently; overlapping calls are
// skipped.
type Service struct {
	policy    policy.Policy
	repo      Repository
	scanner   Scanner
	minter    Minter
	metrics   *metrics.Metrics
	userChunk int

	running atomic.Bool
}

// Option configures a Service.
type Option func(*Service)

// WithUserChunk sets how many users are reconciled at once.
func WithUserChunk(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.userChunk = n
		}
	}
}

// WithMetrics counts ticks and finished transactions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the reconciler for p.
func NewService(p policy.Policy, repo Repository, scanner Scanner, minter Minter, opts ...Option) *Service {
	s := &Service{
		policy:    p,
		repo:      repo,
		scanner:   scanner,
		minter:    minter,
		userChunk: DefaultUserChunk,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the policy s reconciles.
func (s *Service) Policy() policy.Policy {
	return s.policy
}

// Start reports whether the policy takes part in a group and clears a
// guard left over from a previous run.
func (s *Service) Start(ctx context.Context) bool {
	if !s.policy.Synchronized() {
		return false
	}
	s.running.Store(false)
	slog.InfoContext(ctx, "synchronization started",
		"policy_id", s.policy.ID,
		"topic_id", s.policy.SynchronizationTopicID,
	)
	return true
}

// Tick runs one reconciliation pass. If a pass is already running the
// call returns at once with outcome TickSkipped.
func (s *Service) Tick(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.IncrementTick(TickSkipped)
		slog.DebugContext(ctx, "synchronization tick skipped", "policy_id", s.policy.ID)
		return Report{Outcome: TickSkipped}, nil
	}
	defer s.running.Store(false)

	rep, err := s.tick(ctx)
	if err != nil {
		rep.Outcome = TickError
		slog.ErrorContext(ctx, "synchronization tick failed", "policy_id", s.policy.ID, "error", err)
	}
	s.metrics.IncrementTick(rep.Outcome)
	return rep, err
}

func (s *Service) tick(ctx context.Context) (Report, error) {
	count, err := s.repo.CountPendingTransactions(ctx, s.policy.ID)
	if err != nil {
		return Report{}, fmt.Errorf("count pending transactions: %w", err)
	}
	if count == 0 {
		return Report{Outcome: TickIdle}, nil
	}

	view, err := s.scan(ctx)
	if err != nil {
		return Report{}, err
	}

	users := make([]string, 0, len(view.members))
	for user := range view.members {
		users = append(users, user)
	}
	sort.Strings(users)

	rep := &tally{Report: Report{Outcome: TickRan, Members: len(users)}}
	for chunk := range slices.Chunk(users, s.userChunk) {
		g, gctx := errgroup.WithContext(ctx)
		for _, user := range chunk {
			g.Go(func() error {
				return s.reconcileUser(gctx, user, view.members[user], view.buckets[user], rep)
			})
		}
		if err := g.Wait(); err != nil {
			return rep.snapshot(), err
		}
	}

	out := rep.snapshot()
	slog.InfoContext(ctx, "synchronization tick complete",
		"policy_id", s.policy.ID,
		"members", out.Members,
		"completed", out.Completed,
		"failed", out.Failed,
		"waiting", out.Waiting,
	)
	return out, nil
}

// member is a policy registered for a user by a create-multi-policy message.
type member struct {
	policy      string
	policyOwner string
}

// contribution is one mint message on the synchronization topic.
type contribution struct {
	id          string // ledger id of the synchronization message
	policy      string
	policyOwner string
	messageID   string
	amount      int64
}

// topicView is the reconciliation input read from one topic scan.
type topicView struct {
	// members lists the registered policies of each user.
	members map[string][]member

	// buckets holds contributions by user, then hash, then policy.
	buckets map[string]map[string]map[string][]contribution
}

func (s *Service) scan(ctx context.Context) (topicView, error) {
	view := topicView{
		members: make(map[string][]member),
		buckets: make(map[string]map[string]map[string][]contribution),
	}
	filter := topic.Filter{Type: message.TypeSynchronization}
	for m, err := range s.scanner.Scan(ctx, s.policy.SynchronizationTopicID, filter) {
		if err != nil {
			return topicView{}, fmt.Errorf("scan %s: %w", s.policy.SynchronizationTopicID, err)
		}
		msg, ok := m.(*message.SynchronizationMessage)
		if !ok {
			continue
		}
		payer := msg.Payer()

		switch msg.Action {
		case message.ActionCreateMultiPolicy:
			if msg.User != payer {
				logIgnored(ctx, msg, "registration not paid by its user")
				continue
			}
			if !slices.ContainsFunc(view.members[msg.User], func(m member) bool { return m.policy == msg.Policy }) {
				view.members[msg.User] = append(view.members[msg.User], member{policy: msg.Policy, policyOwner: msg.PolicyOwner})
			}
		case message.ActionMint:
			if msg.PolicyOwner != payer {
				logIgnored(ctx, msg, "contribution not paid by its policy owner")
				continue
			}
			byHash := view.buckets[msg.User]
			if byHash == nil {
				byHash = make(map[string]map[string][]contribution)
				view.buckets[msg.User] = byHash
			}
			byPolicy := byHash[msg.Hash]
			if byPolicy == nil {
				byPolicy = make(map[string][]contribution)
				byHash[msg.Hash] = byPolicy
			}
			byPolicy[msg.Policy] = append(byPolicy[msg.Policy], contribution{
				id:          msg.ID(),
				policy:      msg.Policy,
				policyOwner: msg.PolicyOwner,
				messageID:   msg.MessageID,
				amount:      msg.Amount,
			})
		}
	}
	return view, nil
}

func (s *Service) reconcileUser(ctx context.Context, user string, members []member, buckets map[string]map[string][]contribution, rep *tally) error {
	txs, err := s.repo.PendingTransactions(ctx, s.policy.ID, user)
	if err != nil {
		return fmt.Errorf("load pending transactions for %s: %w", user, err)
	}
	if len(txs) == 0 {
		return nil
	}
	spentIDs, err := s.repo.SpentContributions(ctx, s.policy.ID, user)
	if err != nil {
		return fmt.Errorf("load spent contributions for %s: %w", user, err)
	}
	spent := make(map[string]bool, len(spentIDs))
	for _, id := range spentIDs {
		spent[id] = true
	}

	for _, tx := range txs {
		picked, ok := pick(members, buckets[tx.Hash], spent)
		if !ok {
			rep.add(func(r *Report) { r.Waiting++ })
			continue
		}
		consumed := make([]string, 0, len(picked))
		var sources []string
		for _, c := range picked {
			spent[c.id] = true
			consumed = append(consumed, c.id)
			if !slices.Contains(sources, c.messageID) {
				sources = append(sources, c.messageID)
			}
		}

		res, err := s.minter.MultiMint(ctx, tx.TokenID, tx.Amount, tx.Target, sources, s.policy.InstanceTopicID)
		if err != nil {
			slog.ErrorContext(ctx, "joint mint failed",
				"policy_id", s.policy.ID,
				"transaction", tx.ID,
				"hash", tx.Hash,
				"token_id", tx.TokenID,
				"error", err,
			)
			if ferr := s.repo.FailTransaction(ctx, tx.ID, consumed, err.Error()); ferr != nil && !errors.Is(ferr, sentinel.ErrInvalidState) {
				return fmt.Errorf("fail transaction %s: %w", tx.ID, ferr)
			}
			s.metrics.IncrementTransaction(string(policy.TxFailed))
			rep.add(func(r *Report) { r.Failed++ })
			continue
		}

		if err := s.repo.CompleteTransaction(ctx, tx.ID, consumed); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				slog.WarnContext(ctx, "transaction already finished", "transaction", tx.ID)
				continue
			}
			return fmt.Errorf("complete transaction %s: %w", tx.ID, err)
		}
		s.metrics.IncrementTransaction(string(policy.TxCompleted))
		rep.add(func(r *Report) { r.Completed++ })
		slog.InfoContext(ctx, "joint mint completed",
			"policy_id", s.policy.ID,
			"transaction", tx.ID,
			"hash", tx.Hash,
			"minted", res.Minted,
			"provenance", res.ProvenanceID,
		)
	}
	return nil
}

// pick chooses the earliest unspent contribution of every member from a
// hash bucket, in member order. It fails unless every member has one.
func pick(members []member, bucket map[string][]contribution, spent map[string]bool) ([]contribution, bool) {
	if len(members) == 0 || bucket == nil {
		return nil, false
	}
	picked := make([]contribution, 0, len(members))
	for _, m := range members {
		cs := bucket[m.policy]
		i := slices.IndexFunc(cs, func(c contribution) bool {
			return c.policyOwner == m.policyOwner && !spent[c.id]
		})
		if i < 0 {
			return nil, false
		}
		picked = append(picked, cs[i])
	}
	return picked, true
}

func logIgnored(ctx context.Context, msg *message.SynchronizationMessage, reason string) {
	slog.WarnContext(ctx, "synchronization message ignored",
		"message_id", msg.ID(),
		"payer", msg.Payer(),
		"policy", msg.Policy,
		"reason", reason,
	)
}

// tally accumulates a Report across concurrent user reconciliations.
type tally struct {
	mu sync.Mutex
	Report
}

func (t *tally) add(f func(*Report)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f(&t.Report)
}

func (t *tally) snapshot() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Report
}
