// Package mint is the token lifecycle worker. It turns contributing
// documents into a token amount, mints it in chunks on the worker pool,
// moves the units from the treasury to the target account and anchors a
// provenance record. Wipes run on the same pool but share no state with
// mints.
package mint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/anchor/internal/canon"
	"github.com/roach88/anchor/internal/keys"
	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/message"
	"github.com/roach88/anchor/internal/metrics"
	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/sentinel"
	"github.com/roach88/anchor/internal/topic"
	"github.com/roach88/anchor/internal/workers"
)

// DefaultBatchSize is the number of NFTs minted or transferred per ledger call.
const DefaultBatchSize = 10

// ErrInProgress is returned when a request with the same id is running.
var ErrInProgress = errors.New("mint request already in progress")

// ErrNoGroupEvidence is returned when a mint handed to a policy group has
// no VP message or no credentials to identify it by.
var ErrNoGroupEvidence = errors.New("group mint needs a VP message with credentials")

// Publisher anchors messages on a ledger topic. Satisfied by *topic.Client.
type Publisher interface {
	Publish(ctx context.Context, topicID string, m message.Message) (topic.PublishedRef, error)
}

// PublisherFor returns a publisher that pays as account. Contributions to
// a policy group are paid by the policy owner.
type PublisherFor func(account string) Publisher

// GroupStore resolves policy-group membership and records joint mints.
type GroupStore interface {
	GroupConfig(ctx context.Context, instanceTopicID, owner string) (policy.GroupConfig, error)
	CreateTransaction(ctx context.Context, tx policy.Transaction) error
}

// Request asks for tokens to be minted to Target.
type Request struct {
	// ID identifies the request. Derived from the other fields when empty.
	ID      string
	TokenID string

	// Amount in the token's smallest units. Ignored when Rule is set.
	Amount int64

	// Rule and Documents compute the amount instead. Documents are also
	// hashed to identify a joint mint.
	Rule      *Rule
	Documents []map[string]any

	Owner  string // DID of the document owner
	Target string // account receiving the tokens
	Memo   string

	// MessageID is the originating VP message. It is written as NFT
	// metadata and heads the provenance relationships.
	MessageID     string
	Relationships []string

	PolicyID        string
	InstanceTopicID string // policy instance topic, also receives provenance
}

// Result is the outcome of a mint. Minted below Requested means some
// chunks failed; the provenance record carries both.
type Result struct {
	RequestID    string
	Requested    int64
	Minted       int64
	Transferred  int64
	Serials      []int64
	Failures     int
	ProvenanceID string
	Deferred     bool // handed to the policy group instead of minted
}

// Short returns the number of requested units that were not minted.
func (r Result) Short() int64 {
	return r.Requested - r.Minted
}

// WipeRequest asks for units to be removed from Account.
type WipeRequest struct {
	ID      string
	TokenID string
	Amount  int64
	Account string
	Memo    string // defaults to ProvenanceID

	// ProvenanceID is the message that justified the wipe.
	ProvenanceID string

	// InstanceTopicID receives a wipe provenance record when set.
	InstanceTopicID string
}

// Service runs mint and wipe requests.
//
// Thread-safety: Service is safe for concurrent use.
type Service struct {
	tokens    TokenRegistry
	ledger    ledger.TokenLedger
	custody   keys.Custody
	publisher Publisher
	pool      *workers.Pool

	groups    GroupStore
	publishAs PublisherFor
	requests  RequestStore
	notifier  Notifier
	metrics   *metrics.Metrics
	batchSize int

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithGroups enables the policy-group path. Contributions are published
// through publishAs.
func WithGroups(g GroupStore, publishAs PublisherFor) Option {
	return func(s *Service) {
		s.groups = g
		s.publishAs = publishAs
	}
}

// WithRequests persists request progress.
func WithRequests(r RequestStore) Option {
	return func(s *Service) { s.requests = r }
}

// WithNotifier replaces the default LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics records chunk outcomes and under-minted units.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithBatchSize sets the NFT chunk size.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewService creates a token worker. Ledger calls run on pool.
func NewService(tokens TokenRegistry, tl ledger.TokenLedger, custody keys.Custody, publisher Publisher, pool *workers.Pool, opts ...Option) *Service {
	s := &Service{
		tokens:    tokens,
		ledger:    tl,
		custody:   custody,
		publisher: publisher,
		pool:      pool,
		notifier:  LogNotifier{},
		batchSize: DefaultBatchSize,
		active:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mint starts req in the background and returns its id. Progress and the
// outcome are reported to the notifier. The request outlives ctx
// cancellation; use Wait to drain running requests.
func (s *Service) Mint(ctx context.Context, req Request) (string, error) {
	id, err := requestID(KindMint, req)
	if err != nil {
		return "", err
	}
	req.ID = id
	if !s.acquire(id) {
		return "", fmt.Errorf("mint %s: %w", id, ErrInProgress)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(id)
		bg := context.WithoutCancel(ctx)
		res, err := s.execute(bg, KindMint, req)
		if err != nil {
			s.notifier.Failed(bg, id, err)
			return
		}
		s.notifier.Completed(bg, id, res)
	}()
	return id, nil
}

// Wait blocks until every request started with Mint has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Execute runs req to completion. An error is returned only when nothing
// could be anchored; failed chunks are reported in the Result.
func (s *Service) Execute(ctx context.Context, req Request) (Result, error) {
	id, err := requestID(KindMint, req)
	if err != nil {
		return Result{}, err
	}
	req.ID = id
	if !s.acquire(id) {
		return Result{}, fmt.Errorf("mint %s: %w", id, ErrInProgress)
	}
	defer s.release(id)
	return s.execute(ctx, KindMint, req)
}

// MultiMint performs the joint mint of a completed group transaction.
// The memo and NFT metadata list the contribution message ids. The
// provenance record goes to provenanceTopic.
func (s *Service) MultiMint(ctx context.Context, tokenID string, amount int64, target string, ids []string, provenanceTopic string) (Result, error) {
	joined := strings.Join(ids, ",")
	req := Request{
		InstanceTopicID: provenanceTopic,
		TokenID:         tokenID,
		Amount:          amount,
		Target:          target,
		Memo:            joined,
		MessageID:       joined,
		Relationships:   ids,
	}
	id, err := requestID(KindMultiMint, req)
	if err != nil {
		return Result{}, err
	}
	req.ID = id
	if !s.acquire(id) {
		return Result{}, fmt.Errorf("multi-mint %s: %w", id, ErrInProgress)
	}
	defer s.release(id)
	return s.execute(ctx, KindMultiMint, req)
}

func (s *Service) execute(ctx context.Context, kind Kind, req Request) (Result, error) {
	res := Result{RequestID: req.ID}
	rec := RequestRecord{
		ID:      req.ID,
		Kind:    kind,
		TokenID: req.TokenID,
		Owner:   req.Owner,
		Target:  req.Target,
		Memo:    req.Memo,
		State:   StateAggregating,
	}
	s.createRequest(ctx, rec)
	s.notifier.Started(ctx, rec)

	fail := func(err error) (Result, error) {
		rec.State = StateFailed
		rec.Error = err.Error()
		s.updateRequest(ctx, rec)
		return res, err
	}

	tok, err := s.tokens.Token(ctx, req.TokenID)
	if err != nil {
		return fail(fmt.Errorf("resolve token %s: %w", req.TokenID, err))
	}

	amount := req.Amount
	if req.Rule != nil {
		value, err := Aggregate(ctx, *req.Rule, req.Documents)
		if err != nil {
			return fail(err)
		}
		amount, _ = TokenAmount(tok.Decimals, value)
	}
	if amount <= 0 {
		return fail(fmt.Errorf("%w: %d", ErrInvalidAmount, amount))
	}
	res.Requested = amount
	rec.Requested = amount

	if kind == KindMint {
		deferred, err := s.deferToGroup(ctx, req, amount)
		if err != nil {
			return fail(err)
		}
		if deferred {
			res.Deferred = true
			rec.State = StateDeferred
			s.updateRequest(ctx, rec)
			return res, nil
		}
	}

	supplyKey, err := s.custody.GetKey(ctx, tok.Owner, keys.PurposeSupply, tok.ID)
	if err != nil {
		return fail(fmt.Errorf("get supply key for %s: %w", tok.ID, err))
	}
	treasuryKey, err := s.custody.GetKey(ctx, tok.Owner, keys.PurposeTreasury, tok.ID)
	if err != nil {
		return fail(fmt.Errorf("get treasury key for %s: %w", tok.ID, err))
	}

	switch tok.Type {
	case ledger.NonFungible:
		s.mintNonFungible(ctx, tok, req, amount, supplyKey, treasuryKey, &res, &rec)
	case ledger.Fungible:
		s.mintFungible(ctx, tok, req, amount, supplyKey, treasuryKey, &res, &rec)
	default:
		return fail(fmt.Errorf("token %s has unknown type %q", tok.ID, tok.Type))
	}
	s.metrics.AddUnderMinted(string(tok.Type), res.Short())

	ref, err := s.anchor(ctx, req, res)
	if err != nil {
		return fail(fmt.Errorf("anchor provenance for %s: %w", req.ID, err))
	}
	res.ProvenanceID = ref.ID
	rec.ProvenanceID = ref.ID
	rec.State = StateAnchored
	s.updateRequest(ctx, rec)

	if res.Short() > 0 {
		s.notifier.Step(ctx, req.ID, fmt.Sprintf("minted %d of %d units of %s", res.Minted, res.Requested, tok.ID), 100)
	}
	return res, nil
}

// deferToGroup hands the mint to the policy group when the owner has a
// group config for the instance. The contribution names the instance topic
// as its policy, matching the member's registration.
func (s *Service) deferToGroup(ctx context.Context, req Request, amount int64) (bool, error) {
	if s.groups == nil || s.publishAs == nil || req.InstanceTopicID == "" || req.Owner == "" {
		return false, nil
	}
	cfg, err := s.groups.GroupConfig(ctx, req.InstanceTopicID, req.Owner)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load group config: %w", err)
	}

	if req.MessageID == "" || len(req.Documents) == 0 {
		return false, fmt.Errorf("defer to group %s: %w", cfg.SynchronizationTopicID, ErrNoGroupEvidence)
	}
	if cfg.Type == policy.GroupMain && req.PolicyID == "" {
		return false, fmt.Errorf("defer to group %s: policy id is required on the Main policy", cfg.SynchronizationTopicID)
	}
	hash, err := CredentialHash(req.Documents)
	if err != nil {
		return false, err
	}
	msg := message.NewSynchronizationMessage(message.ActionMint)
	msg.Policy = cfg.InstanceTopicID
	msg.PolicyOwner = cfg.PolicyOwner
	msg.User = cfg.User
	msg.Hash = hash
	msg.MessageID = req.MessageID
	msg.TokenID = req.TokenID
	msg.Amount = amount
	msg.Memo = req.Memo
	msg.Target = req.Target
	if _, err := s.publishAs(cfg.PolicyOwner).Publish(ctx, cfg.SynchronizationTopicID, msg); err != nil {
		return false, fmt.Errorf("publish mint contribution: %w", err)
	}

	if cfg.Type == policy.GroupMain {
		txID, err := canon.ID(canon.DomainTransaction, map[string]any{
			"policy": req.PolicyID, "user": cfg.User, "hash": hash, "messageId": req.MessageID,
		})
		if err != nil {
			return false, err
		}
		err = s.groups.CreateTransaction(ctx, policy.Transaction{
			ID:        txID,
			PolicyID:  req.PolicyID,
			User:      cfg.User,
			Hash:      hash,
			MessageID: req.MessageID,
			TokenID:   req.TokenID,
			Amount:    amount,
			Target:    req.Target,
			Status:    policy.TxPending,
		})
		if err != nil {
			return false, fmt.Errorf("create transaction: %w", err)
		}
	}

	slog.InfoContext(ctx, "mint deferred to policy group",
		"request", req.ID,
		"policy_id", req.PolicyID,
		"hash", hash,
		"group_type", cfg.Type,
	)
	return true, nil
}

func (s *Service) mintFungible(ctx context.Context, tok ledger.Token, req Request, amount int64, supplyKey, treasuryKey []byte, res *Result, rec *RequestRecord) {
	rec.State = StateMinting
	s.updateRequest(ctx, *rec)

	_, err := s.pool.Submit(ctx, "mint "+tok.ID, func(ctx context.Context) (any, error) {
		return nil, s.ledger.MintFungible(ctx, tok.ID, supplyKey, amount, req.Memo)
	}).Wait(ctx)
	s.metrics.IncrementChunk("mint", err)
	if err != nil {
		res.Failures++
		logChunkError(ctx, "mint", tok.ID, 0, req.Memo, err)
		rec.Failures = res.Failures
		return
	}
	res.Minted = amount
	rec.Minted = amount

	rec.State = StateTransferring
	s.updateRequest(ctx, *rec)
	_, err = s.pool.Submit(ctx, "transfer "+tok.ID, func(ctx context.Context) (any, error) {
		return nil, s.ledger.TransferFungible(ctx, tok.ID, tok.Treasury, req.Target, treasuryKey, amount, req.Memo)
	}).Wait(ctx)
	s.metrics.IncrementChunk("transfer", err)
	if err != nil {
		res.Failures++
		logChunkError(ctx, "transfer", tok.ID, 0, req.Memo, err)
		rec.Failures = res.Failures
		return
	}
	res.Transferred = amount
	rec.Transferred = amount
}

func (s *Service) mintNonFungible(ctx context.Context, tok ledger.Token, req Request, amount int64, supplyKey, treasuryKey []byte, res *Result, rec *RequestRecord) {
	rec.State = StateChunking
	s.updateRequest(ctx, *rec)
	sizes := ChunkSizes(amount, s.batchSize)
	metadata := []byte(req.MessageID)

	rec.State = StateMinting
	s.updateRequest(ctx, *rec)
	futures := make([]*workers.Future, len(sizes))
	for i, size := range sizes {
		meta := make([][]byte, size)
		for j := range meta {
			meta[j] = metadata
		}
		futures[i] = s.pool.Submit(ctx, fmt.Sprintf("mint %s chunk %d", tok.ID, i), func(ctx context.Context) (any, error) {
			return s.ledger.MintNonFungible(ctx, tok.ID, supplyKey, meta, req.Memo)
		})
	}

	var serials []int64
	for i, f := range futures {
		v, err := f.Wait(ctx)
		s.metrics.IncrementChunk("mint", err)
		if err != nil {
			res.Failures++
			logChunkError(ctx, "mint", tok.ID, i, req.Memo, err)
			continue
		}
		serials = append(serials, v.([]int64)...)
		s.notifier.Step(ctx, req.ID,
			fmt.Sprintf("minting %s: %d/%d", tok.ID, len(serials), amount),
			100*float64(len(serials))/float64(amount))
	}
	res.Serials = serials
	res.Minted = int64(len(serials))
	rec.Minted = res.Minted
	rec.Failures = res.Failures
	if len(serials) == 0 {
		return
	}

	rec.State = StateTransferring
	s.updateRequest(ctx, *rec)
	batches := splitSerials(serials, s.batchSize)
	futures = make([]*workers.Future, len(batches))
	for i, batch := range batches {
		futures[i] = s.pool.Submit(ctx, fmt.Sprintf("transfer %s chunk %d", tok.ID, i), func(ctx context.Context) (any, error) {
			return nil, s.ledger.TransferNonFungible(ctx, tok.ID, tok.Treasury, req.Target, treasuryKey, batch, req.Memo)
		})
	}
	for i, f := range futures {
		_, err := f.Wait(ctx)
		s.metrics.IncrementChunk("transfer", err)
		if err != nil {
			res.Failures++
			logChunkError(ctx, "transfer", tok.ID, i, req.Memo, err)
			continue
		}
		res.Transferred += int64(len(batches[i]))
		s.notifier.Step(ctx, req.ID,
			fmt.Sprintf("transferring %s: %d/%d", tok.ID, res.Transferred, len(serials)),
			100*float64(res.Transferred)/float64(len(serials)))
	}
	rec.Transferred = res.Transferred
	rec.Failures = res.Failures
}

// anchor publishes the provenance record. It is written even when every
// chunk failed so the attempt is auditable.
func (s *Service) anchor(ctx context.Context, req Request, res Result) (topic.PublishedRef, error) {
	msg := message.NewProvenanceMessage(message.ActionMint)
	msg.TokenID = req.TokenID
	msg.Target = req.Target
	msg.Requested = res.Requested
	msg.Amount = res.Minted
	msg.Serials = res.Serials
	msg.Memo = req.Memo
	msg.Relationships = provenanceLinks(req)
	return s.publishProvenance(ctx, req.ID, req.InstanceTopicID, msg)
}

func (s *Service) publishProvenance(ctx context.Context, requestID, topicID string, msg *message.ProvenanceMessage) (topic.PublishedRef, error) {
	if topicID == "" {
		return topic.PublishedRef{}, errors.New("no provenance topic")
	}
	v, err := s.pool.Submit(ctx, "anchor "+requestID, func(ctx context.Context) (any, error) {
		return s.publisher.Publish(ctx, topicID, msg)
	}).Wait(ctx)
	if err != nil {
		return topic.PublishedRef{}, err
	}
	return v.(topic.PublishedRef), nil
}

// StartWipe runs req in the background and returns its id. The outcome is
// reported to the notifier; use Wait to drain running requests.
func (s *Service) StartWipe(ctx context.Context, req WipeRequest) (string, error) {
	req, err := prepareWipe(req)
	if err != nil {
		return "", err
	}
	if !s.acquire(req.ID) {
		return "", fmt.Errorf("wipe %s: %w", req.ID, ErrInProgress)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(req.ID)
		_, _ = s.wipe(context.WithoutCancel(ctx), req)
	}()
	return req.ID, nil
}

// Wipe removes units from an account and waits for the outcome. The wipe
// itself is one ledger call authorised by the token owner's wipe key.
func (s *Service) Wipe(ctx context.Context, req WipeRequest) (RequestRecord, error) {
	req, err := prepareWipe(req)
	if err != nil {
		return RequestRecord{}, err
	}
	if !s.acquire(req.ID) {
		return RequestRecord{}, fmt.Errorf("wipe %s: %w", req.ID, ErrInProgress)
	}
	defer s.release(req.ID)
	return s.wipe(ctx, req)
}

func prepareWipe(req WipeRequest) (WipeRequest, error) {
	if req.Amount <= 0 {
		return req, fmt.Errorf("wipe: %w: %d", ErrInvalidAmount, req.Amount)
	}
	if req.TokenID == "" || req.Account == "" {
		return req, errors.New("wipe: token id and account are required")
	}
	if req.Memo == "" {
		req.Memo = req.ProvenanceID
	}
	if req.ID == "" {
		id, err := canon.ID(canon.DomainMintRequest, map[string]any{
			"kind": string(KindWipe), "token": req.TokenID, "account": req.Account, "amount": req.Amount,
			"memo": req.Memo, "provenance": req.ProvenanceID,
		})
		if err != nil {
			return req, err
		}
		req.ID = id
	}
	return req, nil
}

func (s *Service) wipe(ctx context.Context, req WipeRequest) (RequestRecord, error) {
	rec := RequestRecord{
		ID:        req.ID,
		Kind:      KindWipe,
		TokenID:   req.TokenID,
		Target:    req.Account,
		Memo:      req.Memo,
		State:     StateWiping,
		Requested: req.Amount,
	}
	s.createRequest(ctx, rec)
	s.notifier.Started(ctx, rec)
	fail := func(err error) (RequestRecord, error) {
		rec.State = StateFailed
		rec.Error = err.Error()
		s.updateRequest(ctx, rec)
		s.notifier.Failed(ctx, rec.ID, err)
		return rec, err
	}

	tok, err := s.tokens.Token(ctx, req.TokenID)
	if err != nil {
		return fail(fmt.Errorf("resolve token %s: %w", req.TokenID, err))
	}
	wipeKey, err := s.custody.GetKey(ctx, tok.Owner, keys.PurposeWipe, tok.ID)
	if err != nil {
		return fail(fmt.Errorf("get wipe key for %s: %w", tok.ID, err))
	}

	_, err = s.pool.Submit(ctx, "wipe "+tok.ID, func(ctx context.Context) (any, error) {
		return nil, s.ledger.Wipe(ctx, tok.ID, req.Account, wipeKey, req.Amount, req.Memo)
	}).Wait(ctx)
	s.metrics.IncrementChunk("wipe", err)
	if err != nil {
		logChunkError(ctx, "wipe", tok.ID, 0, req.Memo, err)
		return fail(fmt.Errorf("wipe %s: %w", tok.ID, err))
	}
	slog.InfoContext(ctx, "tokens wiped",
		"token_id", tok.ID,
		"account", req.Account,
		"amount", req.Amount,
		"memo", req.Memo,
	)

	if req.InstanceTopicID != "" {
		msg := message.NewProvenanceMessage(message.ActionWipe)
		msg.TokenID = tok.ID
		msg.Target = req.Account
		msg.Requested = req.Amount
		msg.Amount = req.Amount
		msg.Memo = req.Memo
		if req.ProvenanceID != "" {
			msg.Relationships = []string{req.ProvenanceID}
		}
		ref, err := s.publishProvenance(ctx, req.ID, req.InstanceTopicID, msg)
		if err != nil {
			// The wipe itself stands; only the record is missing.
			return fail(fmt.Errorf("anchor wipe provenance for %s: %w", req.ID, err))
		}
		rec.ProvenanceID = ref.ID
	}

	rec.State = StateWiped
	s.updateRequest(ctx, rec)
	s.notifier.Wiped(ctx, rec)
	return rec, nil
}

// Request returns the persisted progress of a request.
func (s *Service) Request(ctx context.Context, id string) (RequestRecord, error) {
	if s.requests == nil {
		return RequestRecord{}, fmt.Errorf("request %s: %w", id, sentinel.ErrNotFound)
	}
	return s.requests.Request(ctx, id)
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; ok {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

func (s *Service) createRequest(ctx context.Context, rec RequestRecord) {
	if s.requests == nil {
		return
	}
	if err := s.requests.CreateRequest(ctx, rec); err != nil {
		slog.WarnContext(ctx, "record request failed", "request", rec.ID, "error", err)
	}
}

func (s *Service) updateRequest(ctx context.Context, rec RequestRecord) {
	if s.requests == nil {
		return
	}
	if err := s.requests.UpdateRequest(ctx, rec); err != nil {
		slog.WarnContext(ctx, "record request progress failed",
			"request", rec.ID,
			"state", rec.State,
			"error", err,
		)
	}
}

func logChunkError(ctx context.Context, op, tokenID string, chunk int, memo string, err error) {
	slog.ErrorContext(ctx, op+" chunk failed",
		"token_id", tokenID,
		"chunk", chunk,
		"memo", memo,
		"error", err,
	)
}

func requestID(kind Kind, req Request) (string, error) {
	if req.ID != "" {
		return req.ID, nil
	}
	if req.TokenID == "" || req.Target == "" {
		return "", errors.New("mint: token id and target are required")
	}
	return canon.ID(canon.DomainMintRequest, map[string]any{
		"kind":      string(kind),
		"token":     req.TokenID,
		"target":    req.Target,
		"amount":    req.Amount,
		"memo":      req.Memo,
		"messageId": req.MessageID,
	})
}

func provenanceLinks(req Request) []string {
	links := make([]string, 0, len(req.Relationships)+1)
	seen := make(map[string]bool, cap(links))
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			links = append(links, id)
		}
	}
	if !strings.Contains(req.MessageID, ",") {
		add(req.MessageID)
	}
	for _, id := range req.Relationships {
		add(id)
	}
	return links
}

// ChunkSizes splits amount into batch-sized chunks with the remainder last.
func ChunkSizes(amount int64, batch int) []int {
	if amount <= 0 {
		return nil
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	b := int64(batch)
	sizes := make([]int, 0, (amount+b-1)/b)
	for left := amount; left > 0; left -= b {
		sizes = append(sizes, int(min(left, b)))
	}
	return sizes
}

func splitSerials(serials []int64, batch int) [][]int64 {
	var out [][]int64
	for len(serials) > 0 {
		n := min(batch, len(serials))
		out = append(out, serials[:n:n])
		serials = serials[n:]
	}
	return out
}

// CredentialHash identifies a set of contributing credentials. Fields that
// differ between policy instances (id, policyId, ref) are left out so every
// member of a group computes the same hash for the same evidence.
func CredentialHash(docs []map[string]any) (string, error) {
	subjects := make([]any, 0, len(docs))
	for _, doc := range docs {
		scope, err := subjectScope(doc)
		if err != nil {
			return "", fmt.Errorf("credential hash: %w", err)
		}
		delete(scope, "id")
		delete(scope, "policyId")
		delete(scope, "ref")
		subjects = append(subjects, scope)
	}
	return canon.Base58Hash(subjects)
}
