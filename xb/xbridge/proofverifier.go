package xbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrel-chain/kestrel/internal/klog"
	"github.com/kestrel-chain/kestrel/kmerkle"
)

// CrossChainProof claims that a payload was committed
// by a foreign chain, under a verified foreign header.
type CrossChainProof struct {
	// The foreign chain the payload originates from.
	ChainID string

	// The source account on the foreign chain.
	SourceAccount string

	// Monotonic per (chain, account) sequence number,
	// assigned by the foreign chain's bridge contract.
	Seq uint64

	// The payload to relay. Opaque to the bridge.
	Payload []byte

	// Hash of the foreign header whose commitment root
	// covers the payload.
	HeaderHash []byte

	// Sibling path from the payload leaf to the commitment root.
	Inclusion kmerkle.InclusionProof[string]
}

func (p CrossChainProof) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("chain_id", p.ChainID),
		slog.String("account", p.SourceAccount),
		slog.Uint64("seq", p.Seq),
		slog.Any("header_hash", klog.Hex(p.HeaderHash)),
	)
}

// VerifyProofResult is the fine-grained outcome of [ProofVerifier.VerifyProof].
type VerifyProofResult uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type VerifyProofResult -trimprefix=Proof .
const (
	// Zero value, not a valid result.
	ProofUnspecified VerifyProofResult = iota

	// Payload verified and staged for relay.
	ProofAccepted

	// Sequence at or below the last accepted; benign.
	ProofAlreadyProcessed

	// Sequence ahead of the expected next; buffered.
	ProofBuffered

	// Structurally or cryptographically invalid.
	ProofInvalid
)

// SequenceStore persists the last accepted sequence per (chain, account),
// so a restart cannot re-relay already-processed payloads.
type SequenceStore interface {
	// LastSequence returns the last accepted sequence for the account,
	// and whether any sequence has been accepted at all.
	LastSequence(ctx context.Context, chainID, account string) (seq uint64, ok bool, err error)

	// SetLastSequence durably records seq as the last accepted.
	SetLastSequence(ctx context.Context, chainID, account string, seq uint64) error
}

// MemSequenceStore is the in-memory [SequenceStore].
type MemSequenceStore struct {
	mu   sync.Mutex
	seqs map[[2]string]uint64
}

func NewMemSequenceStore() *MemSequenceStore {
	return &MemSequenceStore{seqs: make(map[[2]string]uint64)}
}

func (s *MemSequenceStore) LastSequence(_ context.Context, chainID, account string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.seqs[[2]string{chainID, account}]
	return seq, ok, nil
}

func (s *MemSequenceStore) SetLastSequence(_ context.Context, chainID, account string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seqs[[2]string{chainID, account}] = seq
	return nil
}

// ProofVerifierConfig configures a [ProofVerifier].
type ProofVerifierConfig struct {
	Log *slog.Logger

	// One verified header chain per foreign chain ID.
	Chains []*HeaderChain

	// Destination for accepted payloads.
	Queue *RelayQueue

	// Durable per-(chain, account) sequence counters.
	// Nil means a fresh [MemSequenceStore].
	Sequences SequenceStore

	// How long a buffered out-of-order proof may wait
	// for its gap to close. Zero means [DefaultProofTTL].
	ProofTTL time.Duration

	// Clock override for tests. Nil means [time.Now].
	Now func() time.Time
}

const DefaultProofTTL = time.Minute

// ProofVerifier verifies cross-chain proofs against verified
// foreign headers and stages accepted payloads on the relay queue.
//
// Sequence advancement and the queue push happen under one lock,
// so no observer can see a payload accepted but not staged.
type ProofVerifier struct {
	log *slog.Logger

	chains map[string]*HeaderChain

	queue *RelayQueue

	scheme kmerkle.Blake2b256Scheme

	proofTTL time.Duration
	now      func() time.Time

	mu sync.Mutex

	seqs SequenceStore

	// Buffered out-of-order proofs keyed by (chain, account, seq).
	waiting map[entryKey]waitingProof
}

type waitingProof struct {
	Proof    CrossChainProof
	Deadline time.Time
}

// NewProofVerifier returns a ProofVerifier over cfg's header chains.
func NewProofVerifier(cfg ProofVerifierConfig) (*ProofVerifier, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("ProofVerifierConfig.Log must not be nil")
	}
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("ProofVerifierConfig.Chains must not be empty")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("ProofVerifierConfig.Queue must not be nil")
	}

	if cfg.Sequences == nil {
		cfg.Sequences = NewMemSequenceStore()
	}
	if cfg.ProofTTL == 0 {
		cfg.ProofTTL = DefaultProofTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	chains := make(map[string]*HeaderChain, len(cfg.Chains))
	for _, c := range cfg.Chains {
		if _, ok := chains[c.ChainID()]; ok {
			return nil, fmt.Errorf("duplicate header chain for foreign chain %q", c.ChainID())
		}
		chains[c.ChainID()] = c
	}

	return &ProofVerifier{
		log: cfg.Log,

		chains: chains,
		queue:  cfg.Queue,

		proofTTL: cfg.ProofTTL,
		now:      cfg.Now,

		seqs:    cfg.Sequences,
		waiting: make(map[entryKey]waitingProof),
	}, nil
}

// VerifyProof checks p and stages its payload on the relay queue
// if everything holds.
//
// Replays return ([ProofAlreadyProcessed], [ErrProofReplayed]);
// callers treat that as already-done, not as a failure.
// Sequence gaps return ([ProofBuffered], [OutOfOrderProofError]);
// the proof is retried as the gap closes.
func (v *ProofVerifier) VerifyProof(ctx context.Context, p CrossChainProof) (VerifyProofResult, error) {
	chain, ok := v.chains[p.ChainID]
	if !ok {
		return ProofInvalid, UnknownChainError{ChainID: p.ChainID}
	}

	header, err := chain.HeaderByHash(p.HeaderHash)
	if err != nil {
		return ProofInvalid, err
	}

	match, err := kmerkle.VerifyInclusion(v.scheme, string(header.CommitmentRoot), p.Payload, p.Inclusion)
	if err != nil {
		return ProofInvalid, fmt.Errorf("failed to evaluate inclusion proof: %w", err)
	}
	if !match {
		return ProofInvalid, InvalidInclusionProofError{
			ChainID:    p.ChainID,
			HeaderHash: p.HeaderHash,
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.evictExpiredWaiting()

	return v.sequenceCheckAndStage(ctx, p)
}

// sequenceCheckAndStage must be called with v.mu held
// and p's inclusion already verified.
func (v *ProofVerifier) sequenceCheckAndStage(ctx context.Context, p CrossChainProof) (VerifyProofResult, error) {
	last, any, err := v.seqs.LastSequence(ctx, p.ChainID, p.SourceAccount)
	if err != nil {
		return ProofUnspecified, fmt.Errorf("failed to load last sequence: %w", err)
	}

	wantSeq := uint64(0)
	if any {
		wantSeq = last + 1
	}

	if any && p.Seq <= last {
		return ProofAlreadyProcessed, ErrProofReplayed
	}

	if p.Seq > wantSeq {
		key := entryKey{ChainID: p.ChainID, Account: p.SourceAccount, Seq: p.Seq}
		if _, ok := v.waiting[key]; !ok {
			v.waiting[key] = waitingProof{
				Proof:    p,
				Deadline: v.now().Add(v.proofTTL),
			}
		}
		return ProofBuffered, OutOfOrderProofError{
			ChainID: p.ChainID,
			Account: p.SourceAccount,
			WantSeq: wantSeq,
			GotSeq:  p.Seq,
		}
	}

	if err := v.accept(ctx, p); err != nil {
		return ProofUnspecified, err
	}

	// The accepted sequence may close the gap for buffered successors.
	if err := v.drainWaiting(ctx, p.ChainID, p.SourceAccount, p.Seq); err != nil {
		return ProofUnspecified, err
	}

	return ProofAccepted, nil
}

func (v *ProofVerifier) accept(ctx context.Context, p CrossChainProof) error {
	if err := v.seqs.SetLastSequence(ctx, p.ChainID, p.SourceAccount, p.Seq); err != nil {
		return fmt.Errorf("failed to persist sequence: %w", err)
	}

	v.queue.Enqueue(RelayEntry{
		ChainID: p.ChainID,
		Account: p.SourceAccount,
		Seq:     p.Seq,
		Payload: p.Payload,
	})

	v.log.Debug("Accepted cross-chain proof", "proof", p)
	return nil
}

func (v *ProofVerifier) drainWaiting(ctx context.Context, chainID, account string, lastSeq uint64) error {
	for {
		key := entryKey{ChainID: chainID, Account: account, Seq: lastSeq + 1}
		w, ok := v.waiting[key]
		if !ok {
			return nil
		}

		delete(v.waiting, key)
		if err := v.accept(ctx, w.Proof); err != nil {
			return err
		}
		lastSeq++
	}
}

func (v *ProofVerifier) evictExpiredWaiting() {
	now := v.now()
	for key, w := range v.waiting {
		if now.Before(w.Deadline) {
			continue
		}

		delete(v.waiting, key)
		v.log.Info("Dropping buffered out-of-order proof", "proof", w.Proof)
	}
}
