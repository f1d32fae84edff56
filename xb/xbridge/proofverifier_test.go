package xbridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-chain/kestrel/xb/xbridge"
	"github.com/kestrel-chain/kestrel/xb/xbridge/xbridgetest"
	"github.com/stretchr/testify/require"
)

type verifierFixture struct {
	Foreign *xbridgetest.ForeignChainFixture

	Chain    *xbridge.HeaderChain
	Queue    *xbridge.RelayQueue
	Seqs     *xbridge.MemSequenceStore
	Verifier *xbridge.ProofVerifier
}

func newVerifierFixture(t *testing.T, cfg xbridge.ProofVerifierConfig) *verifierFixture {
	t.Helper()

	foreign := xbridgetest.NewForeignChainFixture()

	hc, err := foreign.NewHeaderChain(xbridge.HeaderChainConfig{Log: testLogger()})
	require.NoError(t, err)

	queue := xbridge.NewRelayQueue()
	seqs := xbridge.NewMemSequenceStore()

	cfg.Log = testLogger()
	cfg.Chains = []*xbridge.HeaderChain{hc}
	cfg.Queue = queue
	cfg.Sequences = seqs

	v, err := xbridge.NewProofVerifier(cfg)
	require.NoError(t, err)

	return &verifierFixture{
		Foreign:  foreign,
		Chain:    hc,
		Queue:    queue,
		Seqs:     seqs,
		Verifier: v,
	}
}

func (f *verifierFixture) addBlock(t *testing.T, payloads [][]byte) xbridge.ForeignHeader {
	t.Helper()

	h := f.Foreign.AddBlock(payloads)
	res, err := f.Chain.AddHeader(h)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderAccepted, res)
	return h
}

func TestProofVerifier_accept(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newVerifierFixture(t, xbridge.ProofVerifierConfig{})
	fx.addBlock(t, [][]byte{[]byte("transfer_1"), []byte("transfer_2")})

	p := fx.Foreign.Proof(1, 0, "acct_a", 0)

	res, err := fx.Verifier.VerifyProof(ctx, p)
	require.NoError(t, err)
	require.Equal(t, xbridge.ProofAccepted, res)

	entries := fx.Queue.Collect(10, 5)
	require.Len(t, entries, 1)
	require.Equal(t, "acct_a", entries[0].Account)
	require.Equal(t, []byte("transfer_1"), entries[0].Payload)
}

func TestProofVerifier_unknownHeader(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newVerifierFixture(t, xbridge.ProofVerifierConfig{})
	fx.addBlock(t, [][]byte{[]byte("transfer_1")})

	p := fx.Foreign.Proof(1, 0, "acct_a", 0)
	p.HeaderHash = []byte("never_seen")

	res, err := fx.Verifier.VerifyProof(ctx, p)
	require.Equal(t, xbridge.ProofInvalid, res)

	var unknownErr xbridge.UnknownHeaderError
	require.ErrorAs(t, err, &unknownErr)
}

func TestProofVerifier_unknownChain(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newVerifierFixture(t, xbridge.ProofVerifierConfig{})
	fx.addBlock(t, [][]byte{[]byte("transfer_1")})

	p := fx.Foreign.Proof(1, 0, "acct_a", 0)
	p.ChainID = "some-other-chain"

	res, err := fx.Verifier.VerifyProof(ctx, p)
	require.Equal(t, xbridge.ProofInvalid, res)
	require.ErrorIs(t, err, xbridge.UnknownChainError{ChainID: "some-other-chain"})
}

func TestProofVerifier_tamperedPayload(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newVerifierFixture(t, xbridge.ProofVerifierConfig{})
	fx.addBlock(t, [][]byte{[]byte("transfer_1"), []byte("transfer_2")})

	p := fx.Foreign.Proof(1, 0, "acct_a", 0)
	p.Payload = []byte("transfer_1_forged")

	res, err := fx.Verifier.VerifyProof(ctx, p)
	require.Equal(t, xbridge.ProofInvalid, res)

	var inclErr xbridge.InvalidInclusionProofError
	require.ErrorAs(t, err, &inclErr)

	require.Zero(t, fx.Queue.Len())
}

func TestProofVerifier_replay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newVerifierFixture(t, xbridge.ProofVerifierConfig{})
	fx.addBlock(t, [][]byte{[]byte("transfer_1")})

	p := fx.Foreign.Proof(1, 0, "acct_a", 0)

	res, err := fx.Verifier.VerifyProof(ctx, p)
	require.NoError(t, err)
	require.Equal(t, xbridge.ProofAccepted, res)

	// Same proof again: benign replay, nothing enqueued twice.
	res, err = fx.Verifier.VerifyProof(ctx, p)
	require.Equal(t, xbridge.ProofAlreadyProcessed, res)
	require.ErrorIs(t, err, xbridge.ErrProofReplayed)

	require.Equal(t, 1, fx.Queue.Len())
}

func TestProofVerifier_gapBufferedThenDrained(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newVerifierFixture(t, xbridge.ProofVerifierConfig{})
	fx.addBlock(t, [][]byte{[]byte("transfer_1"), []byte("transfer_2"), []byte("transfer_3")})

	p0 := fx.Foreign.Proof(1, 0, "acct_a", 0)
	p1 := fx.Foreign.Proof(1, 1, "acct_a", 1)
	p2 := fx.Foreign.Proof(1, 2, "acct_a", 2)

	// Sequences 2 and 1 arrive before 0.
	res, err := fx.Verifier.VerifyProof(ctx, p2)
	require.Equal(t, xbridge.ProofBuffered, res)

	var oooErr xbridge.OutOfOrderProofError
	require.ErrorAs(t, err, &oooErr)
	require.Equal(t, uint64(0), oooErr.WantSeq)
	require.Equal(t, uint64(2), oooErr.GotSeq)

	res, _ = fx.Verifier.VerifyProof(ctx, p1)
	require.Equal(t, xbridge.ProofBuffered, res)

	require.Zero(t, fx.Queue.Len())

	// Sequence 0 closes the gap and drains both buffered successors.
	res, err = fx.Verifier.VerifyProof(ctx, p0)
	require.NoError(t, err)
	require.Equal(t, xbridge.ProofAccepted, res)

	entries := fx.Queue.Collect(10, 5)
	require.Len(t, entries, 3)
	for i, e := range entries {
		require.Equal(t, uint64(i), e.Seq)
	}
}

func TestProofVerifier_bufferedProofExpires(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Unix(1000, 0)

	fx := newVerifierFixture(t, xbridge.ProofVerifierConfig{
		ProofTTL: time.Minute,
		Now:      func() time.Time { return now },
	})
	fx.addBlock(t, [][]byte{[]byte("transfer_1"), []byte("transfer_2")})

	p0 := fx.Foreign.Proof(1, 0, "acct_a", 0)
	p1 := fx.Foreign.Proof(1, 1, "acct_a", 1)

	res, _ := fx.Verifier.VerifyProof(ctx, p1)
	require.Equal(t, xbridge.ProofBuffered, res)

	now = now.Add(2 * time.Minute)

	// The expired buffered proof is dropped,
	// so only sequence 0 lands on the queue.
	res, err := fx.Verifier.VerifyProof(ctx, p0)
	require.NoError(t, err)
	require.Equal(t, xbridge.ProofAccepted, res)

	require.Equal(t, 1, fx.Queue.Len())
}

func TestProofVerifier_independentAccounts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newVerifierFixture(t, xbridge.ProofVerifierConfig{})
	fx.addBlock(t, [][]byte{[]byte("transfer_a"), []byte("transfer_b")})

	// Each account has its own sequence space.
	pa := fx.Foreign.Proof(1, 0, "acct_a", 0)
	pb := fx.Foreign.Proof(1, 1, "acct_b", 0)

	res, err := fx.Verifier.VerifyProof(ctx, pa)
	require.NoError(t, err)
	require.Equal(t, xbridge.ProofAccepted, res)

	res, err = fx.Verifier.VerifyProof(ctx, pb)
	require.NoError(t, err)
	require.Equal(t, xbridge.ProofAccepted, res)
}

func TestProofVerifier_sequencesSurviveRestart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newVerifierFixture(t, xbridge.ProofVerifierConfig{})
	fx.addBlock(t, [][]byte{[]byte("transfer_1")})

	p := fx.Foreign.Proof(1, 0, "acct_a", 0)

	res, err := fx.Verifier.VerifyProof(ctx, p)
	require.NoError(t, err)
	require.Equal(t, xbridge.ProofAccepted, res)

	// A new verifier over the same sequence store
	// must still recognize the replay.
	v2, err := xbridge.NewProofVerifier(xbridge.ProofVerifierConfig{
		Log:       testLogger(),
		Chains:    []*xbridge.HeaderChain{fx.Chain},
		Queue:     xbridge.NewRelayQueue(),
		Sequences: fx.Seqs,
	})
	require.NoError(t, err)

	res, err = v2.VerifyProof(ctx, p)
	require.Equal(t, xbridge.ProofAlreadyProcessed, res)
	require.ErrorIs(t, err, xbridge.ErrProofReplayed)
}
