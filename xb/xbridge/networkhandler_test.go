package xbridge_test

import (
	"context"
	"testing"

	"github.com/kestrel-chain/kestrel/kexchange"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
	"github.com/stretchr/testify/require"
)

func newNetworkHandlerFixture(t *testing.T) (*verifierFixture, *xbridge.NetworkHandler) {
	t.Helper()

	fx := newVerifierFixture(t, xbridge.ProofVerifierConfig{})
	nh := xbridge.NewNetworkHandler(testLogger(), []*xbridge.HeaderChain{fx.Chain}, fx.Verifier)
	return fx, nh
}

func TestNetworkHandler_foreignHeaders(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx, nh := newNetworkHandlerFixture(t)

	h1 := fx.Foreign.AddBlock([][]byte{[]byte("transfer_1")})
	h2 := fx.Foreign.AddBlock([][]byte{[]byte("transfer_2")})

	// A linking header propagates; a repeat is ignored without penalty.
	require.Equal(t, kexchange.FeedbackAccepted, nh.HandleForeignHeader(ctx, h1))
	require.Equal(t, kexchange.FeedbackIgnored, nh.HandleForeignHeader(ctx, h1))

	require.Equal(t, kexchange.FeedbackAccepted, nh.HandleForeignHeader(ctx, h2))
}

func TestNetworkHandler_bufferedHeaderPropagates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx, nh := newNetworkHandlerFixture(t)

	_ = fx.Foreign.AddBlock([][]byte{[]byte("transfer_1")})
	h2 := fx.Foreign.AddBlock([][]byte{[]byte("transfer_2")})

	// Arriving before its parent, the header is buffered here
	// but still worth relaying to better-connected peers.
	require.Equal(t, kexchange.FeedbackAccepted, nh.HandleForeignHeader(ctx, h2))
}

func TestNetworkHandler_unknownChainHeaderIgnored(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx, nh := newNetworkHandlerFixture(t)

	h := fx.Foreign.AddBlock([][]byte{[]byte("transfer_1")})
	h.ChainID = "some-other-chain"

	require.Equal(t, kexchange.FeedbackIgnored, nh.HandleForeignHeader(ctx, h))
}

func TestNetworkHandler_underAttestedHeaderRejected(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx, nh := newNetworkHandlerFixture(t)

	h := fx.Foreign.AddBlock([][]byte{[]byte("transfer_1")})
	h.Attestations = h.Attestations[:1]

	require.Equal(t, kexchange.FeedbackRejected, nh.HandleForeignHeader(ctx, h))
}

func TestNetworkHandler_crossChainProofs(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx, nh := newNetworkHandlerFixture(t)
	fx.addBlock(t, [][]byte{[]byte("transfer_1"), []byte("transfer_2"), []byte("transfer_3")})

	p0 := fx.Foreign.Proof(1, 0, "acct_a", 0)
	p2 := fx.Foreign.Proof(1, 2, "acct_a", 2)

	// A sequence gap buffers locally but still propagates.
	require.Equal(t, kexchange.FeedbackAccepted, nh.HandleCrossChainProof(ctx, p2))

	require.Equal(t, kexchange.FeedbackAccepted, nh.HandleCrossChainProof(ctx, p0))

	// Replays are a gossip fact of life, not misbehavior.
	require.Equal(t, kexchange.FeedbackIgnored, nh.HandleCrossChainProof(ctx, p0))
}

func TestNetworkHandler_tamperedProofRejected(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx, nh := newNetworkHandlerFixture(t)
	fx.addBlock(t, [][]byte{[]byte("transfer_1"), []byte("transfer_2")})

	p := fx.Foreign.Proof(1, 0, "acct_a", 0)
	p.Payload = []byte("transfer_1_forged")

	require.Equal(t, kexchange.FeedbackRejected, nh.HandleCrossChainProof(ctx, p))
}

func TestNetworkHandler_proofAgainstUnseenHeaderIgnored(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx, nh := newNetworkHandlerFixture(t)
	fx.addBlock(t, [][]byte{[]byte("transfer_1")})

	// The relayer may simply be ahead of our verified head.
	p := fx.Foreign.Proof(1, 0, "acct_a", 0)
	p.HeaderHash = []byte("not_yet_verified")

	require.Equal(t, kexchange.FeedbackIgnored, nh.HandleCrossChainProof(ctx, p))
}
