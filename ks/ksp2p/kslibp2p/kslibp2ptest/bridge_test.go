package kslibp2ptest_test

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-chain/kestrel/internal/ktest"
	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/kscodec/ksjson"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/kestrel-chain/kestrel/ks/ksp2p/kslibp2p/kslibp2ptest"
	"github.com/kestrel-chain/kestrel/ks/ksp2p/ksp2ptest"
	"github.com/kestrel-chain/kestrel/xb/xbridge/xbridgetest"
	"github.com/stretchr/testify/require"
)

func newBridgeTestNetwork(ctx context.Context, t *testing.T) *kslibp2ptest.Network {
	t.Helper()

	reg := new(kcrypto.Registry)
	kcrypto.RegisterEd25519(reg)
	codec := ksjson.MarshalCodec{
		CryptoRegistry: reg,
	}

	n, err := kslibp2ptest.NewNetwork(ctx, ktest.NewLogger(t), codec)
	require.NoError(t, err)
	return n
}

func TestConnection_bridgeMessageGossip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := newBridgeTestNetwork(ctx, t)
	defer net.Wait()
	defer cancel()

	conn1, err := net.Connect(ctx)
	require.NoError(t, err)
	conn2, err := net.Connect(ctx)
	require.NoError(t, err)

	bh1 := ksp2ptest.NewChannelBridgeHandler(1)
	conn1.SetBridgeHandler(ctx, bh1)
	bh2 := ksp2ptest.NewChannelBridgeHandler(1)
	conn2.SetBridgeHandler(ctx, bh2)

	require.NoError(t, net.Stabilize(ctx))

	fx := xbridgetest.NewForeignChainFixture()
	fh := fx.AddBlock([][]byte{[]byte("payload_0"), []byte("payload_1")})

	conn1.BridgeBroadcaster().OutgoingForeignHeaders() <- fh

	gotFH := ktest.ReceiveOrTimeout(t, bh2.IncomingForeignHeaders(), ktest.ScaleMs(1000))
	require.Equal(t, fh, gotFH, "incoming foreign header differed from outgoing")

	select {
	case gotFH := <-bh1.IncomingForeignHeaders():
		t.Fatalf("got foreign header %v back on same connection as sender", gotFH)
	case <-time.After(25 * time.Millisecond):
		// Okay.
	}

	p := fx.Proof(1, 1, "acct_1", 0)

	conn2.BridgeBroadcaster().OutgoingCrossChainProofs() <- p

	gotP := ktest.ReceiveOrTimeout(t, bh1.IncomingCrossChainProofs(), ktest.ScaleMs(1000))
	require.Equal(t, p, gotP, "incoming cross-chain proof differed from outgoing")
}

func TestConnection_bridgeHandlerAlongsideConsensusHandler(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := newBridgeTestNetwork(ctx, t)
	defer net.Wait()
	defer cancel()

	conn1, err := net.Connect(ctx)
	require.NoError(t, err)
	conn2, err := net.Connect(ctx)
	require.NoError(t, err)

	// conn2 runs both handlers, like a full validator node.
	ch2 := ksconsensustest.NewChannelConsensusHandler(1)
	conn2.SetConsensusHandler(ctx, ch2)
	bh2 := ksp2ptest.NewChannelBridgeHandler(1)
	conn2.SetBridgeHandler(ctx, bh2)

	require.NoError(t, net.Stabilize(ctx))

	cfx := ksconsensustest.NewFixture(3)
	ph := cfx.NextProposedHeader([]byte("app_data"), 0)
	cfx.SignProposal(ctx, &ph, 0)

	conn1.ConsensusBroadcaster().OutgoingProposedHeaders() <- ph

	gotPH := ktest.ReceiveOrTimeout(t, ch2.IncomingProposedHeaders(), ktest.ScaleMs(1000))
	require.Equal(t, ph, gotPH, "incoming proposed header differed from outgoing")

	bfx := xbridgetest.NewForeignChainFixture()
	fh := bfx.AddBlock([][]byte{[]byte("payload_0")})

	conn1.BridgeBroadcaster().OutgoingForeignHeaders() <- fh

	gotFH := ktest.ReceiveOrTimeout(t, bh2.IncomingForeignHeaders(), ktest.ScaleMs(1000))
	require.Equal(t, fh, gotFH, "incoming foreign header differed from outgoing")
}
