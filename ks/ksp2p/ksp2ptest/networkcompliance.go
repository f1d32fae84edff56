package ksp2ptest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kestrel-chain/kestrel/internal/ktest"
	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/kestrel-chain/kestrel/ks/ksp2p"
	"github.com/stretchr/testify/require"
)

// Network is a generalized interface for an in-process network for testing.
//
// Some p2p implementations, such as [LoopbackNetwork] are a first-class network implementation.
// Others may require extra code, such as libp2p requiring a "seed node"
// for other peers to join for discovery purposes.
type Network interface {
	// Open a connection.
	Connect(context.Context) (ksp2p.Connection, error)

	// Block until the network has cleaned up.
	// Typically the Network has a lifecycle associated with a context,
	// so cancel that context to stop the network.
	Wait()

	// Stabilize blocks until the current set of connections are
	// aware of other live connections in this Network.
	//
	// Some Network implementations may take time to fully set up connections,
	// so this should be called after a batch of Connect or Disconnect calls.
	Stabilize(context.Context) error
}

// NetworkConstructor is used within [TestNetworkCompliance] to create a Network.
type NetworkConstructor func(context.Context, *slog.Logger) (Network, error)

// GenericNetwork is a convenience wrapper type that allows
// a concrete network implementation to have a Connect method
// returning the appropriate concrete connection type.
//
// That is to say, you may define:
//
//	type MyNetwork struct { /* ... */ }
//
//	func (n *MyNetwork) Connect() (*MyConn, error) { /* ... */ }
//
// and then use the GenericNetwork wrapper type,
// instead of rewriting your own wrapper
// or instead of defining your Connect() method to return
// a less specific ksp2p.Connection value.
type GenericNetwork[C ksp2p.Connection] struct {
	Network interface {
		Connect(context.Context) (C, error)

		Wait()

		Stabilize(context.Context) error
	}
}

func (n *GenericNetwork[C]) Connect(ctx context.Context) (ksp2p.Connection, error) {
	return n.Network.Connect(ctx)
}

func (n *GenericNetwork[C]) Wait() {
	n.Network.Wait()
}

func (n *GenericNetwork[C]) Stabilize(ctx context.Context) error {
	return n.Network.Stabilize(ctx)
}

func TestNetworkCompliance(t *testing.T, newNet NetworkConstructor) {
	t.Run("child connections are closed on main context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		log := ktest.NewLogger(t)

		net, err := newNet(ctx, log)
		require.NoError(t, err)
		defer net.Wait()
		defer cancel()

		conn1, err := net.Connect(ctx)
		require.NoError(t, err)
		conn2, err := net.Connect(ctx)
		require.NoError(t, err)

		net.Stabilize(ctx)

		// No need to stabilize this time.
		// But do ensure the conn channels are not closed.
		select {
		case <-conn1.Disconnected():
			t.Fatal("conn1 should not have started in a disconnected state")
		default:
			// Okay.
		}
		select {
		case <-conn2.Disconnected():
			t.Fatal("conn2 should not have started in a disconnected state")
		default:
			// Okay.
		}

		// Cancel the context; wait for the network to report completion.
		cancel()
		net.Wait()

		// Now both connections' Disconnected channel should be closed.
		select {
		case <-conn1.Disconnected():
			// Okay.
		default:
			t.Fatal("conn1 did not report disconnected after network shutdown")
		}
		select {
		case <-conn2.Disconnected():
			// Okay.
		default:
			t.Fatal("conn2 did not report disconnected after network shutdown")
		}
	})

	t.Run("basic proposed header send and receive", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		log := ktest.NewLogger(t)

		net, err := newNet(ctx, log)
		require.NoError(t, err)
		defer net.Wait()
		defer cancel()

		conn1, err := net.Connect(ctx)
		require.NoError(t, err)
		conn2, err := net.Connect(ctx)
		require.NoError(t, err)

		handler1 := ksconsensustest.NewChannelConsensusHandler(1)
		conn1.SetConsensusHandler(ctx, handler1)
		handler2 := ksconsensustest.NewChannelConsensusHandler(1)
		conn2.SetConsensusHandler(ctx, handler2)

		require.NoError(t, net.Stabilize(ctx))

		fx := ksconsensustest.NewFixture(3)
		ph := fx.NextProposedHeader([]byte("app_data"), 0)
		fx.SignProposal(ctx, &ph, 0)

		conn1.ConsensusBroadcaster().OutgoingProposedHeaders() <- ph

		got := ktest.ReceiveOrTimeout(t, handler2.IncomingProposedHeaders(), ktest.ScaleMs(1000))
		require.Equal(t, ph, got, "incoming proposed header differed from outgoing")

		select {
		case got := <-handler1.IncomingProposedHeaders():
			t.Fatalf("got proposed header %v back on same connection as sender", got)
		case <-time.After(25 * time.Millisecond):
			// Okay.
		}
	})

	t.Run("basic proposed header after one connection disconnects", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		log := ktest.NewLogger(t)

		net, err := newNet(ctx, log)
		require.NoError(t, err)
		defer net.Wait()
		defer cancel()

		conn1, err := net.Connect(ctx)
		require.NoError(t, err)
		conn2, err := net.Connect(ctx)
		require.NoError(t, err)
		conn3, err := net.Connect(ctx)
		require.NoError(t, err)

		handler1 := ksconsensustest.NewChannelConsensusHandler(1)
		conn1.SetConsensusHandler(ctx, handler1)
		handler2 := ksconsensustest.NewChannelConsensusHandler(1)
		conn2.SetConsensusHandler(ctx, handler2)
		handler3 := ksconsensustest.NewChannelConsensusHandler(1)
		conn3.SetConsensusHandler(ctx, handler3)

		require.NoError(t, net.Stabilize(ctx))

		// Use a fixture so we populate all relevant fields.
		fx := ksconsensustest.NewFixture(3)

		ph1 := fx.NextProposedHeader([]byte("app_data"), 0)
		fx.SignProposal(ctx, &ph1, 0)

		// Outgoing proposed header is seen on other channels.
		conn1.ConsensusBroadcaster().OutgoingProposedHeaders() <- ph1

		got := ktest.ReceiveSoon(t, handler2.IncomingProposedHeaders())
		require.Equal(t, ph1, got, "incoming proposed header differed from outgoing")

		got = ktest.ReceiveSoon(t, handler3.IncomingProposedHeaders())
		require.Equal(t, ph1, got, "incoming proposed header differed from outgoing")

		// Disconnect one channel, send a new proposed header.
		conn3.Disconnect()

		ph2 := fx.NextProposedHeader([]byte("app_data_2"), 1)
		ph2.Header.Height = 2
		fx.RecalculateHash(&ph2.Header)
		fx.SignProposal(ctx, &ph2, 1)

		ktest.SendSoon(t, conn2.ConsensusBroadcaster().OutgoingProposedHeaders(), ph2)

		// New proposed header visible on still-connected channel.
		got = ktest.ReceiveSoon(t, handler1.IncomingProposedHeaders())
		require.Equal(t, ph2, got, "incoming proposed header differed from outgoing")

		// Disconnected handler didn't receive anything.
		select {
		case <-handler3.IncomingProposedHeaders():
			t.Fatal("handler for disconnected connection should not have received message")
		case <-time.After(25 * time.Millisecond):
			// Okay.
		}
	})

	t.Run("basic prevote proof send and receive", func(t *testing.T) {
		t.Parallel()

		fx := ksconsensustest.NewFixture(2)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		log := ktest.NewLogger(t)

		net, err := newNet(ctx, log)
		require.NoError(t, err)
		defer net.Wait()
		defer cancel()

		conn1, err := net.Connect(ctx)
		require.NoError(t, err)
		conn2, err := net.Connect(ctx)
		require.NoError(t, err)

		handler1 := ksconsensustest.NewChannelConsensusHandler(1)
		conn1.SetConsensusHandler(ctx, handler1)

		handler2 := ksconsensustest.NewChannelConsensusHandler(1)
		conn2.SetConsensusHandler(ctx, handler2)

		require.NoError(t, net.Stabilize(ctx))

		ph := fx.NextProposedHeader([]byte("block_hash"), 0)
		vt := ksconsensus.VoteTarget{
			Height:    1,
			Round:     0,
			BlockHash: string(ph.Header.Hash),
		}
		nilVT := ksconsensus.VoteTarget{
			Height:    1,
			Round:     0,
			BlockHash: "",
		}
		prevoteProof, err := ksconsensus.PrevoteProof{
			Height: 1,
			Round:  0,
			Proofs: map[string]kcrypto.SignatureProof{
				string(ph.Header.Hash): fx.PrevoteSignatureProof(ctx, vt, []int{0}),
				"":                     fx.PrevoteSignatureProof(ctx, nilVT, []int{1}),
			},
		}.AsSparse()
		require.NoError(t, err)

		ktest.SendSoon(t, conn1.ConsensusBroadcaster().OutgoingPrevoteProofs(), prevoteProof)

		got := ktest.ReceiveSoon(t, handler2.IncomingPrevoteProofs())
		require.Equal(t, prevoteProof, got, "incoming prevote proof differed from outgoing")

		select {
		case got := <-handler1.IncomingPrevoteProofs():
			t.Fatalf("got prevote proof %v back on same connection as sender", got)
		case <-time.After(25 * time.Millisecond):
			// Okay.
		}
	})

	t.Run("basic precommit send and receive", func(t *testing.T) {
		t.Parallel()

		fx := ksconsensustest.NewFixture(2)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		log := ktest.NewLogger(t)

		net, err := newNet(ctx, log)
		require.NoError(t, err)
		defer net.Wait()
		defer cancel()

		conn1, err := net.Connect(ctx)
		require.NoError(t, err)
		conn2, err := net.Connect(ctx)
		require.NoError(t, err)

		handler1 := ksconsensustest.NewChannelConsensusHandler(1)
		conn1.SetConsensusHandler(ctx, handler1)
		handler2 := ksconsensustest.NewChannelConsensusHandler(1)
		conn2.SetConsensusHandler(ctx, handler2)

		require.NoError(t, net.Stabilize(ctx))

		ph := fx.NextProposedHeader([]byte("block_hash"), 0)

		vt := ksconsensus.VoteTarget{
			Height:    1,
			Round:     0,
			BlockHash: string(ph.Header.Hash),
		}
		nilVT := ksconsensus.VoteTarget{
			Height:    1,
			Round:     0,
			BlockHash: "",
		}
		precommitProof, err := ksconsensus.PrecommitProof{
			Height: 1,
			Round:  0,
			Proofs: map[string]kcrypto.SignatureProof{
				string(ph.Header.Hash): fx.PrecommitSignatureProof(ctx, vt, []int{0}),
				"":                     fx.PrecommitSignatureProof(ctx, nilVT, []int{1}),
			},
		}.AsSparse()
		require.NoError(t, err)

		ktest.SendSoon(t, conn1.ConsensusBroadcaster().OutgoingPrecommitProofs(), precommitProof)

		got := ktest.ReceiveSoon(t, handler2.IncomingPrecommitProofs())
		require.Equal(t, precommitProof, got, "incoming precommit differed from outgoing")

		select {
		case got := <-handler1.IncomingPrecommitProofs():
			t.Fatalf("got precommit %v back on same connection as sender", got)
		case <-time.After(25 * time.Millisecond):
			// Okay.
		}
	})

	t.Run("basic quorum certificate send and receive", func(t *testing.T) {
		t.Parallel()

		fx := ksconsensustest.NewFixture(2)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		log := ktest.NewLogger(t)

		net, err := newNet(ctx, log)
		require.NoError(t, err)
		defer net.Wait()
		defer cancel()

		conn1, err := net.Connect(ctx)
		require.NoError(t, err)
		conn2, err := net.Connect(ctx)
		require.NoError(t, err)

		handler1 := ksconsensustest.NewChannelConsensusHandler(1)
		conn1.SetConsensusHandler(ctx, handler1)
		handler2 := ksconsensustest.NewChannelConsensusHandler(1)
		conn2.SetConsensusHandler(ctx, handler2)

		require.NoError(t, net.Stabilize(ctx))

		ph := fx.NextProposedHeader([]byte("block_hash"), 0)
		qc := fx.QuorumCertificate(ctx, 1, 0, string(ph.Header.Hash), []int{0, 1})

		ktest.SendSoon(t, conn1.ConsensusBroadcaster().OutgoingQuorumCertificates(), qc)

		got := ktest.ReceiveSoon(t, handler2.IncomingQuorumCertificates())
		require.Equal(t, qc, got, "incoming certificate differed from outgoing")

		select {
		case got := <-handler1.IncomingQuorumCertificates():
			t.Fatalf("got certificate %v back on same connection as sender", got)
		case <-time.After(25 * time.Millisecond):
			// Okay.
		}
	})
}
