package ksp2ptest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/kestrel-chain/kestrel/internal/klog"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksp2p"
)

// LoopbackNetwork is a network used for testing,
// where messages never leave the current process.
type LoopbackNetwork struct {
	// The network's logger isn't actively used,
	// as that would typically be high noise.
	// But it's available and wired up if an individual test needs network debugging.
	// Just drop in your own log calls.
	log *slog.Logger

	newConnRequests chan newConnRequest
	rmConn          chan *LoopbackConnection

	incomingProposedHeaders chan loopbackProposedHeader

	incomingPrevoteProofs   chan loopbackPrevoteProof
	incomingPrecommitProofs chan loopbackPrecommitProof

	incomingQCs chan loopbackQC

	done chan struct{}
}

type newConnRequest struct {
	conn     *LoopbackConnection
	accepted chan struct{}
}

// NewLoopbackNetwork returns an initialized LoopbackNetwork.
// Cancel the context to clean up resources, then use Wait.
func NewLoopbackNetwork(ctx context.Context, log *slog.Logger) *LoopbackNetwork {
	n := &LoopbackNetwork{
		log: log.With("net_idx", atomic.AddUint64(&loopbackNetworkIdxCounter, 1)),

		newConnRequests: make(chan newConnRequest, 1),
		rmConn:          make(chan *LoopbackConnection, 1),

		incomingProposedHeaders: make(chan loopbackProposedHeader, 1),

		incomingPrevoteProofs:   make(chan loopbackPrevoteProof, 1),
		incomingPrecommitProofs: make(chan loopbackPrecommitProof, 1),

		incomingQCs: make(chan loopbackQC, 1),

		done: make(chan struct{}),
	}
	go n.background(ctx)
	return n
}

// Wait blocks until the network is fully stopped.
// To stop the network, cancel the context used in [NewLoopbackNetwork].
func (n *LoopbackNetwork) Wait() {
	<-n.done
}

func (n *LoopbackNetwork) background(ctx context.Context) {
	defer close(n.done)

	var conns []*LoopbackConnection

	for {
		select {
		case <-ctx.Done():
			n.log.Debug("Network closing")
			for _, c := range conns {
				c.disconnect()
			}
			for _, c := range conns {
				<-c.Disconnected()
			}
			return
		case req := <-n.newConnRequests:
			conns = append(conns, req.conn)
			n.log.Debug("Network added connection", "conn_idx", req.conn.idx)
			close(req.accepted)
		case c := <-n.rmConn:
			idx := slices.Index(conns, c)
			if idx >= 0 {
				conns = slices.Delete(conns, idx, idx+1)
			}
		case p := <-n.incomingProposedHeaders:
			n.log.Debug("Received incoming proposed header", "seq", p.seq)
			n.dispatchProposedHeader(ctx, p, conns)

		case p := <-n.incomingPrevoteProofs:
			n.log.Debug("Received incoming prevote proof", "seq", p.seq)
			n.dispatchPrevoteProof(ctx, p, conns)

		case p := <-n.incomingPrecommitProofs:
			n.log.Debug("Received incoming precommit proof", "seq", p.seq)
			n.dispatchPrecommitProof(ctx, p, conns)

		case q := <-n.incomingQCs:
			n.log.Debug("Received incoming quorum certificate", "seq", q.seq)
			n.dispatchQC(ctx, q, conns)
		}
	}
}

var (
	// Atomic counter to distinguish networks.
	loopbackNetworkIdxCounter uint64

	// Atomic counter for connection indices,
	// so that when logging, different connections can be distinguished.
	loopbackConnIdxCounter uint64

	// Atomic counter for packet sequences.
	// Probably only useful for debugging.
	loopbackSequenceCounter uint64
)

func nextLoopbackSeq() uint64 {
	return atomic.AddUint64(&loopbackSequenceCounter, 1)
}

// Connect returns a new connection to the network.
func (n *LoopbackNetwork) Connect(ctx context.Context) (*LoopbackConnection, error) {
	idx := atomic.AddUint64(&loopbackConnIdxCounter, 1)

	conn := newLoopbackConnection(n.log.With("conn_idx", idx), n, idx)
	req := newConnRequest{
		conn:     conn,
		accepted: make(chan struct{}),
	}
	select {
	case n.newConnRequests <- req:
		// Okay.
	case <-ctx.Done():
		return nil, fmt.Errorf("context finished while creating connection to network: %w", context.Cause(ctx))
	}

	select {
	case <-req.accepted:
		// Okay.
	case <-ctx.Done():
		return nil, fmt.Errorf("context finished while awaiting network connection acknowledgement: %w", context.Cause(ctx))
	}

	return conn, nil
}

// dispatchProposedHeader sends the header to every connection on the network except the sender.
func (n *LoopbackNetwork) dispatchProposedHeader(ctx context.Context, p loopbackProposedHeader, conns []*LoopbackConnection) {
	for _, c := range conns {
		if p.sender == c {
			// Don't send back to self.
			continue
		}

		select {
		case c.incomingProposedHeaders <- p.ph:
			n.log.Debug("Dispatched proposed header", "conn_idx", c.idx, "seq", p.seq, "block_hash", klog.Hex(p.ph.Header.Hash))
			// Okay.
		case <-ctx.Done():
			// Respect early quit.
			return
		}
	}
}

func (n *LoopbackNetwork) dispatchPrevoteProof(ctx context.Context, p loopbackPrevoteProof, conns []*LoopbackConnection) {
	for _, c := range conns {
		if p.sender == c {
			continue
		}

		select {
		case c.incomingPrevoteProofs <- p.p:
			n.log.Debug("Dispatched prevote proof", "conn_idx", c.idx, "seq", p.seq)
		case <-ctx.Done():
			return
		}
	}
}

func (n *LoopbackNetwork) dispatchPrecommitProof(ctx context.Context, p loopbackPrecommitProof, conns []*LoopbackConnection) {
	for _, conn := range conns {
		if p.sender == conn {
			continue
		}

		select {
		case conn.incomingPrecommitProofs <- p.proof:
			n.log.Debug("Dispatched precommit proof", "conn_idx", conn.idx, "seq", p.seq)
		case <-ctx.Done():
			return
		}
	}
}

func (n *LoopbackNetwork) dispatchQC(ctx context.Context, q loopbackQC, conns []*LoopbackConnection) {
	for _, conn := range conns {
		if q.sender == conn {
			continue
		}

		select {
		case conn.incomingQCs <- q.qc:
			n.log.Debug("Dispatched quorum certificate", "conn_idx", conn.idx, "seq", q.seq)
		case <-ctx.Done():
			return
		}
	}
}

// The loopback network does not require any stabilization steps,
// so Stabilize is a no-op.
func (n *LoopbackNetwork) Stabilize(context.Context) error {
	return nil
}

// LoopbackConnection is a connection to a LoopbackNetwork.
type LoopbackConnection struct {
	log *slog.Logger

	net *LoopbackNetwork
	idx uint64

	incomingProposedHeaders, outgoingProposedHeaders chan ksconsensus.ProposedHeader

	incomingPrevoteProofs, outgoingPrevoteProofs     chan ksconsensus.PrevoteSparseProof
	incomingPrecommitProofs, outgoingPrecommitProofs chan ksconsensus.PrecommitSparseProof

	incomingQCs, outgoingQCs chan ksconsensus.QuorumCertificate

	setConsensusHandlerRequests chan setConsensusHandlerRequest

	handleFuncs chan func()

	disconnectOnce     sync.Once
	quit, disconnected chan struct{}
	wg                 sync.WaitGroup
}

func newLoopbackConnection(log *slog.Logger, n *LoopbackNetwork, idx uint64) *LoopbackConnection {
	c := &LoopbackConnection{
		log: log,

		net: n,
		idx: idx,

		incomingProposedHeaders: make(chan ksconsensus.ProposedHeader, 1),
		outgoingProposedHeaders: make(chan ksconsensus.ProposedHeader, 1),

		incomingPrevoteProofs: make(chan ksconsensus.PrevoteSparseProof, 1),
		outgoingPrevoteProofs: make(chan ksconsensus.PrevoteSparseProof, 1),

		incomingPrecommitProofs: make(chan ksconsensus.PrecommitSparseProof, 1),
		outgoingPrecommitProofs: make(chan ksconsensus.PrecommitSparseProof, 1),

		incomingQCs: make(chan ksconsensus.QuorumCertificate, 1),
		outgoingQCs: make(chan ksconsensus.QuorumCertificate, 1),

		setConsensusHandlerRequests: make(chan setConsensusHandlerRequest, 1),

		handleFuncs: make(chan func(), 4), // Slightly more buffered.

		quit:         make(chan struct{}),
		disconnected: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.background()

	for i := 0; i < cap(c.handleFuncs); i++ {
		c.wg.Add(1)
		go c.handleAsync()
	}

	return c
}

func (c *LoopbackConnection) background() {
	defer c.wg.Done()

	var h ksconsensus.ConsensusHandler

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.quit
		cancel()
	}()

	for {
		select {
		case <-c.quit:
			c.log.Debug("Connection closing")
			close(c.handleFuncs)
			return
		case p := <-c.outgoingProposedHeaders:
			msg := loopbackProposedHeader{
				sender: c,
				ph:     p,
				seq:    nextLoopbackSeq(),
			}
			c.log.Debug(
				"Sending proposed header out to network",
				"height", p.Header.Height,
				"round", p.Round,
				"seq", msg.seq,
			)
			select {
			case c.net.incomingProposedHeaders <- msg:
			case <-c.quit:
			}
		case p := <-c.incomingProposedHeaders:
			if h != nil {
				select {
				case c.handleFuncs <- func() {
					_ = h.HandleProposedHeader(ctx, p)
				}:
				case <-c.quit:
				}
			}

		case p := <-c.incomingPrevoteProofs:
			c.log.Debug("Received incoming prevote proof")
			if h != nil {
				select {
				case c.handleFuncs <- func() {
					_ = h.HandlePrevoteProofs(ctx, p)
				}:
				case <-c.quit:
				}
			}
		case p := <-c.outgoingPrevoteProofs:
			msg := loopbackPrevoteProof{
				sender: c,
				p:      p,
				seq:    nextLoopbackSeq(),
			}
			c.log.Debug(
				"Sending prevote proof out to network",
				"height", p.Height,
				"round", p.Round,
				"seq", msg.seq,
			)
			select {
			case c.net.incomingPrevoteProofs <- msg:
			case <-c.quit:
			}

		case p := <-c.incomingPrecommitProofs:
			if h != nil {
				select {
				case c.handleFuncs <- func() {
					_ = h.HandlePrecommitProofs(ctx, p)
				}:
				case <-c.quit:
				}
			}
		case p := <-c.outgoingPrecommitProofs:
			msg := loopbackPrecommitProof{
				sender: c,
				proof:  p,
				seq:    nextLoopbackSeq(),
			}
			c.log.Debug(
				"Sending precommit proof out to network",
				"height", p.Height,
				"round", p.Round,
				"seq", msg.seq,
			)
			select {
			case c.net.incomingPrecommitProofs <- msg:
			case <-c.quit:
			}

		case qc := <-c.incomingQCs:
			if h != nil {
				select {
				case c.handleFuncs <- func() {
					_ = h.HandleQuorumCertificate(ctx, qc)
				}:
				case <-c.quit:
				}
			}
		case qc := <-c.outgoingQCs:
			msg := loopbackQC{
				sender: c,
				qc:     qc,
				seq:    nextLoopbackSeq(),
			}
			c.log.Debug(
				"Sending quorum certificate out to network",
				"height", qc.Height,
				"round", qc.Round,
				"seq", msg.seq,
			)
			select {
			case c.net.incomingQCs <- msg:
			case <-c.quit:
			}

		case req := <-c.setConsensusHandlerRequests:
			h = req.Handler
			close(req.Ready)
		}
	}
}

func (c *LoopbackConnection) handleAsync() {
	defer c.wg.Done()

	for fn := range c.handleFuncs {
		fn()
	}
}

// Disconnect removes this connection from the network,
// and closes all of the connection's channels.
func (c *LoopbackConnection) Disconnect() {
	c.net.rmConn <- c
	c.disconnect()
}

func (c *LoopbackConnection) disconnect() {
	c.disconnectOnce.Do(func() {
		close(c.quit)
		c.wg.Wait()
		close(c.disconnected)
	})
}

// Disconnected returns a channel that is closed once Disconnect completes.
func (c *LoopbackConnection) Disconnected() <-chan struct{} {
	return c.disconnected
}

// ConsensusBroadcaster returns c, which already satisfies the ConsensusBroadcaster interface.
func (c *LoopbackConnection) ConsensusBroadcaster() ksp2p.ConsensusBroadcaster {
	return c
}

// OutgoingProposedHeaders is a channel that accepts proposed headers
// to be broadcast to the rest of the network.
func (c *LoopbackConnection) OutgoingProposedHeaders() chan<- ksconsensus.ProposedHeader {
	return c.outgoingProposedHeaders
}

// OutgoingPrevoteProofs is a channel that accepts prevote proofs
// to be broadcast to the rest of the network.
func (c *LoopbackConnection) OutgoingPrevoteProofs() chan<- ksconsensus.PrevoteSparseProof {
	return c.outgoingPrevoteProofs
}

// OutgoingPrecommitProofs is a channel that accepts precommit proofs
// to be broadcast to the rest of the network.
func (c *LoopbackConnection) OutgoingPrecommitProofs() chan<- ksconsensus.PrecommitSparseProof {
	return c.outgoingPrecommitProofs
}

// OutgoingQuorumCertificates is a channel that accepts certificates
// to be broadcast to the rest of the network.
func (c *LoopbackConnection) OutgoingQuorumCertificates() chan<- ksconsensus.QuorumCertificate {
	return c.outgoingQCs
}

func (c *LoopbackConnection) SetConsensusHandler(_ context.Context, h ksconsensus.ConsensusHandler) {
	ready := make(chan struct{})
	req := setConsensusHandlerRequest{
		Handler: h,
		Ready:   ready,
	}

	c.setConsensusHandlerRequests <- req
	<-ready
}

type loopbackProposedHeader struct {
	sender *LoopbackConnection
	ph     ksconsensus.ProposedHeader
	seq    uint64
}

type loopbackPrevoteProof struct {
	sender *LoopbackConnection
	p      ksconsensus.PrevoteSparseProof
	seq    uint64
}

type loopbackPrecommitProof struct {
	sender *LoopbackConnection
	proof  ksconsensus.PrecommitSparseProof
	seq    uint64
}

type loopbackQC struct {
	sender *LoopbackConnection
	qc     ksconsensus.QuorumCertificate
	seq    uint64
}

type setConsensusHandlerRequest struct {
	Handler ksconsensus.ConsensusHandler
	Ready   chan struct{}
}
