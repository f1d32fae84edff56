package ksp2ptest

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
)

// ChannelBroadcaster satisfies the [ksp2p.ConsensusBroadcaster] interface,
// emitting to exported channels.
// Because this is meant to be used in tests,
// there are gracious 5-second timeouts associated with the channels.
// If a channel is blocked sending for that duration, ChannelBroadcaster panics.
type ChannelBroadcaster struct {
	phInCh, phOutCh chan ksconsensus.ProposedHeader

	prevoteInCh, prevoteOutCh chan ksconsensus.PrevoteSparseProof

	precommitInCh, precommitOutCh chan ksconsensus.PrecommitSparseProof

	qcInCh, qcOutCh chan ksconsensus.QuorumCertificate
}

func NewChannelBroadcaster(ctx context.Context) *ChannelBroadcaster {
	cb := &ChannelBroadcaster{
		phInCh:  make(chan ksconsensus.ProposedHeader, 1),
		phOutCh: make(chan ksconsensus.ProposedHeader),

		prevoteInCh:  make(chan ksconsensus.PrevoteSparseProof, 1),
		prevoteOutCh: make(chan ksconsensus.PrevoteSparseProof),

		precommitInCh:  make(chan ksconsensus.PrecommitSparseProof, 1),
		precommitOutCh: make(chan ksconsensus.PrecommitSparseProof),

		qcInCh:  make(chan ksconsensus.QuorumCertificate, 1),
		qcOutCh: make(chan ksconsensus.QuorumCertificate),
	}

	go cb.background(ctx)
	return cb
}

func (cb *ChannelBroadcaster) background(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ph := <-cb.phInCh:
			sendOrPanic(ctx, cb.phOutCh, ph)
		case proof := <-cb.prevoteInCh:
			sendOrPanic(ctx, cb.prevoteOutCh, proof)
		case proof := <-cb.precommitInCh:
			sendOrPanic(ctx, cb.precommitOutCh, proof)
		case qc := <-cb.qcInCh:
			sendOrPanic(ctx, cb.qcOutCh, qc)
		}
	}
}

func (cb *ChannelBroadcaster) OutgoingProposedHeaders() chan<- ksconsensus.ProposedHeader {
	return cb.phInCh
}

// ProposedHeaders is the channel for the test to read,
// to inspect proposed headers that have been broadcast.
func (cb *ChannelBroadcaster) ProposedHeaders() <-chan ksconsensus.ProposedHeader {
	return cb.phOutCh
}

func (cb *ChannelBroadcaster) OutgoingPrevoteProofs() chan<- ksconsensus.PrevoteSparseProof {
	return cb.prevoteInCh
}

// PrevoteProofs is the channel for the test to read,
// to inspect prevote proofs that have been broadcast.
func (cb *ChannelBroadcaster) PrevoteProofs() <-chan ksconsensus.PrevoteSparseProof {
	return cb.prevoteOutCh
}

func (cb *ChannelBroadcaster) OutgoingPrecommitProofs() chan<- ksconsensus.PrecommitSparseProof {
	return cb.precommitInCh
}

// PrecommitProofs is the channel for the test to read,
// to inspect precommit proofs that have been broadcast.
func (cb *ChannelBroadcaster) PrecommitProofs() <-chan ksconsensus.PrecommitSparseProof {
	return cb.precommitOutCh
}

func (cb *ChannelBroadcaster) OutgoingQuorumCertificates() chan<- ksconsensus.QuorumCertificate {
	return cb.qcInCh
}

// QuorumCertificates is the channel for the test to read,
// to inspect certificates that have been broadcast.
func (cb *ChannelBroadcaster) QuorumCertificates() <-chan ksconsensus.QuorumCertificate {
	return cb.qcOutCh
}

func sendOrPanic[T any](ctx context.Context, ch chan<- T, val T) {
	tick := time.NewTimer(5 * time.Second)
	defer tick.Stop()

	select {
	case <-ctx.Done():
	case ch <- val:
	case <-tick.C:
		panic(fmt.Errorf("channel of type %T not read within 5 seconds", val))
	}
}
