package kslibp2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/kestrel-chain/kestrel/internal/kchan"
	"github.com/kestrel-chain/kestrel/kexchange"
	"github.com/kestrel-chain/kestrel/ks/kscodec"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksp2p"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

const topicConsensus = "consensus/v1"

// Connection is a connection to a libp2p network,
// including appropriate pubsub subscriptions.
type Connection struct {
	log *slog.Logger

	codec kscodec.MarshalCodec

	h       *Host
	dhtPeer *dht.IpfsDHT

	consensusTopic *pubsub.Topic
	consensusSub   *pubsub.Subscription

	outgoingProposedHeaders chan ksconsensus.ProposedHeader

	outgoingPrevoteProofs   chan ksconsensus.PrevoteSparseProof
	outgoingPrecommitProofs chan ksconsensus.PrecommitSparseProof

	outgoingQCs chan ksconsensus.QuorumCertificate

	outgoingForeignHeaders   chan xbridge.ForeignHeader
	outgoingCrossChainProofs chan xbridge.CrossChainProof

	setConsensusHandlerRequests chan setConsensusHandlerRequest
	setBridgeHandlerRequests    chan setBridgeHandlerRequest

	wg sync.WaitGroup

	disconnectOnce sync.Once
	disconnected   chan struct{}
}

// NewConnection returns a new Connection based on
// a host that has already joined a network.
func NewConnection(ctx context.Context, log *slog.Logger, h *Host, codec kscodec.MarshalCodec) (*Connection, error) {
	consensusTopic, err := h.PubSub().Join(topicConsensus)
	if err != nil {
		return nil, err
	}

	consensusSub, err := consensusTopic.Subscribe()
	if err != nil {
		return nil, err
	}

	dhtPeer, err := dht.New(
		ctx,
		h.Libp2pHost(),

		dht.ProtocolPrefix("/kestrel"), // TODO: maybe this should not be hardcoded.
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DHT peer: %w", err)
	}

	c := &Connection{
		log: log,

		codec: codec,

		h:       h,
		dhtPeer: dhtPeer,

		consensusTopic: consensusTopic,
		consensusSub:   consensusSub,

		outgoingProposedHeaders: make(chan ksconsensus.ProposedHeader, 1),

		outgoingPrevoteProofs:   make(chan ksconsensus.PrevoteSparseProof, 1),
		outgoingPrecommitProofs: make(chan ksconsensus.PrecommitSparseProof, 1),

		outgoingQCs: make(chan ksconsensus.QuorumCertificate, 1),

		outgoingForeignHeaders:   make(chan xbridge.ForeignHeader, 1),
		outgoingCrossChainProofs: make(chan xbridge.CrossChainProof, 1),

		setConsensusHandlerRequests: make(chan setConsensusHandlerRequest, 1),
		setBridgeHandlerRequests:    make(chan setBridgeHandlerRequest, 1),

		disconnected: make(chan struct{}),
	}

	// Ensure that the subscriptions are ready,
	// as their setup happens in the background.
	waitForSubscriptions(h.PubSub(), topicConsensus)

	c.wg.Add(2)
	go c.background(ctx)
	go c.drainSub(ctx, consensusSub)

	return c, nil
}

func (c *Connection) background(ctx context.Context) {
	defer c.wg.Done()

	if err := c.h.PubSub().RegisterTopicValidator(topicConsensus, ignoreMessage); err != nil {
		c.log.Warn("Failed to initialize consensus topic validator", "err", err)
	}

	// The topic validator closes over both handlers,
	// so the background loop tracks the current pair
	// and rebuilds the validator when either changes.
	var consensusHandler ksconsensus.ConsensusHandler
	var bridgeHandler ksp2p.BridgeHandler

	for {
		select {
		case <-ctx.Done():
			// The connection lifecycle has terminated, so quit.
			return

		case ph, ok := <-c.outgoingProposedHeaders:
			// A proposed header that should go out to the network.

			if !ok {
				// Channel was closed; we're quitting.
				return
			}

			c.publish(ctx, "proposed header", kscodec.ConsensusMessage{
				ProposedHeader: &ph,
			})
		case p, ok := <-c.outgoingPrevoteProofs:
			// A prevote proof that should go out to the network.

			if !ok {
				// Channel was closed; we're quitting.
				return
			}

			c.publish(ctx, "prevote proof", kscodec.ConsensusMessage{
				PrevoteProof: &p,
			})
		case p, ok := <-c.outgoingPrecommitProofs:
			// A precommit that should go out to the network.

			if !ok {
				// Channel was closed; we're quitting.
				return
			}

			c.publish(ctx, "precommit proof", kscodec.ConsensusMessage{
				PrecommitProof: &p,
			})
		case qc, ok := <-c.outgoingQCs:
			// A certificate that should go out to the network.

			if !ok {
				// Channel was closed; we're quitting.
				return
			}

			c.publish(ctx, "quorum certificate", kscodec.ConsensusMessage{
				QuorumCertificate: &qc,
			})
		case fh, ok := <-c.outgoingForeignHeaders:
			// A relayer-submitted foreign header that should go out to the network.

			if !ok {
				// Channel was closed; we're quitting.
				return
			}

			c.publish(ctx, "foreign header", kscodec.ConsensusMessage{
				ForeignHeader: &fh,
			})
		case p, ok := <-c.outgoingCrossChainProofs:
			// A relayer-submitted cross-chain proof that should go out to the network.

			if !ok {
				// Channel was closed; we're quitting.
				return
			}

			c.publish(ctx, "cross-chain proof", kscodec.ConsensusMessage{
				CrossChainProof: &p,
			})

		case req := <-c.setConsensusHandlerRequests:
			consensusHandler = req.Handler
			c.swapTopicValidator(consensusHandler, bridgeHandler)
			close(req.Ready)

		case req := <-c.setBridgeHandlerRequests:
			bridgeHandler = req.Handler
			c.swapTopicValidator(consensusHandler, bridgeHandler)
			close(req.Ready)
		}
	}
}

// swapTopicValidator replaces the consensus topic validator
// with one closing over the given handler pair.
func (c *Connection) swapTopicValidator(
	h ksconsensus.ConsensusHandler,
	bh ksp2p.BridgeHandler,
) {
	// There is always a topic validator, so unregister the previous one.
	if err := c.h.PubSub().UnregisterTopicValidator(topicConsensus); err != nil {
		c.log.Warn("Failed to unregister previous topic validator for consensus messages", "err", err)
	}

	// NOTE: there is a potential race right here,
	// where we temporarily have no topic validator set,
	// between removing and replacing it.
	//
	// Unfortunately it doesn't look like there is a way to atomically swap the validator,
	// nor is there an obvious way to leave the topic and
	// instantaneously join it while setting a validator.
	//
	// Perhaps the alternative is to have a fixed method as the topic validator,
	// and use sync/atomic to swap the handler.

	// Always reassign a topic validator.
	if h == nil && bh == nil {
		if err := c.h.PubSub().RegisterTopicValidator(topicConsensus, ignoreMessage); err != nil {
			c.log.Warn("Failed to register consensus topic validator when clearing handlers", "err", err)
		}
		return
	}

	if err := c.h.PubSub().RegisterTopicValidator(
		topicConsensus,
		c.libp2pConsensusMessageValidator(h, bh),
	); err != nil {
		c.log.Warn("Failed to register topic validator for consensus messages", "err", err)
	}
}

// publish marshals the consensus message and publishes it to the consensus topic,
// logging a warning on failure.
func (c *Connection) publish(ctx context.Context, what string, cm kscodec.ConsensusMessage) {
	b, err := c.codec.MarshalConsensusMessage(cm)
	if err != nil {
		c.log.Warn(
			"Failed to marshal consensus message; cannot broadcast value to network",
			"what", what, "err", err,
		)
		return
	}

	if err := c.consensusTopic.Publish(ctx, b); err != nil {
		c.log.Warn("Failed to publish consensus message", "what", what, "err", err)
	}
}

// ignoreMessage is a pubsub validator that ignores all incoming messages.
// This is useful as a default strategy before (*Connection).SetConsensusHandler is called.
func ignoreMessage(context.Context, peer.ID, *pubsub.Message) pubsub.ValidationResult {
	return pubsub.ValidationIgnore
}

// libp2pConsensusMessageValidator returns a pubsub validator for the consensus message topic.
//
// This callback is run on every new pubsub message,
// so it needs to be associated with a consensus engine in order to act on the message
// and return the decision of whether the message should continue to propagate
// through the p2p network.
func (c *Connection) libp2pConsensusMessageValidator(
	h ksconsensus.ConsensusHandler,
	bh ksp2p.BridgeHandler,
) pubsub.ValidatorEx {
	selfID := c.h.Libp2pHost().ID()
	return func(ctx context.Context, id peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
		if id == selfID {
			// Don't process a message we sent,
			// as our local state must have already been consistent with this message
			// before we sent it.
			return pubsub.ValidationAccept
		}

		var cm kscodec.ConsensusMessage
		if err := c.codec.UnmarshalConsensusMessage(msg.Data, &cm); err != nil {
			c.log.Info("Failed to unmarshal data into consensus message", "err", err)
			return pubsub.ValidationIgnore
		}

		// A known message kind with no handler set is ignored,
		// never rejected; the peer relaying it did nothing wrong.
		f := kexchange.FeedbackIgnored
		switch {
		case cm.ProposedHeader != nil:
			if h != nil {
				f = h.HandleProposedHeader(ctx, *cm.ProposedHeader)
			}
		case cm.PrevoteProof != nil:
			if h != nil {
				f = h.HandlePrevoteProofs(ctx, *cm.PrevoteProof)
			}
		case cm.PrecommitProof != nil:
			if h != nil {
				f = h.HandlePrecommitProofs(ctx, *cm.PrecommitProof)
			}
		case cm.QuorumCertificate != nil:
			if h != nil {
				f = h.HandleQuorumCertificate(ctx, *cm.QuorumCertificate)
			}
		case cm.ForeignHeader != nil:
			if bh != nil {
				f = bh.HandleForeignHeader(ctx, *cm.ForeignHeader)
			}
		case cm.CrossChainProof != nil:
			if bh != nil {
				f = bh.HandleCrossChainProof(ctx, *cm.CrossChainProof)
			}
		default:
			// Undefined behavior if no field was set,
			// so in this case reject it.
			f = kexchange.FeedbackRejected
		}
		return c.exchangeFeedbackToLibp2p(f)
	}
}

func (c *Connection) exchangeFeedbackToLibp2p(f kexchange.Feedback) pubsub.ValidationResult {
	switch f {
	case kexchange.FeedbackAccepted:
		return pubsub.ValidationAccept
	case kexchange.FeedbackRejected:
		return pubsub.ValidationReject
	case kexchange.FeedbackIgnored:
		return pubsub.ValidationIgnore
	default:
		c.log.Info("Handler returned unacceptable feedback value", "f", f)
		return pubsub.ValidationIgnore
	}
}

// drainSub continually reads from a subscription.
func (c *Connection) drainSub(ctx context.Context, sub *pubsub.Subscription) {
	// NOTE: without a subscription, there is no apparent way to check when a topic is fully joined.
	// Without that check, there is no way to synchronize the start of a test to multiple hosts
	// being able to communicate over the same channel.
	//
	// It would seem like simply joining the topic would suffice,
	// so maybe that is something that can be improved in the future.
	defer c.wg.Done()

	for {
		_, err := sub.Next(ctx)
		if err != nil {
			// From reading the source, it looks like err will be non-nil
			// upon context cancellation or if the subscription is canceled.
			// Neither of those are log-worthy.
			// Moreover, canceling the subscription in test can result in a rare
			// log after test finish, causing a spurious data race and test failure.
			if err != context.Canceled && !errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				c.log.Info("Quitting subscription draining due to error", "err", err)
			}
			return
		}
	}
}

// ConsensusBroadcaster returns c, which already satisfies the ConsensusBroadcaster interface.
func (c *Connection) ConsensusBroadcaster() ksp2p.ConsensusBroadcaster {
	return c
}

// OutgoingPrevoteProofs returns a channel where prevote proofs may be sent,
// after which they will be broadcast to the p2p network.
func (c *Connection) OutgoingPrevoteProofs() chan<- ksconsensus.PrevoteSparseProof {
	return c.outgoingPrevoteProofs
}

// OutgoingPrecommitProofs returns a channel where precommits may be sent,
// after which they will be broadcast to the p2p network.
func (c *Connection) OutgoingPrecommitProofs() chan<- ksconsensus.PrecommitSparseProof {
	return c.outgoingPrecommitProofs
}

// OutgoingProposedHeaders returns a channel where proposed headers may be sent,
// after which they will be broadcast to the p2p network.
func (c *Connection) OutgoingProposedHeaders() chan<- ksconsensus.ProposedHeader {
	return c.outgoingProposedHeaders
}

// OutgoingQuorumCertificates returns a channel where certificates may be sent,
// after which they will be broadcast to the p2p network.
func (c *Connection) OutgoingQuorumCertificates() chan<- ksconsensus.QuorumCertificate {
	return c.outgoingQCs
}

// BridgeBroadcaster returns c, which already satisfies the BridgeBroadcaster interface.
func (c *Connection) BridgeBroadcaster() ksp2p.BridgeBroadcaster {
	return c
}

// OutgoingForeignHeaders returns a channel where foreign headers may be sent,
// after which they will be broadcast to the p2p network.
func (c *Connection) OutgoingForeignHeaders() chan<- xbridge.ForeignHeader {
	return c.outgoingForeignHeaders
}

// OutgoingCrossChainProofs returns a channel where cross-chain proofs may be sent,
// after which they will be broadcast to the p2p network.
func (c *Connection) OutgoingCrossChainProofs() chan<- xbridge.CrossChainProof {
	return c.outgoingCrossChainProofs
}

func (c *Connection) Disconnect() {
	c.disconnectOnce.Do(func() {
		// Unregister the topic validators.
		// This doesn't seem necessary, but sometimes during tests,
		// we will get a late log message after the test has failed,
		// perhaps due to other resources not being cleaned up properly.
		_ = c.h.PubSub().UnregisterTopicValidator(topicConsensus)

		c.consensusSub.Cancel()
		if err := c.consensusTopic.Close(); err != nil && err != context.Canceled {
			c.log.Info("Error closing consensus message topic during disconnect", "err", err)
		}

		if err := c.h.Close(); err != nil {
			c.log.Info("Error closing connection host", "err", err)
		}

		close(c.disconnected)
	})
}

// Disconnected returns a channel that is closed once
// c.Disconnect() has been called and has returned.
func (c *Connection) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Host returns c's underlying Host.
// This is useful for some bookkeeping in [kslibp2ptest.Network].
func (c *Connection) Host() *Host {
	return c.h
}

// Codec returns c's codec.
// This is primarily useful for testing.
func (c *Connection) Codec() kscodec.MarshalCodec {
	return c.codec
}

// SetConsensusHandler sets the consensus handler for this Connection.
// h may be nil to ignore consensus messages.
func (c *Connection) SetConsensusHandler(ctx context.Context, h ksconsensus.ConsensusHandler) {
	ready := make(chan struct{})
	req := setConsensusHandlerRequest{
		Handler: h,
		Ready:   ready,
	}

	_, _ = kchan.ReqResp(
		ctx, c.log,
		c.setConsensusHandlerRequests, req,
		req.Ready,
		"setting consensus handler",
	)
}

type setConsensusHandlerRequest struct {
	Handler ksconsensus.ConsensusHandler
	Ready   chan struct{}
}

// SetBridgeHandler sets the handler for incoming bridge messages:
// foreign headers and cross-chain proofs gossiped on the consensus topic.
// bh may be nil to ignore bridge messages.
func (c *Connection) SetBridgeHandler(ctx context.Context, bh ksp2p.BridgeHandler) {
	ready := make(chan struct{})
	req := setBridgeHandlerRequest{
		Handler: bh,
		Ready:   ready,
	}

	_, _ = kchan.ReqResp(
		ctx, c.log,
		c.setBridgeHandlerRequests, req,
		req.Ready,
		"setting bridge handler",
	)
}

type setBridgeHandlerRequest struct {
	Handler ksp2p.BridgeHandler
	Ready   chan struct{}
}

// WaitForSubscriptions checks for reported subscriptions from ps.
// If the reported subscriptions do not include every topic in topics
// within an arbitrary three seconds, it returns an error.
//
// There is no synchonous callback to discover when a subscription is ready,
// so we are left with polling for this.
func waitForSubscriptions(ps *pubsub.PubSub, topics ...string) error {
	// Arbitrary deadline of 3s.
	// TODO: This probably should use context instead.
	deadline := time.Now().Add(3 * time.Second)

	var have []string
OUTER:
	for time.Now().Before(deadline) {
		have = ps.GetTopics()
		if len(have) < len(topics) {
			// Not enough topics.
			time.Sleep(10 * time.Millisecond)
			continue
		}

		// Enough topics. Is every wanted topic present?
		for _, t := range topics {
			if !slices.Contains(have, t) {
				time.Sleep(10 * time.Millisecond)
				continue OUTER
			}
		}

		// Have all topics within deadline.
		return nil
	}

	return fmt.Errorf(
		"not all subscriptions ready within 3s; have: %s; want: %s",
		strings.Join(have, ", "),
		strings.Join(topics, ", "),
	)
}
