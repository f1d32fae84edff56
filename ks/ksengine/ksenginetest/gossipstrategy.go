package ksenginetest

import (
	"context"

	"github.com/kestrel-chain/kestrel/ks/ksengine/kslink"
)

// ChannelGossipStrategy is a [ksgossip.Strategy] that forwards
// round state updates to a buffered channel for test inspection.
// Updates arriving while the buffer is full are dropped.
type ChannelGossipStrategy struct {
	ctx context.Context

	// Receives a copy of each update the engine emits.
	Updates chan kslink.RoundStateUpdate

	done chan struct{}
}

func NewChannelGossipStrategy(ctx context.Context) *ChannelGossipStrategy {
	return &ChannelGossipStrategy{
		ctx: ctx,

		Updates: make(chan kslink.RoundStateUpdate, 64),

		done: make(chan struct{}),
	}
}

func (s *ChannelGossipStrategy) Start(updates <-chan kslink.RoundStateUpdate) {
	go func() {
		defer close(s.done)

		for {
			select {
			case <-s.ctx.Done():
				return
			case u := <-updates:
				select {
				case s.Updates <- u:
				default:
					// Tests that care about every update drain the channel;
					// the rest just need the engine unblocked.
				}
			}
		}
	}()
}

func (s *ChannelGossipStrategy) Wait() {
	<-s.done
}
