package ksgossip

import (
	"github.com/kestrel-chain/kestrel/ks/ksengine/kslink"
)

// Strategy observes changes to engine round state
// and decides what to send to the p2p network.
// A Strategy is constructed around a [ksp2p.ConsensusBroadcaster],
// which is typically already available near main.go when the strategy is created.
//
// The engine provides a read-only channel of round state updates through Start,
// and calls Wait while shutting down.
type Strategy interface {
	// Start provides the update channel for the strategy to begin running.
	// It is an error to call Start more than once.
	Start(updates <-chan kslink.RoundStateUpdate)

	// Wait blocks until the strategy is finished.
	Wait()
}
