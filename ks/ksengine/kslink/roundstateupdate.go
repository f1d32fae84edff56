// Package kslink holds the types linking the engine
// to external subsystems such as the gossip strategy,
// without those subsystems importing engine internals.
package kslink

import "github.com/kestrel-chain/kestrel/ks/ksconsensus"

// RoundStateUpdate is the engine's view of the current round,
// sent to the gossip strategy whenever the view changes.
type RoundStateUpdate struct {
	// Snapshot of the round being voted on.
	// Always non-nil in an update sent by the engine.
	Voting *ksconsensus.RoundView

	// Set when the engine has just committed a height:
	// the certificate that concluded it.
	// Lagging peers can apply the certificate directly
	// instead of re-accumulating precommits.
	CommittedQC *ksconsensus.QuorumCertificate
}
