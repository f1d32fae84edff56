package ksdriver

import (
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// InitChainRequest is sent from the engine to the driver,
// ensuring that the consensus store is in an appropriate initial state.
//
// InitChainRequest does not have an associated context like the other request types,
// because it is not associated with the lifecycle of a single step or round.
type InitChainRequest struct {
	Genesis ksconsensus.ExternalGenesis

	Resp chan InitChainResponse
}

// InitChainResponse is sent by the driver in response to an [InitChainRequest].
type InitChainResponse struct {
	// The app state hash to use in the first proposed block's PrevAppStateHash field.
	AppStateHash []byte

	// The validators for the consensus engine to use in the first proposed block.
	// If nil, the engine will use the GenesisValidatorSet from the request.
	Validators []ksconsensus.Validator
}

// FinalizeBlockRequest is sent from the state machine to the driver,
// notifying the driver that the given header is going to be committed.
//
// The driver must execute the block and return the resulting state root,
// to be used as PrevAppStateHash in the subsequent block;
// and the validators to set as NextValidatorSet on the subsequent block,
// including the epoch those validators belong to.
//
// Consumers of this value may assume that Resp is buffered and sends will not block.
type FinalizeBlockRequest struct {
	Header ksconsensus.Header
	Round  uint32

	// Bridge payloads the proposer carried in this block,
	// already verified by the bridge;
	// the driver applies them during execution.
	RelayEntries []xbridge.RelayEntry

	Resp chan FinalizeBlockResponse
}

// FinalizeBlockResponse is sent by the driver in response to a [FinalizeBlockRequest].
type FinalizeBlockResponse struct {
	// For an unambiguous indicator of the block the driver finalized.
	Height    uint64
	Round     uint32
	BlockHash []byte

	// The resulting validators after executing the block.
	// If we are finalizing the block at height H,
	// this value is used as the NextValidatorSet field in the block at height H+1.
	// An Epoch greater than the executing set's epoch marks an epoch boundary,
	// effective at height H+1.
	Validators []ksconsensus.Validator
	Epoch      uint64

	// The state root after executing the block.
	AppStateHash []byte
}
