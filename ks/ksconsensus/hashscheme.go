package ksconsensus

import "github.com/kestrel-chain/kestrel/kcrypto"

// HashScheme determines the hashes used throughout the consensus engine.
type HashScheme interface {
	// Header calculates the block hash for a header,
	// without consulting or modifying the header's existing Hash field.
	Header(Header) ([]byte, error)

	// PubKeys calculates the hash of the ordered set of public keys.
	PubKeys([]kcrypto.PubKey) ([]byte, error)

	// VotePowers calculates the hash of the ordered set of voting power,
	// mapped 1:1 with the ordered set of public keys.
	VotePowers([]uint64) ([]byte, error)
}
