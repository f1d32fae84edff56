package kcrypto

import "context"

// Signer produces the signatures a validator attaches to
// its proposals and votes.
//
// A node holds at most one Signer;
// everything else verifies through [PubKey].
type Signer interface {
	// PubKey returns the key that verifies this signer's output.
	PubKey() PubKey

	// Sign signs input.
	// Implementations backed by a remote signing service
	// should honor ctx cancellation.
	Sign(ctx context.Context, input []byte) (signature []byte, err error)
}
