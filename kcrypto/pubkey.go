package kcrypto

// PubKey is the minimal interface for a public key used to verify
// proposal and vote signatures.
type PubKey interface {
	// PubKeyBytes returns the raw bytes of the public key.
	PubKeyBytes() []byte

	// Equal reports whether other represents the same key.
	Equal(other PubKey) bool

	// Verify reports whether sig is a valid signature of msg under this key.
	Verify(msg, sig []byte) bool

	// TypeName is the registered name of the key type,
	// used by [Registry] when marshalling.
	TypeName() string
}
