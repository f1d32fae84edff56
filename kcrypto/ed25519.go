package kcrypto

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
)

// Registry prefix for ed25519 keys.
const ed25519TypeName = "ed25519"

// Ed25519PubKey is an ed25519 public key,
// backed by the standard library implementation.
type Ed25519PubKey ed25519.PublicKey

var _ PubKey = Ed25519PubKey(nil)

// RegisterEd25519 adds the ed25519 key type to reg.
// Registries start empty, so any process that accepts
// ed25519 keys has to call this once per registry.
func RegisterEd25519(reg *Registry) {
	reg.Register(ed25519TypeName, Ed25519PubKey{}, NewEd25519PubKey)
}

// NewEd25519PubKey wraps b as an [Ed25519PubKey],
// rejecting input of the wrong length.
func NewEd25519PubKey(b []byte) (PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf(
			"ed25519 public keys are %d bytes, got %d",
			ed25519.PublicKeySize, len(b),
		)
	}
	return Ed25519PubKey(b), nil
}

func (k Ed25519PubKey) TypeName() string {
	return ed25519TypeName
}

func (k Ed25519PubKey) PubKeyBytes() []byte {
	return []byte(k)
}

// Equal reports whether other is an ed25519 key with the same bytes.
func (k Ed25519PubKey) Equal(other PubKey) bool {
	o, ok := other.(Ed25519PubKey)
	return ok && bytes.Equal(k, o)
}

func (k Ed25519PubKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(k), msg, sig)
}

// Ed25519Signer holds an ed25519 private key in process memory
// and signs with it directly.
type Ed25519Signer struct {
	pub  Ed25519PubKey
	priv ed25519.PrivateKey
}

var _ Signer = Ed25519Signer{}

func NewEd25519Signer(priv ed25519.PrivateKey) Ed25519Signer {
	return Ed25519Signer{
		pub:  Ed25519PubKey(priv.Public().(ed25519.PublicKey)),
		priv: priv,
	}
}

func (s Ed25519Signer) PubKey() PubKey {
	return s.pub
}

// Sign signs input with the in-memory private key.
// The context goes unused; nothing here blocks.
func (s Ed25519Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, input), nil
}
