package kcmd

import (
	"crypto/ed25519"

	"github.com/kestrel-chain/kestrel/kcrypto"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/crypto/blake2b"
)

// SignerFromInsecurePassphrase produces a deterministic ed25519 signer
// from a human-readable passphrase.
// Only meant for development networks;
// production validators load real key material from disk.
func SignerFromInsecurePassphrase(prefix, insecurePassphrase string) (kcrypto.Ed25519Signer, error) {
	bh, err := blake2b.New(ed25519.SeedSize, nil)
	if err != nil {
		return kcrypto.Ed25519Signer{}, err
	}
	bh.Write([]byte(prefix + insecurePassphrase))
	seed := bh.Sum(nil)

	privKey := ed25519.NewKeyFromSeed(seed)

	return kcrypto.NewEd25519Signer(privKey), nil
}

// Libp2pKeyFromInsecurePassphrase derives a libp2p host key from a passphrase,
// using a different domain separator than the consensus signer
// so the two keys never collide.
func Libp2pKeyFromInsecurePassphrase(prefix, insecurePassphrase string) (libp2pcrypto.PrivKey, error) {
	bh, err := blake2b.New(ed25519.SeedSize, nil)
	if err != nil {
		return nil, err
	}
	bh.Write([]byte("kestreld:network|"))
	bh.Write([]byte(prefix + insecurePassphrase))
	seed := bh.Sum(nil)

	privKey := ed25519.NewKeyFromSeed(seed)

	priv, _, err := libp2pcrypto.KeyPairFromStdKey(&privKey)
	if err != nil {
		return nil, err
	}

	return priv, nil
}
