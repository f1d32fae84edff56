package kcrypto_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RoundTrip(t *testing.T) {
	pubKey, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	origKey := kcrypto.Ed25519PubKey(pubKey)

	reg := new(kcrypto.Registry)
	kcrypto.RegisterEd25519(reg)

	b := reg.Marshal(origKey)

	newKey, err := reg.Unmarshal(b)
	require.NoError(t, err)

	require.Equal(t, origKey.PubKeyBytes(), newKey.PubKeyBytes())
}

func TestRegistry_Unmarshal_UnknownType(t *testing.T) {
	reg := new(kcrypto.Registry)
	kcrypto.RegisterEd25519(reg)

	_, err := reg.Unmarshal([]byte("abcd\x00\x00\x00\x00111222333"))
	require.ErrorContains(t, err, "no registered public key type for prefix \"abcd\"")
}

func TestRegistry_Unmarshal_Short(t *testing.T) {
	reg := new(kcrypto.Registry)
	kcrypto.RegisterEd25519(reg)

	_, err := reg.Unmarshal([]byte("ed"))
	require.Error(t, err)
}
