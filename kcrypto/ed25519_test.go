package kcrypto_test

import (
	"context"
	"testing"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/kcrypto/kcryptotest"
	"github.com/stretchr/testify/require"
)

func TestEd25519(t *testing.T) {
	t.Parallel()

	var reg kcrypto.Registry
	kcrypto.RegisterEd25519(&reg)

	signers := kcryptotest.DeterministicEd25519Signers(2)

	s1, s2 := signers[0], signers[1]

	dec1, err := reg.Decode(s1.PubKey().TypeName(), s1.PubKey().PubKeyBytes())
	require.NoError(t, err)

	require.True(t, s1.PubKey().Equal(dec1))
	require.False(t, s2.PubKey().Equal(dec1))

	msg := []byte("hello")
	sig, err := s1.Sign(context.Background(), msg)
	require.NoError(t, err)

	require.True(t, s1.PubKey().Verify(msg, sig))
	require.False(t, s2.PubKey().Verify(msg, sig))
}

func TestNewEd25519PubKey_badLength(t *testing.T) {
	t.Parallel()

	_, err := kcrypto.NewEd25519PubKey([]byte("too_short"))
	require.Error(t, err)
}
