package ksjson_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/kscodec"
	"github.com/kestrel-chain/kestrel/ks/kscodec/kscodectest"
	"github.com/kestrel-chain/kestrel/ks/kscodec/ksjson"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
	"github.com/kestrel-chain/kestrel/xb/xbridge/xbridgetest"
)

func TestMarshalCodec(t *testing.T) {
	kscodectest.TestMarshalCodecCompliance(t, func() kscodec.MarshalCodec {
		reg := new(kcrypto.Registry)
		kcrypto.RegisterEd25519(reg)
		return ksjson.MarshalCodec{
			CryptoRegistry: reg,
		}
	})
}

// A proof for the only payload in a block has no sibling path;
// decoding must hand back the same nil Steps it was given.
func TestMarshalCodec_crossChainProof_emptyStepPath(t *testing.T) {
	t.Parallel()

	c := ksjson.MarshalCodec{}
	fx := xbridgetest.NewForeignChainFixture()

	_ = fx.AddBlock([][]byte{[]byte("transfer_1")})
	p := fx.Proof(1, 0, "acct_a", 0)
	require.Nil(t, p.Inclusion.Steps)

	b, err := c.MarshalCrossChainProof(p)
	require.NoError(t, err)

	var got xbridge.CrossChainProof
	require.NoError(t, c.UnmarshalCrossChainProof(b, &got))

	require.Equal(t, p, got)
	require.Nil(t, got.Inclusion.Steps)
}

func TestMarshalCodec_compressed(t *testing.T) {
	kscodectest.TestMarshalCodecCompliance(t, func() kscodec.MarshalCodec {
		reg := new(kcrypto.Registry)
		kcrypto.RegisterEd25519(reg)
		return kscodec.CompressedMarshalCodec{
			Inner: ksjson.MarshalCodec{CryptoRegistry: reg},
		}
	})
}
