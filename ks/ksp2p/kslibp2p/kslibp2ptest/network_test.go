package kslibp2ptest_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/kscodec/ksjson"
	"github.com/kestrel-chain/kestrel/ks/ksp2p/kslibp2p"
	"github.com/kestrel-chain/kestrel/ks/ksp2p/kslibp2p/kslibp2ptest"
	"github.com/kestrel-chain/kestrel/ks/ksp2p/ksp2ptest"
)

func TestLibp2pNetwork_Compliance(t *testing.T) {
	ksp2ptest.TestNetworkCompliance(
		t,
		func(ctx context.Context, log *slog.Logger) (ksp2ptest.Network, error) {
			reg := new(kcrypto.Registry)
			kcrypto.RegisterEd25519(reg)
			codec := ksjson.MarshalCodec{
				CryptoRegistry: reg,
			}
			n, err := kslibp2ptest.NewNetwork(ctx, log, codec)
			if err != nil {
				return nil, err
			}
			return &ksp2ptest.GenericNetwork[*kslibp2p.Connection]{
				Network: n,
			}, nil
		},
	)
}
