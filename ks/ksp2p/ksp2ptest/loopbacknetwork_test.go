package ksp2ptest_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/kestrel-chain/kestrel/ks/ksp2p/ksp2ptest"
)

func TestLoopbackNetwork_Compliance(t *testing.T) {
	ksp2ptest.TestNetworkCompliance(
		t,
		func(ctx context.Context, log *slog.Logger) (ksp2ptest.Network, error) {
			n := ksp2ptest.NewLoopbackNetwork(ctx, log)
			return &ksp2ptest.GenericNetwork[*ksp2ptest.LoopbackConnection]{
				Network: n,
			}, nil
		},
	)
}
