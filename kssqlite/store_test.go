package kssqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/kscodec/ksjson"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksstore"
	"github.com/kestrel-chain/kestrel/ks/ksstore/ksstoretest"
	"github.com/kestrel-chain/kestrel/kssqlite"
)

func newTestStore(t *testing.T, cleanup func(func())) (*kssqlite.Store, error) {
	t.Helper()

	reg := new(kcrypto.Registry)
	kcrypto.RegisterEd25519(reg)

	s, err := kssqlite.NewStore(
		context.Background(),
		":memory:",
		ksconsensus.Blake2bHashScheme{},
		reg,
		ksjson.MarshalCodec{CryptoRegistry: reg},
	)
	if err != nil {
		return nil, err
	}
	cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s, nil
}

func TestNew(t *testing.T) {
	t.Parallel()

	// Just create the database and close it successfully.
	s, err := newTestStore(t, t.Cleanup)
	require.NoError(t, err)
	require.NotNil(t, s)

	// Helpful output in the simplest test, if there is uncertainty which type was built.
	t.Logf("Tests are for build type %s", s.BuildType)
}

func TestFinalizationStoreCompliance(t *testing.T) {
	t.Parallel()

	ksstoretest.TestFinalizationStoreCompliance(t, func(cleanup func(func())) (ksstore.FinalizationStore, error) {
		return newTestStore(t, cleanup)
	})
}

func TestCommittedBlockStoreCompliance(t *testing.T) {
	t.Parallel()

	ksstoretest.TestCommittedBlockStoreCompliance(t, func(cleanup func(func())) (ksstore.CommittedBlockStore, error) {
		return newTestStore(t, cleanup)
	})
}

func TestEvidenceStoreCompliance(t *testing.T) {
	t.Parallel()

	ksstoretest.TestEvidenceStoreCompliance(t, func(cleanup func(func())) (ksstore.EvidenceStore, error) {
		return newTestStore(t, cleanup)
	})
}

func TestSequenceStore(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := newTestStore(t, t.Cleanup)
	require.NoError(t, err)

	_, ok, err := s.LastSequence(ctx, "chain-a", "acct-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetLastSequence(ctx, "chain-a", "acct-1", 0))

	seq, ok, err := s.LastSequence(ctx, "chain-a", "acct-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, seq)

	// Advancing overwrites the previous value.
	require.NoError(t, s.SetLastSequence(ctx, "chain-a", "acct-1", 7))

	seq, ok, err = s.LastSequence(ctx, "chain-a", "acct-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), seq)

	// Other accounts are unaffected.
	_, ok, err = s.LastSequence(ctx, "chain-a", "acct-2")
	require.NoError(t, err)
	require.False(t, ok)
}
