package xbridge_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kestrel-chain/kestrel/xb/xbridge"
	"github.com/kestrel-chain/kestrel/xb/xbridge/xbridgetest"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHeaderChain_inOrder(t *testing.T) {
	t.Parallel()

	fx := xbridgetest.NewForeignChainFixture()
	hc, err := fx.NewHeaderChain(xbridge.HeaderChainConfig{Log: testLogger()})
	require.NoError(t, err)

	h1 := fx.AddBlock([][]byte{[]byte("payload_1")})
	h2 := fx.AddBlock([][]byte{[]byte("payload_2")})

	res, err := hc.AddHeader(h1)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderAccepted, res)

	res, err = hc.AddHeader(h2)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderAccepted, res)

	require.Equal(t, h2.Height, hc.HeadHeight())

	got, err := hc.HeaderByHash(h1.Hash)
	require.NoError(t, err)
	require.Equal(t, h1, got)
}

func TestHeaderChain_alreadyKnown(t *testing.T) {
	t.Parallel()

	fx := xbridgetest.NewForeignChainFixture()
	hc, err := fx.NewHeaderChain(xbridge.HeaderChainConfig{Log: testLogger()})
	require.NoError(t, err)

	h1 := fx.AddBlock([][]byte{[]byte("payload_1")})

	res, err := hc.AddHeader(h1)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderAccepted, res)

	res, err = hc.AddHeader(h1)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderAlreadyKnown, res)
}

func TestHeaderChain_outOfOrderBufferedThenConnected(t *testing.T) {
	t.Parallel()

	fx := xbridgetest.NewForeignChainFixture()
	hc, err := fx.NewHeaderChain(xbridge.HeaderChainConfig{Log: testLogger()})
	require.NoError(t, err)

	h1 := fx.AddBlock([][]byte{[]byte("payload_1")})
	h2 := fx.AddBlock([][]byte{[]byte("payload_2")})
	h3 := fx.AddBlock([][]byte{[]byte("payload_3")})

	res, err := hc.AddHeader(h3)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderBuffered, res)

	res, err = hc.AddHeader(h2)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderBuffered, res)

	require.Equal(t, 2, hc.OrphanCount())

	// The missing parent connects everything buffered behind it.
	res, err = hc.AddHeader(h1)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderAccepted, res)

	require.Zero(t, hc.OrphanCount())
	require.Equal(t, h3.Height, hc.HeadHeight())

	for _, h := range []xbridge.ForeignHeader{h1, h2, h3} {
		_, err := hc.HeaderByHash(h.Hash)
		require.NoError(t, err)
	}
}

func TestHeaderChain_attestationThreshold(t *testing.T) {
	t.Parallel()

	fx := xbridgetest.NewForeignChainFixture()
	hc, err := fx.NewHeaderChain(xbridge.HeaderChainConfig{Log: testLogger()})
	require.NoError(t, err)

	h1 := fx.AddBlock([][]byte{[]byte("payload_1")})
	h1.Attestations = h1.Attestations[:xbridgetest.FixtureAttestationThreshold-1]

	_, err = hc.AddHeader(h1)

	var threshErr xbridge.AttestationThresholdError
	require.ErrorAs(t, err, &threshErr)
	require.Equal(t, xbridgetest.FixtureAttestationThreshold, threshErr.Need)
	require.Equal(t, xbridgetest.FixtureAttestationThreshold-1, threshErr.Got)
}

func TestHeaderChain_staleHeight(t *testing.T) {
	t.Parallel()

	fx := xbridgetest.NewForeignChainFixture()
	hc, err := fx.NewHeaderChain(xbridge.HeaderChainConfig{Log: testLogger()})
	require.NoError(t, err)

	h1 := fx.AddBlock([][]byte{[]byte("payload_1")})

	_, err = hc.AddHeader(h1)
	require.NoError(t, err)

	// A distinct header at an already-passed height can never connect.
	forged := h1
	forged.Hash = []byte("forged_hash")

	_, err = hc.AddHeader(forged)

	var linkErr xbridge.HeaderLinkError
	require.ErrorAs(t, err, &linkErr)
}

func TestHeaderChain_wrongChainID(t *testing.T) {
	t.Parallel()

	fx := xbridgetest.NewForeignChainFixture()
	hc, err := fx.NewHeaderChain(xbridge.HeaderChainConfig{Log: testLogger()})
	require.NoError(t, err)

	h1 := fx.AddBlock([][]byte{[]byte("payload_1")})
	h1.ChainID = "some-other-chain"

	_, err = hc.AddHeader(h1)
	require.ErrorIs(t, err, xbridge.UnknownChainError{ChainID: "some-other-chain"})
}

func TestHeaderChain_orphanEviction(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)

	fx := xbridgetest.NewForeignChainFixture()
	hc, err := fx.NewHeaderChain(xbridge.HeaderChainConfig{
		Log:       testLogger(),
		OrphanTTL: time.Minute,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)

	h1 := fx.AddBlock([][]byte{[]byte("payload_1")})
	h2 := fx.AddBlock([][]byte{[]byte("payload_2")})
	h3 := fx.AddBlock([][]byte{[]byte("payload_3")})

	res, err := hc.AddHeader(h2)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderBuffered, res)

	// Past the deadline, any AddHeader call sweeps the buffer.
	now = now.Add(2 * time.Minute)

	res, err = hc.AddHeader(h3)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderBuffered, res)
	require.Equal(t, 1, hc.OrphanCount())

	// The evicted h2 no longer connects h3 when h1 arrives.
	res, err = hc.AddHeader(h1)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderAccepted, res)
	require.Equal(t, h1.Height, hc.HeadHeight())
}

func TestHeaderChain_orphanBufferBound(t *testing.T) {
	t.Parallel()

	fx := xbridgetest.NewForeignChainFixture()
	hc, err := fx.NewHeaderChain(xbridge.HeaderChainConfig{
		Log:        testLogger(),
		MaxOrphans: 2,
	})
	require.NoError(t, err)

	_ = fx.AddBlock([][]byte{[]byte("payload_1")})
	h2 := fx.AddBlock([][]byte{[]byte("payload_2")})
	h3 := fx.AddBlock([][]byte{[]byte("payload_3")})
	h4 := fx.AddBlock([][]byte{[]byte("payload_4")})

	for _, h := range []xbridge.ForeignHeader{h2, h3} {
		res, err := hc.AddHeader(h)
		require.NoError(t, err)
		require.Equal(t, xbridge.HeaderBuffered, res)
	}

	_, err = hc.AddHeader(h4)

	var orphanErr xbridge.OrphanHeaderError
	require.ErrorAs(t, err, &orphanErr)
	require.Equal(t, h4.Height, orphanErr.Height)
}
