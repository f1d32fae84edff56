package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/kestrel/ks/kscodec/ksjson"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
	"github.com/kestrel-chain/kestrel/xb/xbridge/xbridgetest"
)

type proofIntakeFixture struct {
	Foreign *xbridgetest.ForeignChainFixture
	Queue   *xbridge.RelayQueue

	Server *httpServer
}

func newProofIntakeFixture(t *testing.T) *proofIntakeFixture {
	t.Helper()

	log := slogt.New(t)

	foreign := xbridgetest.NewForeignChainFixture()
	hc, err := foreign.NewHeaderChain(xbridge.HeaderChainConfig{Log: log})
	require.NoError(t, err)

	queue := xbridge.NewRelayQueue()
	v, err := xbridge.NewProofVerifier(xbridge.ProofVerifierConfig{
		Log:       log,
		Chains:    []*xbridge.HeaderChain{hc},
		Queue:     queue,
		Sequences: xbridge.NewMemSequenceStore(),
	})
	require.NoError(t, err)

	return &proofIntakeFixture{
		Foreign: foreign,
		Queue:   queue,

		Server: &httpServer{
			log: log,

			chains:   map[string]*xbridge.HeaderChain{hc.ChainID(): hc},
			verifier: v,
			queue:    queue,
			codec:    ksjson.MarshalCodec{},
		},
	}
}

func (f *proofIntakeFixture) submitProof(t *testing.T, p xbridge.CrossChainProof) *httptest.ResponseRecorder {
	t.Helper()

	b, err := f.Server.codec.MarshalCrossChainProof(p)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/bridge/proofs", bytes.NewReader(b))
	w := httptest.NewRecorder()
	f.Server.handleCrossChainProof(w, req)
	return w
}

func resultOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body["result"]
}

func TestHTTPCrossChainProof_accepted(t *testing.T) {
	t.Parallel()

	fx := newProofIntakeFixture(t)

	h := fx.Foreign.AddBlock([][]byte{[]byte("transfer_1"), []byte("transfer_2")})
	res, err := fx.Server.chains[h.ChainID].AddHeader(h)
	require.NoError(t, err)
	require.Equal(t, xbridge.HeaderAccepted, res)

	w := fx.submitProof(t, fx.Foreign.Proof(1, 0, "acct_a", 0))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Accepted", resultOf(t, w))
}

func TestHTTPCrossChainProof_replayIsNotAFailure(t *testing.T) {
	t.Parallel()

	fx := newProofIntakeFixture(t)

	h := fx.Foreign.AddBlock([][]byte{[]byte("transfer_1")})
	_, err := fx.Server.chains[h.ChainID].AddHeader(h)
	require.NoError(t, err)

	p := fx.Foreign.Proof(1, 0, "acct_a", 0)

	w := fx.submitProof(t, p)
	require.Equal(t, http.StatusOK, w.Code)

	// Resubmitting the same proof is routine relayer behavior;
	// the response says it was already handled instead of erroring.
	w = fx.submitProof(t, p)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "AlreadyProcessed", resultOf(t, w))

	require.Equal(t, 1, fx.Queue.Len())
}

func TestHTTPCrossChainProof_sequenceGapIsBuffered(t *testing.T) {
	t.Parallel()

	fx := newProofIntakeFixture(t)

	h := fx.Foreign.AddBlock([][]byte{[]byte("transfer_1"), []byte("transfer_2")})
	_, err := fx.Server.chains[h.ChainID].AddHeader(h)
	require.NoError(t, err)

	w := fx.submitProof(t, fx.Foreign.Proof(1, 1, "acct_a", 3))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Buffered", resultOf(t, w))
}

func TestHTTPCrossChainProof_invalidStillRejected(t *testing.T) {
	t.Parallel()

	fx := newProofIntakeFixture(t)

	h := fx.Foreign.AddBlock([][]byte{[]byte("transfer_1"), []byte("transfer_2")})
	_, err := fx.Server.chains[h.ChainID].AddHeader(h)
	require.NoError(t, err)

	p := fx.Foreign.Proof(1, 0, "acct_a", 0)
	p.Payload = []byte("transfer_1_forged")

	w := fx.submitProof(t, p)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
