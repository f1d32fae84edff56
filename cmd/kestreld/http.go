package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/kestrel-chain/kestrel/ks/kscodec"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksp2p"
	"github.com/kestrel-chain/kestrel/ks/ksstore"
	"github.com/kestrel-chain/kestrel/kssqlite"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Body size cap on bridge intake endpoints.
const maxBridgeBodyBytes = 1 << 20

// httpServer is the operator-facing surface of a kestreld node:
// status, finalized blocks, prometheus metrics,
// and the intake endpoints where relayers submit
// foreign headers and cross-chain proofs.
type httpServer struct {
	log *slog.Logger

	store    *kssqlite.Store
	chains   map[string]*xbridge.HeaderChain
	verifier *xbridge.ProofVerifier
	queue    *xbridge.RelayQueue
	codec    kscodec.MarshalCodec

	// Accepted relayer submissions are rebroadcast here
	// so the other validators see them too. May be nil.
	bridgeOut ksp2p.BridgeBroadcaster

	srv *http.Server

	done chan struct{}
}

func newHTTPServer(
	ctx context.Context,
	log *slog.Logger,
	addr string,
	store *kssqlite.Store,
	chains []*xbridge.HeaderChain,
	verifier *xbridge.ProofVerifier,
	queue *xbridge.RelayQueue,
	codec kscodec.MarshalCodec,
	bridgeOut ksp2p.BridgeBroadcaster,
	promReg *prometheus.Registry,
) *httpServer {
	byID := make(map[string]*xbridge.HeaderChain, len(chains))
	for _, c := range chains {
		byID[c.ChainID()] = c
	}

	s := &httpServer{
		log: log,

		store:    store,
		chains:   byID,
		verifier: verifier,
		queue:    queue,
		codec:    codec,

		bridgeOut: bridgeOut,

		done: make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/blocks/{height}", s.handleBlock).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/bridge/headers", s.handleForeignHeader).Methods("POST")
	r.HandleFunc("/bridge/proofs", s.handleCrossChainProof).Methods("POST")

	s.srv = &http.Server{
		Addr:    addr,
		Handler: r,

		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.serve()
	go s.waitForShutdown(ctx)

	return s
}

func (s *httpServer) serve() {
	defer close(s.done)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("HTTP server stopped unexpectedly", "err", err)
	}
}

func (s *httpServer) waitForShutdown(ctx context.Context) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Error shutting down HTTP server", "err", err)
	}
}

func (s *httpServer) Wait() {
	<-s.done
}

type statusResponse struct {
	CommittedHeight uint64 `json:"committed_height"`

	RelayQueueDepth int `json:"relay_queue_depth"`

	ForeignChains []foreignChainStatus `json:"foreign_chains"`
}

type foreignChainStatus struct {
	ChainID    string `json:"chain_id"`
	HeadHeight uint64 `json:"head_height"`
	Orphans    int    `json:"orphans"`
}

func (s *httpServer) handleStatus(w http.ResponseWriter, req *http.Request) {
	resp := statusResponse{
		RelayQueueDepth: s.queue.Len(),

		ForeignChains: make([]foreignChainStatus, 0, len(s.chains)),
	}

	height, err := s.store.Height(req.Context())
	if err != nil && !errors.Is(err, ksstore.ErrStoreUninitialized) {
		s.log.Warn("Failed to load committed height for status", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp.CommittedHeight = height

	for _, c := range s.chains {
		resp.ForeignChains = append(resp.ForeignChains, foreignChainStatus{
			ChainID:    c.ChainID(),
			HeadHeight: c.HeadHeight(),
			Orphans:    c.OrphanCount(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("Failed to write status response", "err", err)
	}
}

type blockResponse struct {
	Height uint64 `json:"height"`
	Round  uint32 `json:"round"`

	BlockHash    string `json:"block_hash"`
	AppStateHash string `json:"app_state_hash"`

	// Codec-encoded committed header, if the block body is stored.
	Header json.RawMessage `json:"header,omitempty"`
}

func (s *httpServer) handleBlock(w http.ResponseWriter, req *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(req)["height"], 10, 64)
	if err != nil {
		http.Error(w, "invalid height", http.StatusBadRequest)
		return
	}

	round, blockHash, _, appStateHash, err := s.store.LoadFinalizationByHeight(req.Context(), height)
	if err != nil {
		var unknownErr ksconsensus.HeightUnknownError
		if errors.As(err, &unknownErr) {
			http.Error(w, "height not finalized", http.StatusNotFound)
			return
		}

		s.log.Warn("Failed to load finalization", "height", height, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := blockResponse{
		Height: height,
		Round:  round,

		BlockHash:    hex.EncodeToString([]byte(blockHash)),
		AppStateHash: hex.EncodeToString([]byte(appStateHash)),
	}

	ch, err := s.store.LoadCommittedBlock(req.Context(), height)
	if err == nil {
		b, err := s.codec.MarshalHeader(ch.Header)
		if err != nil {
			s.log.Warn("Failed to marshal committed header", "height", height, "err", err)
		} else {
			resp.Header = b
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("Failed to write block response", "err", err)
	}
}

func (s *httpServer) handleForeignHeader(w http.ResponseWriter, req *http.Request) {
	b, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBridgeBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var fh xbridge.ForeignHeader
	if err := s.codec.UnmarshalForeignHeader(b, &fh); err != nil {
		http.Error(w, "failed to decode foreign header", http.StatusBadRequest)
		return
	}

	chain, ok := s.chains[fh.ChainID]
	if !ok {
		http.Error(w, "unknown foreign chain", http.StatusNotFound)
		return
	}

	res, err := chain.AddHeader(fh)
	if err != nil {
		s.log.Info("Rejected foreign header", "header", fh, "err", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if s.bridgeOut != nil &&
		(res == xbridge.HeaderAccepted || res == xbridge.HeaderBuffered) {
		select {
		case s.bridgeOut.OutgoingForeignHeaders() <- fh:
		case <-req.Context().Done():
		}
	}

	writeResult(w, res.String())
}

func (s *httpServer) handleCrossChainProof(w http.ResponseWriter, req *http.Request) {
	b, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBridgeBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var p xbridge.CrossChainProof
	if err := s.codec.UnmarshalCrossChainProof(b, &p); err != nil {
		http.Error(w, "failed to decode cross-chain proof", http.StatusBadRequest)
		return
	}

	res, err := s.verifier.VerifyProof(req.Context(), p)
	switch res {
	case xbridge.ProofAlreadyProcessed, xbridge.ProofBuffered:
		// Replays and sequence gaps are routine submitter outcomes,
		// not failures; report which one it was.
	default:
		if err != nil {
			s.log.Info("Rejected cross-chain proof", "proof", p, "err", err)
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	if s.bridgeOut != nil &&
		(res == xbridge.ProofAccepted || res == xbridge.ProofBuffered) {
		select {
		case s.bridgeOut.OutgoingCrossChainProofs() <- p:
		case <-req.Context().Done():
		}
	}

	writeResult(w, res.String())
}

func writeResult(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"result": result})
}
