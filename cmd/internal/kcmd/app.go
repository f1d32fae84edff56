package kcmd

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/kestrel-chain/kestrel/internal/klog"
	"github.com/kestrel-chain/kestrel/ks/ksdriver"
	"golang.org/x/crypto/blake2b"
)

// App is the state-transition driver behind the kestreld process.
//
// It does not run a full virtual machine.
// Each block's app state hash is a blake2b fold of
// the previous state hash, the block hash,
// and the verified bridge payloads carried in the block,
// so any divergence in block content or relay ordering
// shows up as a state hash mismatch at the next height.
type App struct {
	log *slog.Logger

	stateHash []byte

	done chan struct{}
}

func NewApp(
	ctx context.Context,
	log *slog.Logger,
	initChainRequests <-chan ksdriver.InitChainRequest,
	finalizeBlockRequests <-chan ksdriver.FinalizeBlockRequest,
) *App {
	a := &App{
		log:  log,
		done: make(chan struct{}),
	}
	go a.background(ctx, initChainRequests, finalizeBlockRequests)
	return a
}

func (a *App) background(
	ctx context.Context,
	initChainRequests <-chan ksdriver.InitChainRequest,
	finalizeBlockRequests <-chan ksdriver.FinalizeBlockRequest,
) {
	defer close(a.done)

	// Assume we always need to initialize the chain at startup.
	select {
	case <-ctx.Done():
		a.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
		return

	case req := <-initChainRequests:
		h, err := blake2b.New256(nil)
		if err != nil {
			panic(err)
		}
		if req.Genesis.InitialAppState != nil {
			if _, err := io.Copy(h, req.Genesis.InitialAppState); err != nil {
				a.log.Error("Failed to read genesis app state", "err", err)
				return
			}
		}
		a.stateHash = h.Sum(nil)

		select {
		case req.Resp <- ksdriver.InitChainResponse{
			AppStateHash: a.stateHash,

			// Omitting validators since we want to match the genesis set.
		}:
			// Okay.
		case <-ctx.Done():
			a.log.Info(
				"Stopping due to context cancellation while attempting to respond to InitChainRequest",
				"cause", context.Cause(ctx),
			)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return

		case req := <-finalizeBlockRequests:
			resp := ksdriver.FinalizeBlockResponse{
				Height:    req.Header.Height,
				Round:     req.Round,
				BlockHash: req.Header.Hash,

				// Validator set changes arrive through configuration,
				// not through block execution,
				// so echo back the executing block's next set.
				Validators: req.Header.NextValidatorSet.Validators,
				Epoch:      req.Header.NextValidatorSet.Epoch,
			}

			a.stateHash = a.foldState(req)
			resp.AppStateHash = a.stateHash

			a.log.Info(
				"Finalizing block",
				"block_hash", klog.Hex(req.Header.Hash),
				"height", req.Header.Height,
				"relay_entries", len(req.RelayEntries),
			)

			select {
			case req.Resp <- resp:
				// Okay.
			case <-ctx.Done():
				a.log.Info("Stopping due to context cancellation while attempting to respond to FinalizeBlockRequest")
				return
			}
		}
	}
}

func (a *App) foldState(req ksdriver.FinalizeBlockRequest) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}

	h.Write(a.stateHash)
	h.Write(req.Header.Hash)
	for _, e := range req.RelayEntries {
		h.Write([]byte(e.ChainID))
		h.Write([]byte(e.Account))
		h.Write(binary.BigEndian.AppendUint64(nil, e.Seq))
		h.Write(e.Payload)
	}

	return h.Sum(nil)
}

func (a *App) Wait() {
	<-a.done
}
