package kwatchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kestrel-chain/kestrel/internal/kchan"
)

type Watchdog struct {
	log *slog.Logger

	cancel          context.CancelCauseFunc
	monitorRequests chan monitorRequest

	// The number of monitors is not known up front,
	// so a WaitGroup tracks them all.
	wg sync.WaitGroup
}

// NewWatchdog returns a new Watchdog and a context derived from ctx.
//
// The returned context is canceled if any subsystem registered
// through [*Watchdog.Monitor] misses its response timeout,
// or upon a call to [*Watchdog.Terminate].
func NewWatchdog(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	wCtx, cancel := context.WithCancelCause(ctx)
	w := &Watchdog{
		log:             log,
		cancel:          cancel,
		monitorRequests: make(chan monitorRequest), // Unbuffered since requests are synchronous.
	}
	w.wg.Add(1)
	go w.kernel(ctx, wCtx, cancel)
	return w, wCtx
}

// NewNopWatchdog returns a Watchdog that disregards calls to [*Watchdog.Monitor]
// but still respects calls to Terminate.
//
// NewNopWatchdog should only be called in test.
func NewNopWatchdog(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	wCtx, cancel := context.WithCancelCause(ctx)
	w := &Watchdog{
		log:    log,
		cancel: cancel,
		// A nil monitorRequests channel means calls to Monitor
		// return a nil signal channel.
	}
	w.wg.Add(1)
	go w.kernel(ctx, wCtx, cancel)
	return w, wCtx
}

// Wait blocks until w's background goroutines complete.
// Those goroutines follow the lifecycle of the context passed to [NewWatchdog];
// calling Terminate, or a subsystem missing its window,
// does not on its own unblock Wait.
func (w *Watchdog) Wait() {
	w.wg.Wait()
}

// Terminate cancels the watchdog context
// with a cause of [ForcedTerminationError].
func (w *Watchdog) Terminate(reason string) {
	w.cancel(ForcedTerminationError{Reason: reason})
}

func (w *Watchdog) kernel(rootCtx, wCtx context.Context, cancel context.CancelCauseFunc) {
	defer w.wg.Done()

	for {
		select {
		case <-rootCtx.Done():
			w.log.Info("Stopping due to root context cancellation", "cause", context.Cause(rootCtx))
			return
		case req := <-w.monitorRequests:
			sigCh := make(chan Signal) // Unbuffered because signal delivery must be synchronous.
			w.wg.Add(1)

			// The monitor runs off the watchdog context,
			// so that it also shuts down on a termination.
			go monitor(
				wCtx,
				w.log.With("target", req.Cfg.Name),
				req.Cfg,
				&w.wg, sigCh, cancel,
			)

			req.Resp <- sigCh
		}
	}
}

// monitorRequest travels from a goroutine calling [*Watchdog.Monitor]
// to the watchdog's kernel goroutine.
type monitorRequest struct {
	Cfg MonitorConfig

	// The caller needs a receive-only channel of signals.
	Resp chan (<-chan Signal)
}

// Monitor registers a liveness monitor for one subsystem.
// The subsystem must receive from the returned channel in its main loop
// and close [Signal.Alive] to indicate timely receipt.
//
// Under normal operation a value arrives on the returned channel
// every interval + [-jitter/2, +jitter/2); the jitter is uniformly distributed.
//
// If the context is canceled before the monitor starts,
// the returned channel is nil.
func (w *Watchdog) Monitor(ctx context.Context, cfg MonitorConfig) <-chan Signal {
	// Validate the config even when monitoring is disabled,
	// so a nop watchdog still surfaces config mistakes.
	if err := cfg.validate(); err != nil {
		panic(fmt.Errorf("(*Watchdog).Monitor: MonitorConfig is invalid: %w", err))
	}

	if w.monitorRequests == nil {
		// Configured as a nop watchdog.
		return nil
	}

	req := monitorRequest{
		Cfg:  cfg,
		Resp: make(chan (<-chan Signal), 1),
	}

	ch, _ := kchan.ReqResp(
		ctx, w.log,
		w.monitorRequests, req,
		req.Resp,
		"requesting new monitor",
	)
	return ch
}

// Signal is the value delivered on the channel returned by [*Watchdog.Monitor].
// The receiving subsystem must close Alive promptly
// to stop the watchdog from terminating the system.
type Signal struct {
	// Every signal has a non-nil, non-closed Alive channel.
	Alive chan<- struct{}
}
