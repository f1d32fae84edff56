package ksengine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// RoundTimer manages the engine's per-step timeouts.
// Using a [time.Timer] directly would be simpler,
// but would make fine-grained timer control in tests impractical.
// Each method returns a channel that closes on timeout,
// and a cancel function that must be called to release resources.
// Calling cancel repeatedly, or concurrently, is safe.
//
// Cancel does not close the returned channel,
// so cancellation never reads as a spurious elapse.
//
// The context argument is only used for communicating with
// coordination goroutines; it has no bearing on when the channel closes.
// If the context is canceled while obtaining a timer,
// the returned channel is nil and the cancel function is a non-nil no-op.
type RoundTimer interface {
	ProposalTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
	PrevoteDelayTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
	PrecommitDelayTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
	CommitWaitTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
}

// StandardRoundTimer is the production [RoundTimer],
// backed by real [time.Timer] instances
// with durations from a [TimeoutStrategy].
type StandardRoundTimer struct {
	strat TimeoutStrategy

	startTimerRequests chan startTimerRequest

	bgDone chan struct{}
}

type startTimerRequest struct {
	Dur  time.Duration
	Resp chan startTimerResponse
}

type startTimerResponse struct {
	Elapsed <-chan struct{}
	Cancel  func()
}

func NewStandardRoundTimer(ctx context.Context, s TimeoutStrategy) *StandardRoundTimer {
	t := &StandardRoundTimer{
		strat: s,

		startTimerRequests: make(chan startTimerRequest),

		bgDone: make(chan struct{}),
	}

	go t.background(ctx)

	return t
}

func (t *StandardRoundTimer) Wait() {
	<-t.bgDone
}

func (t *StandardRoundTimer) background(ctx context.Context) {
	defer close(t.bgDone)

	// One reusable timer for the whole loop.
	timer := time.NewTimer(time.Hour) // Long enough to never fire within this goroutine.
	defer timer.Stop()                // Unconditional defer to cover early returns.

	// The first start request requires the timer to be stopped on entry.
	if !timer.Stop() {
		select {
		case <-timer.C:
			// Okay.
		case <-ctx.Done():
			return
		}
	}

	var timerElapsed, cancelTimer chan struct{}

	for {
		// Wait for a signal to start the timer.
		select {
		case <-ctx.Done():
			return

		case req := <-t.startTimerRequests:
			// The timer is stopped whenever a start request is legal,
			// so resetting here is safe.
			timer.Reset(req.Dur)

			timerElapsed = make(chan struct{})
			cancelTimer = make(chan struct{})
			// Local reference so the returned cancel function
			// does not close over the loop variable.
			localCancel := cancelTimer
			var cancelOnce sync.Once
			// The caller blocks on this receive,
			// so an unbuffered send is fine.
			req.Resp <- startTimerResponse{
				Elapsed: timerElapsed,
				Cancel: func() {
					cancelOnce.Do(func() {
						close(localCancel)
					})
				},
			}
		}

		// The timer is running.
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			close(timerElapsed)
			timerElapsed = nil
			cancelTimer = nil

		case <-cancelTimer:
			// Stop the timer to avoid leaking it.
			if !timer.Stop() {
				select {
				case <-timer.C:
					// Okay.
				case <-ctx.Done():
					return
				}
			}

			// The elapsed channel stays open on cancel;
			// closing it would read as an elapse.
			timerElapsed = nil
			cancelTimer = nil

		case <-t.startTimerRequests:
			panic(errors.New(
				"BUG: new timer requested before previous timer elapsed or was cancelled",
			))
		}
	}
}

func (t *StandardRoundTimer) getTimer(ctx context.Context, dur time.Duration) (<-chan struct{}, func()) {
	respCh := make(chan startTimerResponse)
	req := startTimerRequest{
		Dur:  dur,
		Resp: respCh,
	}

	select {
	case t.startTimerRequests <- req:
		// Okay.
	case <-ctx.Done():
		return nil, func() {}
	}

	select {
	case resp := <-respCh:
		return resp.Elapsed, resp.Cancel
	case <-ctx.Done():
		return nil, func() {}
	}
}

func (t *StandardRoundTimer) ProposalTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.ProposalTimeout(height, round))
}

func (t *StandardRoundTimer) PrevoteDelayTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.PrevoteDelayTimeout(height, round))
}

func (t *StandardRoundTimer) PrecommitDelayTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.PrecommitDelayTimeout(height, round))
}

func (t *StandardRoundTimer) CommitWaitTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.CommitWaitTimeout(height, round))
}
