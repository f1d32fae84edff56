// Package kchan provides small helpers for context-aware channel operations,
// so that the many send/receive sites across the engine
// log cancellation the same way.
package kchan

import (
	"context"
	"log/slog"
)

// SendC sends val to out unless ctx is canceled first.
// On cancellation it logs "Context canceled while " + canceledDuring
// and reports false; on a completed send it reports true.
func SendC[T any](ctx context.Context, log *slog.Logger, out chan<- T, val T, canceledDuring string) (sent bool) {
	select {
	case <-ctx.Done():
		log.Info("Context canceled while "+canceledDuring, "cause", context.Cause(ctx))
		return false
	case out <- val:
		return true
	}
}

// RecvC receives from in unless ctx is canceled first.
// On cancellation it logs "Context canceled while " + canceledDuring
// and returns the zero value of T with received=false.
func RecvC[T any](ctx context.Context, log *slog.Logger, in <-chan T, canceledDuring string) (val T, received bool) {
	select {
	case <-ctx.Done():
		log.Info("Context canceled while "+canceledDuring, "cause", context.Cause(ctx))
		return val, false
	case val := <-in:
		return val, true
	}
}

// ReqResp sends reqValue to reqChan and then blocks for a value from respChan,
// honoring ctx cancellation during both halves.
// The reqRespType string only affects log output on cancellation.
func ReqResp[T, U any](
	ctx context.Context, log *slog.Logger,
	reqChan chan<- T, reqValue T,
	respChan <-chan U,
	reqRespType string,
) (respVal U, ok bool) {
	if !SendC(ctx, log, reqChan, reqValue, "making "+reqRespType+" request") {
		return respVal, false
	}

	return RecvC(ctx, log, respChan, "receiving "+reqRespType+" response")
}
