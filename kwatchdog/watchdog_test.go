package kwatchdog_test

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-chain/kestrel/internal/ktest"
	"github.com/kestrel-chain/kestrel/kwatchdog"
	"github.com/stretchr/testify/require"
)

func TestWatchdog_Terminate_normal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := kwatchdog.NewWatchdog(ctx, ktest.NewLogger(t))
	defer w.Wait()
	defer cancel()

	require.NoError(t, wCtx.Err())
	require.False(t, kwatchdog.IsTermination(wCtx))

	// Calling Terminate directly cancels the context.
	w.Terminate("testing purposes")
	require.Error(t, wCtx.Err())
	require.True(t, kwatchdog.IsTermination(wCtx))
	require.Equal(t, kwatchdog.ForcedTerminationError{
		Reason: "testing purposes",
	}, context.Cause(wCtx))

	// A second call does not change the recorded cause.
	w.Terminate("again")
	require.Equal(t, kwatchdog.ForcedTerminationError{
		Reason: "testing purposes",
	}, context.Cause(wCtx))
}

func TestWatchdog_Terminate_afterParentCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := kwatchdog.NewWatchdog(ctx, ktest.NewLogger(t))
	defer w.Wait()
	defer cancel()

	// If the parent is canceled first and then Terminate is called,
	// the watchdog context is canceled but does not match IsTermination.
	cancel()
	w.Terminate("late")

	require.Error(t, wCtx.Err())
	require.False(t, kwatchdog.IsTermination(wCtx))
}

func TestWatchdog_monitor_notAcceptingSignalCausesTermination(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := kwatchdog.NewWatchdog(ctx, ktest.NewLogger(t))
	defer w.Wait()
	defer cancel()

	cfg := kwatchdog.MonitorConfig{
		Name:     t.Name(),
		Interval: 100 * time.Microsecond, Jitter: 10 * time.Microsecond,

		// Practically instant.
		ResponseTimeout: 50 * time.Microsecond,
	}
	_ = w.Monitor(ctx, cfg)

	// Sleep for a little more than the entire send and response timeout.
	time.Sleep(cfg.Interval + cfg.Jitter + cfg.ResponseTimeout + 2*time.Millisecond)

	require.Error(t, wCtx.Err())
	require.True(t, kwatchdog.IsTermination(wCtx))
}

func TestWatchdog_monitor_acceptingSignalWithoutRespondingCausesTermination(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := kwatchdog.NewWatchdog(ctx, ktest.NewLogger(t))
	defer w.Wait()
	defer cancel()

	cfg := kwatchdog.MonitorConfig{
		Name:     t.Name(),
		Interval: 100 * time.Microsecond, Jitter: 10 * time.Microsecond,

		// Short enough to reasonably sleep past.
		ResponseTimeout: time.Duration(ktest.ScaleMs(150)),
	}
	sigCh := w.Monitor(ctx, cfg)

	// Accept the signal but never respond.
	_ = ktest.ReceiveSoon(t, sigCh)

	ktest.Sleep(ktest.ScaleMs(160))

	require.Error(t, wCtx.Err())
	require.True(t, kwatchdog.IsTermination(wCtx))
}

func TestWatchdog_monitor_respondingOnTimeDoesNotCauseTermination(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := kwatchdog.NewWatchdog(ctx, ktest.NewLogger(t))
	defer w.Wait()
	defer cancel()

	cfg := kwatchdog.MonitorConfig{
		Name:     t.Name(),
		Interval: 100 * time.Microsecond, Jitter: 10 * time.Microsecond,

		ResponseTimeout: time.Duration(ktest.ScaleMs(150)),
	}
	sigCh := w.Monitor(ctx, cfg)

	sig := ktest.ReceiveSoon(t, sigCh)
	close(sig.Alive)

	require.NoError(t, wCtx.Err())

	// The interval timer restarts after a response,
	// so another signal arrives soon, and there is still no error.
	_ = ktest.ReceiveSoon(t, sigCh)
	require.NoError(t, wCtx.Err())
}

func TestNopWatchdog_monitor(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := kwatchdog.NewNopWatchdog(ctx, ktest.NewLogger(t))
	defer w.Wait()
	defer cancel()

	cfg := kwatchdog.MonitorConfig{
		// The config is still validated, so the values must be legal.
		Name:     t.Name(),
		Interval: 100 * time.Microsecond, Jitter: 10 * time.Microsecond,
		ResponseTimeout: time.Millisecond,
	}

	// A nil channel is never chosen in a select statement.
	sigCh := w.Monitor(wCtx, cfg)
	require.Nil(t, sigCh)
}

func TestNopWatchdog_Terminate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := kwatchdog.NewNopWatchdog(ctx, ktest.NewLogger(t))
	defer w.Wait()
	defer cancel()

	require.NoError(t, wCtx.Err())

	w.Terminate("testing")
	require.Error(t, wCtx.Err())
	require.True(t, kwatchdog.IsTermination(wCtx))
}
