package ktest

import (
	"time"
)

// TestingFatalHelper is the subset of [testing.TB] needed by
// the channel helpers in this package,
// small enough that the helpers can themselves be tested.
type TestingFatalHelper interface {
	Helper()

	Fatalf(format string, args ...any)
}

// ReceiveSoon attempts to receive a value from ch.
// If the receive blocks for a reasonable default timeout, tb.Fatal is called.
func ReceiveSoon[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()
	return ReceiveOrTimeout(tb, ch, ScaleMs(100))
}

// ReceiveOrTimeout attempts to receive a value from ch
// within the given timeout, calling tb.Fatal otherwise.
// Use [ScaleMs] to produce the ScaledDuration value.
//
// Most tests should use [ReceiveSoon];
// reserve ReceiveOrTimeout for exceptional cases.
func ReceiveOrTimeout[T any](tb TestingFatalHelper, ch <-chan T, timeout ScaledDuration) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to avoid blocking receive from nil channel %T %v", ch, ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case <-timer.C:
		tb.Fatalf(
			"timed out while blocked receiving from channel %T %v; if this is flaky on only one machine, set the environment variable KESTREL_TEST_TIME_FACTOR to a value greater than the current value of %d",
			ch, ch, TimeFactor,
		)
		// tb.Fatalf normally stops the test goroutine,
		// but tb may be a mock in this package's own tests,
		// so panic to avoid needing a return value.
		panic("unreachable")
	case x := <-ch:
		return x
	}
}

// SendSoon attempts to send x to ch.
// If the send blocks for a reasonable default timeout, tb.Fatal is called.
func SendSoon[T any](tb TestingFatalHelper, ch chan<- T, x T) {
	tb.Helper()
	SendOrTimeout(tb, ch, x, ScaleMs(100))
}

// SendOrTimeout attempts to send x to ch
// within the given timeout, calling tb.Fatal otherwise.
// Use [ScaleMs] to produce the ScaledDuration value.
//
// Most tests should use [SendSoon];
// reserve SendOrTimeout for exceptional cases.
func SendOrTimeout[T any](tb TestingFatalHelper, ch chan<- T, x T, timeout ScaledDuration) {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to avoid blocking send to nil channel %T %v", ch, ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case <-timer.C:
		tb.Fatalf(
			"timed out while blocked sending to channel %T %v; if this is flaky on only one machine, set the environment variable KESTREL_TEST_TIME_FACTOR to a value greater than the current value of %d",
			ch, ch, TimeFactor,
		)
		panic("unreachable")
	case ch <- x:
		// Okay.
	}
}

// NotSending asserts that no value is immediately available on ch.
// If a value is available, tb.Fatal is called with the received value.
func NotSending[T any](tb TestingFatalHelper, ch <-chan T) {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to check that a nil channel is not sending (%T %v)", ch, ch)
		panic("unreachable")
	}

	select {
	case x := <-ch:
		tb.Fatalf("no value should have been sent on channel %T %v; got %v", ch, ch, x)
	default:
		// Okay.
	}
}

// IsSending asserts that a value is immediately available on ch and returns it.
func IsSending[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("a nil channel will never send a value (%T %v)", ch, ch)
		panic("unreachable")
	}

	select {
	case x := <-ch:
		return x
	default:
		tb.Fatalf("expected a value to be immediately sent on channel %T %v, but no value could be received", ch, ch)
		panic("unreachable")
	}
}

// NotSendingSoon asserts that a read from ch stays blocked
// for a reasonable, short duration.
//
// Prefer [NotSending] when another synchronization event is available,
// because this helper blocks the test for the whole duration.
func NotSendingSoon[T any](tb TestingFatalHelper, ch <-chan T) {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to check that a nil channel is not sending (%T %v)", ch, ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(ScaleMs(75)))
	defer timer.Stop()

	select {
	case <-timer.C:
		// Okay.
	case x := <-ch:
		tb.Fatalf(
			"received value %v on channel %T %v, when it was expected not to send any values",
			x, ch, ch,
		)
		panic("unreachable")
	}
}
