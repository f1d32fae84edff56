package ktest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactor is a multiplier controlled by the
// KESTREL_TEST_TIME_FACTOR environment variable
// to stretch test-related timeouts.
//
// A flat 100ms timer usually suffices on a workstation
// but may not on a contended CI machine.
// Rather than editing tests, the operator can set
// e.g. KESTREL_TEST_TIME_FACTOR=3 to triple the timeouts.
//
// The variable is exported in case programmatic control
// outside of environment variables is needed.
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv("KESTREL_TEST_TIME_FACTOR")
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf(
			"failed to parse KESTREL_TEST_TIME_FACTOR (%q) into an integer: %w",
			f, err,
		))
	}

	if n <= 0 {
		panic(fmt.Errorf("KESTREL_TEST_TIME_FACTOR must be positive; got %d", n))
	}

	TimeFactor = ScaledDuration(n)
}

type ScaledDuration time.Duration

// ScaleMs returns ms in milliseconds, multiplied by [TimeFactor].
//
// [SendOrTimeout] and [ReceiveOrTimeout] take this type
// so that callers cannot pass literal timeout values,
// which would flake on slower machines.
func ScaleMs(ms int64) ScaledDuration {
	return TimeFactor * ScaledDuration(ms) * ScaledDuration(time.Millisecond)
}

// Sleep calls [time.Sleep] with the given scaled duration,
// saving callers a conversion between ScaledDuration and time.Duration.
func Sleep(dur ScaledDuration) {
	time.Sleep(time.Duration(dur))
}
