package kwatchdog

import (
	"context"
	"errors"
)

// IsTermination reports whether the context was canceled by the watchdog.
func IsTermination(ctx context.Context) bool {
	e := context.Cause(ctx)
	if e == nil {
		return false
	}

	var ftr FailureToRespondError
	if errors.As(e, &ftr) {
		return true
	}

	var ft ForcedTerminationError
	return errors.As(e, &ft)
}

// FailureToRespondError indicates a subsystem failed to respond
// to its monitor within the configured response timeout.
type FailureToRespondError struct {
	SubsystemName string
}

func (e FailureToRespondError) Error() string {
	return e.SubsystemName + " failed to respond to watchdog monitoring within expected duration"
}

// ForcedTerminationError indicates that [*Watchdog.Terminate] was called.
type ForcedTerminationError struct {
	Reason string
}

func (e ForcedTerminationError) Error() string {
	return "Watchdog forced termination: " + e.Reason
}
