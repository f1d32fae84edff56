package ktest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a *slog.Logger associated with the test t.
func NewLogger(t testing.TB) *slog.Logger {
	// slogt adapts slog output to testing.T.Log calls.
	// Keep it behind a ktest function so individual tests
	// do not depend on the external module directly.
	return slogt.New(t, slogt.Text())
}
