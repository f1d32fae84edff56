// Package klog holds shared logging shorthands used across the node.
package klog

import (
	"fmt"
	"log/slog"
)

// HR returns a copy of log carrying height and round fields,
// a shorthand for the many engine log calls where both are relevant.
func HR(log *slog.Logger, height uint64, round uint32) *slog.Logger {
	return log.With("height", height, "round", round)
}

// HRE is like [HR] but also carries an error field.
func HRE(log *slog.Logger, height uint64, round uint32, e error) *slog.Logger {
	return log.With("height", height, "round", round, "err", e)
}

// CA returns a copy of log carrying foreign chain and account fields,
// used throughout the bridge subsystem.
func CA(log *slog.Logger, chainID string, account string) *slog.Logger {
	return log.With("foreign_chain", chainID, "account", account)
}

// Hex wraps a byte slice so it logs as a hex string
// instead of escaped unicode garbage.
type Hex []byte

func (v Hex) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("%x", v))
}
