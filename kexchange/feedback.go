// Package kexchange defines the feedback values that message handlers
// report back to the p2p layer after inspecting an inbound message.
package kexchange

// Feedback tells the p2p layer how a handled message should influence
// propagation and the sending peer's standing.
// Implementations may translate feedback into peer scoring,
// or may ignore it entirely.
type Feedback uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type Feedback -trimprefix=Feedback
const (
	// FeedbackUnspecified is the zero value.
	// Handlers returning FeedbackUnspecified have a bug.
	FeedbackUnspecified Feedback = iota

	// FeedbackAccepted marks the message valid and worth propagating.
	FeedbackAccepted

	// FeedbackRejected marks the message invalid;
	// it must not propagate and the sender may be penalized.
	FeedbackRejected

	// FeedbackIgnored marks the message unusable without blaming the sender:
	// a benign duplicate, or data we simply cannot evaluate yet.
	FeedbackIgnored

	// FeedbackRejectAndDisconnect marks the message as apparently malicious.
	// The message must not propagate and the peer should be dropped.
	FeedbackRejectAndDisconnect
)
