package callcore

import "errors"

// Sentinel errors for callcore operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrCallAlreadyActive indicates another call is already active.
	ErrCallAlreadyActive = errors.New("another call is already active")

	// ErrNoIncomingCall indicates no incoming call exists to act on.
	ErrNoIncomingCall = errors.New("no incoming call for this conversation")

	// ErrNoSuchCall indicates no call record exists for the conversation.
	ErrNoSuchCall = errors.New("no call for this conversation")

	// ErrWrongCallMode indicates the call is not the expected variant.
	ErrWrongCallMode = errors.New("call is not the expected mode")

	// ErrClientClosed indicates the client has been shut down.
	ErrClientClosed = errors.New("client is closed")
)
