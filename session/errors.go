package session

import "errors"

// Sentinel errors for session package operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrNoSuchCall indicates no call record exists for the conversation.
	ErrNoSuchCall = errors.New("no call for this conversation")

	// ErrWrongCallMode indicates the record is not the expected variant.
	ErrWrongCallMode = errors.New("call is not the expected mode")

	// ErrNoActiveCall indicates no call is currently active.
	ErrNoActiveCall = errors.New("no active call")
)
