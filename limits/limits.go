// Package limits provides centralized capacity limits for call sessions.
// This ensures consistent validation across different components of the
// system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxGroupRingSize is the largest conversation that may be rung.
	// Ringing larger groups would notify too many devices at once, so
	// calls in bigger conversations start without a ring.
	MaxGroupRingSize = 16

	// DefaultMaxDevices is the assumed call capacity when the server
	// has not advertised one in a membership snapshot.
	DefaultMaxDevices = 50
)

var (
	// ErrTooBigToRing indicates the conversation exceeds the ring limit.
	ErrTooBigToRing = errors.New("conversation too big to ring")

	// ErrCallFull indicates the call is at device capacity.
	ErrCallFull = errors.New("call is full")
)

// CanRing reports whether a conversation of the given member count may
// be rung.
func CanRing(memberCount int) bool {
	return memberCount <= MaxGroupRingSize
}

// ValidateRingableSize validates a conversation size against
// MaxGroupRingSize. Returns an error with context including the actual
// and maximum sizes.
func ValidateRingableSize(memberCount int) error {
	if memberCount > MaxGroupRingSize {
		return fmt.Errorf("%w: %d members exceeds limit %d", ErrTooBigToRing, memberCount, MaxGroupRingSize)
	}
	return nil
}

// ValidateJoinCapacity validates that a call has room for one more
// device. A zero maxDevices falls back to DefaultMaxDevices.
func ValidateJoinCapacity(deviceCount, maxDevices uint32) error {
	if maxDevices == 0 {
		maxDevices = DefaultMaxDevices
	}
	if deviceCount >= maxDevices {
		return fmt.Errorf("%w: %d of %d devices", ErrCallFull, deviceCount, maxDevices)
	}
	return nil
}
