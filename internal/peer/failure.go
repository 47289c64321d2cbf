// SPDX-License-Identifier: MIT

package peer

import (
	"errors"
	"time"

	"go.quantumgate.dev/qgate/internal/access"
)

// Failure classifies why a peer connection is closing, driving both the
// DisconnectReason surfaced to applications and the reputation delta
// applied to the remote address ("Failure semantics").
type Failure uint8

const (
	// FailureCryptographic: MAC failure, replay, identity verify failure.
	// Immediate close, reputation -200.
	FailureCryptographic Failure = iota
	// FailureProtocolViolation: unknown frame type, malformed length.
	// Reputation -50; repeated offenses close.
	FailureProtocolViolation
	// FailureTransport: transport error or timeout. Close without
	// reputation change.
	FailureTransport
	// FailureExtender: extender returned unhandled/failed too many times.
	// Reputation -20 per event; threshold closes.
	FailureExtender
)

// ReputationDelta returns the access-manager score delta for f, or 0 for
// FailureTransport which carries none.
func (f Failure) ReputationDelta() int32 {
	switch f {
	case FailureCryptographic:
		return access.DeteriorateSevere
	case FailureProtocolViolation:
		return access.DeteriorateModerate
	case FailureExtender:
		return access.DeteriorateMinor
	default:
		return 0
	}
}

// ClosesImmediately reports whether a single occurrence of f should close
// the connection outright, versus accumulating toward a threshold.
func (f Failure) ClosesImmediately() bool {
	return f == FailureCryptographic
}

var ErrMessageTooOld = errors.New("peer: frame timestamp outside message_age_tolerance")

// CheckMessageAge implements the per-frame "Message age check" ():
// every data frame carries a creation timestamp, rejected if it differs from
// local clock by more than tolerance. A violation is a FailureProtocolViolation
// (reputation -50).
func CheckMessageAge(frameTimestamp time.Time, tolerance time.Duration) error {
	delta := time.Since(frameTimestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta > tolerance {
		return ErrMessageTooOld
	}
	return nil
}

// ViolationCounter accumulates non-immediately-closing failures (protocol
// violations, extender failures) and reports when a threshold is crossed.
type ViolationCounter struct {
	count     int
	threshold int
}

func NewViolationCounter(threshold int) *ViolationCounter {
	return &ViolationCounter{threshold: threshold}
}

// Record increments the counter and reports whether the threshold has now
// been reached (caller should then close the connection).
func (v *ViolationCounter) Record() (shouldClose bool) {
	v.count++
	return v.count >= v.threshold
}

func (v *ViolationCounter) Reset() {
	v.count = 0
}
