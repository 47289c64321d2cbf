// SPDX-License-Identifier: MIT

package peer

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// RekeyPolicy bounds when a rekey is due ("Rekey state machine").
type RekeyPolicy struct {
	MinInterval              time.Duration
	MaxInterval              time.Duration
	RequireAfterBytes        uint64
	MaxDuration       time.Duration // rekey must complete within this or ErrRekeyTimeout
	GraceDuration     time.Duration // old key retained this long after a rekey completes
}

// DefaultRekeyPolicy mirrors WireGuard's own constants in spirit, scaled to
// QuantumGate's explicit config surface; real values are sourced from
// config.Config in production.
var DefaultRekeyPolicy = RekeyPolicy{
	MinInterval:       110 * time.Second,
	MaxInterval:       150 * time.Second,
	RequireAfterBytes: 1 << 36,
	MaxDuration:       10 * time.Second,
	GraceDuration:     60 * time.Second,
}

// Due reports whether a rekey should now be triggered, given how long it
// has been since the last rekey, the jitter deadline already drawn for this
// period, and bytes processed under the current key.
func (p RekeyPolicy) Due(sinceLastRekey time.Duration, jitterDeadline time.Duration, bytesProcessed uint64) bool {
	if bytesProcessed >= p.RequireAfterBytes {
		return true
	}
	return sinceLastRekey >= p.MinInterval && sinceLastRekey >= jitterDeadline
}

// JitterDeadline draws the random point between MinInterval and MaxInterval
// at which a time-driven rekey becomes due, redrawn after every completed
// rekey.
func (p RekeyPolicy) JitterDeadline() (time.Duration, error) {
	span := p.MaxInterval - p.MinInterval
	if span <= 0 {
		return p.MinInterval, nil
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	jitter := time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(span))
	return p.MinInterval + jitter, nil
}

// RekeyState is a small state machine nested inside Ready/Rekeying: the
// initiator sends Rekey{new_public_key}, the responder replies with its own,
// and each side derives the new key, installs it as Pending and promotes it
// to Current straight away (the responder after sending its reply, the
// initiator on receiving it). No separate commit frame is exchanged.
type RekeyState uint8

const (
	RekeyIdle RekeyState = iota
	RekeySent               // we sent Rekey, awaiting the peer's reply
	RekeyPendingInstalled   // new key derived and installed as Pending, not yet promoted
	RekeyCommitted          // Pending promoted to Current; Reset returns to Idle
)

var ErrRekeyTimeout = errors.New("peer: rekey did not complete within max_duration")

// Rekey tracks one in-flight rekey attempt for a Record.
type Rekey struct {
	State     RekeyState
	StartedAt time.Time
	Policy    RekeyPolicy
}

func NewRekey(policy RekeyPolicy) *Rekey {
	return &Rekey{State: RekeyIdle, Policy: policy}
}

func (r *Rekey) Begin() {
	r.State = RekeySent
	r.StartedAt = time.Now()
}

func (r *Rekey) Advance(next RekeyState) {
	r.State = next
}

// CheckDeadline returns ErrRekeyTimeout if the in-flight rekey has exceeded
// Policy.MaxDuration.
func (r *Rekey) CheckDeadline() error {
	if r.State == RekeyIdle || r.State == RekeyCommitted {
		return nil
	}
	if time.Since(r.StartedAt) > r.Policy.MaxDuration {
		return ErrRekeyTimeout
	}
	return nil
}

func (r *Rekey) Reset() {
	r.State = RekeyIdle
}
