// SPDX-License-Identifier: MIT

package qgate

import "time"

// Protocol-level constants referenced directly by the wire format and
// invariants (, §4), as opposed to the tunable defaults that live in
// config.Default().
const (
	// ProtocolVersion is the only value currently accepted in a Hello's
	// version list.
	ProtocolVersion uint8 = 1

	// MaxHops bounds RelayRequest.hops_remaining ('s relay engine).
	MaxHops = 8

	// MaxExtendersPerAdvertisement bounds one ExtenderAdvertisement's id
	// list so a malicious peer can't force an unbounded allocation.
	MaxExtendersPerAdvertisement = 256

	// HandshakeViolationThreshold is the number of protocol violations
	// tolerated on one peer before it is force-closed (// "repeated MAC failures ... × N").
	HandshakeViolationThreshold = 3
)

// Timing bounds exported for callers. LocalInstance does not read them: a
// zero-valued Config field is used as zero, not replaced by these.
const (
	MinRekeyInterval   = 1 * time.Second
	MinHandshakeDelay  = 0 * time.Millisecond
	MaxHandshakeDelay  = 1 * time.Second
	DefaultDialTimeout = 5 * time.Second
)
