// SPDX-License-Identifier: MIT

// Package peer implements the Peer State Machine (): handshake
// protocol, rekey state machine, message age checks, and failure semantics.
// Grounded on device/peer.go and device/device.go's lifecycle/lock
// conventions, generalized from WireGuard's single fixed Noise_IK handshake
// to QuantumGate's negotiated-quintuple, multi-step handshake.
package peer

import "sync/atomic"

// LUID is the process-local handle surfaced to applications (// "PeerLocal handle"). It is never derived from key material and is
// meaningless outside this process.
type LUID uint64

// luidAllocator hands out increasing LUIDs for the lifetime of a process,
// mirroring device.go's indexTable random-index allocation in spirit but
// needing no collision avoidance since the counter only grows.
type luidAllocator struct {
	next atomic.Uint64
}

func (a *luidAllocator) Allocate() LUID {
	return LUID(a.next.Add(1))
}
