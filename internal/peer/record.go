// SPDX-License-Identifier: MIT

package peer

import (
	"sync"
	"time"

	"go.quantumgate.dev/qgate/internal/algorithms"
	"go.quantumgate.dev/qgate/internal/framing"
	"go.quantumgate.dev/qgate/internal/identity"
)

// Direction records whether a PeerRecord was accepted (inbound) or
// initiated locally (outbound).
type Direction uint8

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// KeyState is one symmetric key slot: AEAD key, nonce counter,
// installed-at, bytes-processed. A PeerRecord holds two: Current and
// Pending.
type KeyState struct {
	Key            algorithms.SymmetricKey
	SendNonce      framing.Nonce
	RecvTracker    framing.Tracker
	InstalledAt    time.Time
	BytesProcessed uint64
}

// Record is the state a peer manager keeps for one connection, owned
// exclusively by the peer manager that created it.
type Record struct {
	mu sync.RWMutex

	LUID      LUID
	Direction Direction

	sm *StateMachine

	Quintuple algorithms.Quintuple // immutable once handshake completes

	Current KeyState
	Pending *KeyState

	LastActivity time.Time
	BytesIn      uint64
	BytesOut     uint64
	PerExtender  map[uint16]struct{ In, Out uint64 }

	IsRelayed     bool
	RelayLinkPort uint64

	RemoteEndpoint string
	LocalEndpoint  string
	RemoteIdentity identity.ID

	Extenders []uint16 // sorted, unique ExtenderIdentifiers the remote advertises

	ReputationDelta int32 // accumulator surfaced to the access manager
}

// NewRecord constructs a Record in StateInitial for a freshly accepted or
// initiated connection.
func NewRecord(luid LUID, dir Direction) *Record {
	return &Record{
		LUID:        luid,
		Direction:   dir,
		sm:          newStateMachine(),
		PerExtender: make(map[uint16]struct{ In, Out uint64 }),
	}
}

func (r *Record) State() State { return r.sm.Current() }

func (r *Record) Transition(next State) error { return r.sm.Transition(next) }

// SetQuintuple fixes the negotiated algorithm set. The quintuple is
// immutable after handshake completion, enforced by only ever calling
// this once, from the handshake step that first agrees on it.
func (r *Record) SetQuintuple(q algorithms.Quintuple) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Quintuple = q
}

// InstallPendingKey sets ks as the Pending key slot. At most one pending
// key exists per direction per peer at a time: callers must not call this
// again before PromotePending or DiscardPending.
func (r *Record) InstallPendingKey(ks KeyState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pending = &ks
}

// PromotePending moves Pending into Current, discarding the old Current
// immediately rather than retaining it for a grace window. Callers that
// need the previous key retained for a bounded grace window must capture
// the outgoing Current themselves before calling this, e.g. into a
// short-lived decrypt-only key table.
func (r *Record) PromotePending() (previous KeyState, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Pending == nil {
		return KeyState{}, false
	}
	previous = r.Current
	r.Current = *r.Pending
	r.Pending = nil
	return previous, true
}

func (r *Record) DiscardPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pending = nil
}

func (r *Record) RecordActivity(in, out uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastActivity = time.Now()
	r.BytesIn += in
	r.BytesOut += out
	r.Current.BytesProcessed += in + out
}

func (r *Record) Touch(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastActivity = t
}
