// SPDX-License-Identifier: MIT

package events

import (
	"errors"
	"net/netip"
	"sync"

	"go.quantumgate.dev/qgate/internal/access"
	"go.quantumgate.dev/qgate/internal/peer"
)

var errExtenderPanicked = errors.New("events: extender callback panicked")

// PeerEventKind enumerates the lifecycle notifications extenders observe
// ("callers receive Disconnected(reason)").
type PeerEventKind uint8

const (
	PeerConnected PeerEventKind = iota
	PeerDisconnected
)

// PeerEvent carries a lifecycle notification. Reason is nil for
// PeerConnected; for PeerDisconnected it is one of the root package's
// sentinel errors (ErrTimeout, ErrAuthFailure, ...) so callers can
// errors.Is against the same values DisconnectReason in the root package
// qgate is built from, without this package importing qgate (which
// imports this one).
type PeerEvent struct {
	LUID   peer.LUID
	Addr   netip.Addr
	Kind   PeerEventKind
	Reason error
}

type PeerMessage struct {
	LUID     peer.LUID
	Addr     netip.Addr
	Extender uint16
	Payload  []byte
}

// Extender is the minimal in-scope surface the core calls into; extender
// registration, lookup by name, and lifecycle ordering beyond this are out
// of scope ("extender registration/callback dispatch ... are
// external collaborators").
type Extender interface {
	OnStartup() error
	OnPostStartup() error
	OnPreShutdown() error
	OnShutdown() error
	OnPeerEvent(PeerEvent) error
	OnPeerMessage(PeerMessage) error
}

// deteriorateMinimal is the per-event reputation cost of one failing
// callback invocation.
const deteriorateMinimal = access.DeteriorateMinor

// Dispatcher fans PeerEvent/PeerMessage notifications out to every
// registered Extender, and enforces the handler-failure rule: a callback
// that errors never closes the peer directly, it only costs
// deteriorateMinimal reputation, once per event.
type Dispatcher struct {
	mu        sync.RWMutex
	extenders map[uint16]Extender
	access    *access.Manager
}

func NewDispatcher(accessMgr *access.Manager) *Dispatcher {
	return &Dispatcher{
		extenders: make(map[uint16]Extender),
		access:    accessMgr,
	}
}

func (d *Dispatcher) Register(id uint16, ext Extender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extenders[id] = ext
}

func (d *Dispatcher) Unregister(id uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.extenders, id)
}

func (d *Dispatcher) snapshot() []Extender {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Extender, 0, len(d.extenders))
	for _, e := range d.extenders {
		out = append(out, e)
	}
	return out
}

// DispatchPeerEvent calls OnPeerEvent on every registered extender. A
// failing extender deteriorates ev.Addr's reputation by deteriorateMinimal
// but is not unregistered and the peer is not closed.
func (d *Dispatcher) DispatchPeerEvent(ev PeerEvent) {
	for _, ext := range d.snapshot() {
		if err := d.safeCall(func() error { return ext.OnPeerEvent(ev) }); err != nil {
			d.penalize(ev.Addr)
		}
	}
}

// DispatchPeerMessage calls OnPeerMessage on the extender identified by
// msg.Extender only (messages are addressed to one extender, unlike
// lifecycle events which broadcast).
func (d *Dispatcher) DispatchPeerMessage(msg PeerMessage) {
	d.mu.RLock()
	ext, ok := d.extenders[msg.Extender]
	d.mu.RUnlock()
	if !ok {
		return
	}
	if err := d.safeCall(func() error { return ext.OnPeerMessage(msg) }); err != nil {
		d.penalize(msg.Addr)
	}
}

func (d *Dispatcher) penalize(addr netip.Addr) {
	if d.access == nil || !addr.IsValid() {
		return
	}
	d.access.Deteriorate(addr, deteriorateMinimal)
}

// safeCall converts an extender panic into an error so one misbehaving
// extender cannot bring down the dispatch loop for the others.
func (d *Dispatcher) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errExtenderPanicked
		}
	}()
	return fn()
}
