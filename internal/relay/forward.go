// SPDX-License-Identifier: MIT

package relay

import (
	"errors"
	"time"
)

var ErrLinkSuspended = errors.New("relay: link is suspended")

// Forwarder re-emits RelayData frames from an upstream peer to the
// downstream peer (or vice versa) with the same relay_port, without
// inspecting the inner payload — it is end-to-end encrypted between origin
// and final endpoint via a handshake run through the relay chain. Emit is
// supplied by the caller, which owns the actual peer sends.
type Forwarder struct {
	Emit func(targetLUID uint64, relayPort uint64, payload []byte) error
}

// Forward routes one RelayData frame arriving on link from the given source
// LUID to whichever of upstream/downstream is not the source.
func (f *Forwarder) Forward(link *Link, fromLUID uint64, payload []byte) error {
	if link.Suspended {
		return ErrLinkSuspended
	}
	link.touch()

	target := link.DownstreamLUID
	if fromLUID == link.DownstreamLUID {
		target = link.UpstreamLUID
	}
	return f.Emit(target, link.RelayPort, payload)
}

// Suspend marks link suspended because its upstream or downstream peer
// reported Suspended ("Suspension": "A relay whose upstream or
// downstream peer reports Suspended is itself suspended; frames are
// dropped silently for up to max_suspend_duration then the relay is torn
// down").
func (l *Link) Suspend() {
	l.Suspended = true
	l.suspendedSince = time.Now()
}

func (l *Link) Resume() {
	l.Suspended = false
	l.suspendedSince = time.Time{}
}

// ExpiredSuspension reports whether l has been suspended longer than
// maxSuspendDuration and should now be torn down.
func (l *Link) ExpiredSuspension(maxSuspendDuration time.Duration) bool {
	return l.Suspended && time.Since(l.suspendedSince) > maxSuspendDuration
}

// SweepSuspended closes any link whose suspension has exceeded
// MaxSuspendDuration, returning the relay_ports that were torn down.
func (t *Table) SweepSuspended() []uint64 {
	t.mu.RLock()
	var expired []uint64
	for port, link := range t.links {
		if link.ExpiredSuspension(t.policy.MaxSuspendDuration) {
			expired = append(expired, port)
		}
	}
	t.mu.RUnlock()

	for _, port := range expired {
		t.Close(port)
	}
	return expired
}
