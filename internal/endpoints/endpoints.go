// SPDX-License-Identifier: MIT

// Package endpoints implements Public-Endpoint Discovery & Verification
// (): peer-reported observations of our own public address
// accumulate into a bounded, deduplicated set, and are trusted only once
// both a data-verification and a hop-verification check pass and enough
// distinct reporter networks agree. Grounded on device/peer.go's
// SetEndpointFromPacket in spirit (peers report what they observe), rebuilt
// around net/netip instead of WireGuard's conn.Endpoint abstraction since
// this package reasons about address claims, not live sockets.
package endpoints

import (
	"net/netip"
	"sync"
	"time"
)

// reporterNetworkPrefix reduces a reporter's address to the /16 (IPv4) or
// /48 (IPv6) network distinct reporters are counted by.
func reporterNetworkPrefix(addr netip.Addr) netip.Prefix {
	if addr.Is4() || addr.Is4In6() {
		p, _ := addr.Prefix(16)
		return p
	}
	p, _ := addr.Prefix(48)
	return p
}

// Entry is one candidate public endpoint and everything learned about it.
type Entry struct {
	Addr netip.Addr

	reporterNetworks map[netip.Prefix]struct{}

	DataVerified bool
	HopVerified  bool

	FirstSeen time.Time
	LastSeen  time.Time
}

// ReporterNetworkCount returns how many distinct reporter networks have
// confirmed this endpoint.
func (e *Entry) ReporterNetworkCount() int {
	return len(e.reporterNetworks)
}

// Verified reports whether Addr is trusted as publicly ours: both checks
// passed and at least 3 distinct reporter networks confirmed it.
func (e *Entry) Verified() bool {
	return e.DataVerified && e.HopVerified && e.ReporterNetworkCount() >= 3
}

// Config bounds the accumulated set.
type Config struct {
	MaxEndpoints             int
	MaxReportingPeerNetworks int // per endpoint
}

// Manager accumulates and verifies reported public endpoints.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	entries map[netip.Addr]*Entry
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxEndpoints <= 0 {
		cfg.MaxEndpoints = 8
	}
	if cfg.MaxReportingPeerNetworks <= 0 {
		cfg.MaxReportingPeerNetworks = 16
	}
	return &Manager{cfg: cfg, entries: make(map[netip.Addr]*Entry)}
}

// Report records that reporterAddr observed claimedAddr as our source
// endpoint. If the set is at capacity and claimedAddr is new, the
// least-relevant existing entry is evicted first.
func (m *Manager) Report(reporterAddr, claimedAddr netip.Addr) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[claimedAddr]
	if !ok {
		if len(m.entries) >= m.cfg.MaxEndpoints {
			m.evictLeastRelevantLocked()
		}
		e = &Entry{
			Addr:             claimedAddr,
			reporterNetworks: make(map[netip.Prefix]struct{}),
			FirstSeen:        time.Now(),
		}
		m.entries[claimedAddr] = e
	}

	network := reporterNetworkPrefix(reporterAddr)
	if len(e.reporterNetworks) < m.cfg.MaxReportingPeerNetworks {
		e.reporterNetworks[network] = struct{}{}
	}
	e.LastSeen = time.Now()
	return e
}

// Get returns the Entry for addr, or nil if it is not (or no longer)
// tracked.
func (m *Manager) Get(addr netip.Addr) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[addr]
}

// Entries returns a snapshot of all tracked endpoints.
func (m *Manager) Entries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// evictLeastRelevantLocked removes the least-relevant entry (untrusted +
// unverified + oldest) to make room. Caller holds m.mu.
func (m *Manager) evictLeastRelevantLocked() {
	var worst netip.Addr
	var worstEntry *Entry
	for addr, e := range m.entries {
		if worstEntry == nil || lessRelevant(e, worstEntry) {
			worst = addr
			worstEntry = e
		}
	}
	if worstEntry != nil {
		delete(m.entries, worst)
	}
}

// lessRelevant reports whether a should be evicted before b: unverified
// before verified, then oldest LastSeen first.
func lessRelevant(a, b *Entry) bool {
	av, bv := a.Verified(), b.Verified()
	if av != bv {
		return !av // a is less relevant if it's unverified and b is verified
	}
	return a.LastSeen.Before(b.LastSeen)
}
