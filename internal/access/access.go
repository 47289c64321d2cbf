// SPDX-License-Identifier: MIT

// Package access implements the Access Manager (): three
// independent gates — CIDR filter, reputation, subnet cap — evaluated in
// order on every new connection or relay hop. The filter's longest-prefix-
// match concept is grounded on device/allowedips.go, reimplemented over
// net/netip instead of an unsafe-pointer radix trie (see DESIGN.md). The
// connection-attempt sliding window is grounded on ratelimiter/ratelimiter.go,
// rebuilt on golang.org/x/time/rate's token bucket instead of a hand-rolled
// nanosecond counter.
package access

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CheckType names which gate evaluation is for; all three gates are queried
// independently against the same address via Check.
type CheckType uint8

const (
	CheckInbound CheckType = iota
	CheckOutbound
	CheckRelayHop
)

// Reputation delta magnitudes (failure semantics / §4.4).
const (
	DeteriorateMinor    int32 = -20
	DeteriorateModerate int32 = -50
	DeteriorateSevere   int32 = -200

	minScore int32 = -3000
	maxScore int32 = 100
)

// FilterEntry is one allow/block rule for a CIDR prefix, restricted to IP
// address families; Bluetooth-address filters are out of scope without a
// Bluetooth transport backing them.
type FilterEntry struct {
	Prefix netip.Prefix
	Allow  bool
}

// SubnetLimit caps the number of admitted connections within a prefix.
type SubnetLimit struct {
	Prefix         netip.Prefix
	MaxConnections int
}

type reputationEntry struct {
	mu         sync.Mutex
	score      int32
	lastUpdate time.Time
}

// Manager evaluates the three access gates. Zero value is not usable; build
// with NewManager.
type Manager struct {
	mu      sync.RWMutex
	filters []FilterEntry
	limits  []SubnetLimit

	// recoveryRate is how many reputation points are restored per second
	// of good behavior; recovery is linear in elapsed time.
	recoveryRate float64

	// maxPerInterval / interval bound ConnectionAttemptCounter.
	maxPerInterval int
	interval       time.Duration

	reputation  map[netip.Addr]*reputationEntry
	limiters    map[netip.Addr]*rate.Limiter
	subnetConns map[netip.Prefix]int

	reputationMu  sync.Mutex
	limitersMu    sync.Mutex
	subnetConnsMu sync.Mutex

	// defaultAllow is the decision when no FilterEntry matches.
	defaultAllow bool
}

// Config bundles the tunables needed to construct a Manager.
type Config struct {
	Filters            []FilterEntry
	SubnetLimits       []SubnetLimit
	DefaultAllow       bool
	MaxPerInterval     int
	Interval           time.Duration
	ReputationRecovery float64 // points/second
}

func NewManager(cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxPerInterval <= 0 {
		cfg.MaxPerInterval = 20
	}
	if cfg.ReputationRecovery <= 0 {
		cfg.ReputationRecovery = 1
	}
	return &Manager{
		filters:        append([]FilterEntry(nil), cfg.Filters...),
		limits:         append([]SubnetLimit(nil), cfg.SubnetLimits...),
		defaultAllow:   cfg.DefaultAllow,
		maxPerInterval: cfg.MaxPerInterval,
		interval:       cfg.Interval,
		recoveryRate:   cfg.ReputationRecovery,
		reputation:     make(map[netip.Addr]*reputationEntry),
		limiters:       make(map[netip.Addr]*rate.Limiter),
		subnetConns:    make(map[netip.Prefix]int),
	}
}

// Check runs all three gates for addr in order and returns the first denial,
// or nil if all three admit. typ does not change gate logic today but is
// threaded through for future per-direction policy and for logging.
func (m *Manager) Check(addr netip.Addr, typ CheckType) error {
	if !m.CheckFilter(addr) {
		return errFilterBlocked
	}
	if !m.CheckReputation(addr) {
		return errReputationRefused
	}
	if !m.CheckSubnetCap(addr) {
		return errSubnetCapExceeded
	}
	return nil
}

// CheckFilter runs gate 1: longest-prefix-match over the configured
// allow/block list, block-overrides-allow at equal length, defaultAllow on
// no match.
func (m *Manager) CheckFilter(addr netip.Addr) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bestLen := -1
	allow := m.defaultAllow
	for _, f := range m.filters {
		if !f.Prefix.Contains(addr) {
			continue
		}
		l := f.Prefix.Bits()
		if l > bestLen || (l == bestLen && !f.Allow) {
			bestLen = l
			allow = f.Allow
		}
	}
	return allow
}

// CheckReputation runs gate 2: fetch-or-create the ReputationEntry, apply
// accrued recovery, record a connection attempt against the sliding window,
// deteriorate on overflow, and admit iff score > 0.
func (m *Manager) CheckReputation(addr netip.Addr) bool {
	entry := m.reputationEntryFor(addr)

	entry.mu.Lock()
	m.applyRecoveryLocked(entry)
	entry.mu.Unlock()

	if !m.attemptAllowed(addr) {
		m.Deteriorate(addr, DeteriorateModerate)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.score > 0
}

// CheckSubnetCap runs gate 3 in isolation: would admitting addr exceed any
// matching SubnetLimit? It does not itself register the connection; call
// RegisterConnection/ReleaseConnection to track active counts.
func (m *Manager) CheckSubnetCap(addr netip.Addr) bool {
	m.mu.RLock()
	limits := m.limits
	m.mu.RUnlock()

	m.subnetConnsMu.Lock()
	defer m.subnetConnsMu.Unlock()
	for _, lim := range limits {
		if !lim.Prefix.Contains(addr) {
			continue
		}
		if m.subnetConns[lim.Prefix]+1 > lim.MaxConnections {
			return false
		}
	}
	return true
}

// RegisterConnection records addr as an active connection against every
// matching SubnetLimit. Call only after Check has admitted addr.
func (m *Manager) RegisterConnection(addr netip.Addr) {
	m.mu.RLock()
	limits := m.limits
	m.mu.RUnlock()

	m.subnetConnsMu.Lock()
	defer m.subnetConnsMu.Unlock()
	for _, lim := range limits {
		if lim.Prefix.Contains(addr) {
			m.subnetConns[lim.Prefix]++
		}
	}
}

// ReleaseConnection undoes a prior RegisterConnection for addr.
func (m *Manager) ReleaseConnection(addr netip.Addr) {
	m.mu.RLock()
	limits := m.limits
	m.mu.RUnlock()

	m.subnetConnsMu.Lock()
	defer m.subnetConnsMu.Unlock()
	for _, lim := range limits {
		if lim.Prefix.Contains(addr) {
			if m.subnetConns[lim.Prefix] > 0 {
				m.subnetConns[lim.Prefix]--
			}
		}
	}
}

// Deteriorate applies a reputation delta (one of the Deteriorate* constants,
// or a custom negative value) to addr, clamped to [minScore, maxScore].
func (m *Manager) Deteriorate(addr netip.Addr, delta int32) {
	entry := m.reputationEntryFor(addr)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	m.applyRecoveryLocked(entry)
	entry.score += delta
	if entry.score < minScore {
		entry.score = minScore
	}
	if entry.score > maxScore {
		entry.score = maxScore
	}
	entry.lastUpdate = now()
}

// Score returns addr's current reputation score after applying any accrued
// recovery, without registering a connection attempt.
func (m *Manager) Score(addr netip.Addr) int32 {
	entry := m.reputationEntryFor(addr)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	m.applyRecoveryLocked(entry)
	return entry.score
}

func (m *Manager) applyRecoveryLocked(entry *reputationEntry) {
	t := now()
	elapsed := t.Sub(entry.lastUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	entry.score += int32(elapsed * m.recoveryRate)
	if entry.score > maxScore {
		entry.score = maxScore
	}
	entry.lastUpdate = t
}

func (m *Manager) reputationEntryFor(addr netip.Addr) *reputationEntry {
	m.reputationMu.Lock()
	defer m.reputationMu.Unlock()
	e, ok := m.reputation[addr]
	if !ok {
		e = &reputationEntry{score: maxScore, lastUpdate: now()}
		m.reputation[addr] = e
	}
	return e
}

// attemptAllowed records one connection attempt for addr against its
// sliding window and reports whether it stayed within maxPerInterval.
func (m *Manager) attemptAllowed(addr netip.Addr) bool {
	m.limitersMu.Lock()
	l, ok := m.limiters[addr]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(m.maxPerInterval)/m.interval.Seconds()), m.maxPerInterval)
		m.limiters[addr] = l
	}
	m.limitersMu.Unlock()
	return l.Allow()
}

var now = time.Now
