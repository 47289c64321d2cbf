// SPDX-License-Identifier: MIT

package transport

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"net/netip"
	"sync"
	"time"

	"go.quantumgate.dev/qgate/internal/tai64n"
)

// CookieGuard implements the listener manager's DoS mitigation named by
// security.udp.{connect_cookie_requirement_threshold,cookie_expiration_interval}:
// once the number of concurrently in-flight (unestablished) handshakes from
// distinct addresses crosses the threshold, new initiators must first echo
// back a MAC'd, tai64n-timestamped cookie before the listener will spend a
// handshake slot on them. Grounded on tai64n.Timestamp's monotonic byte
// comparison, already used for WireGuard-style replay/freshness checks.
type CookieGuard struct {
	mu         sync.Mutex
	secret     [32]byte
	threshold  int
	expiration time.Duration
	inFlight   map[netip.Addr]struct{}
}

// NewCookieGuard builds a guard with the given threshold and cookie
// lifetime. A zero threshold disables cookie enforcement entirely.
func NewCookieGuard(threshold int, expiration time.Duration) (*CookieGuard, error) {
	g := &CookieGuard{
		threshold:  threshold,
		expiration: expiration,
		inFlight:   make(map[netip.Addr]struct{}),
	}
	if _, err := rand.Read(g.secret[:]); err != nil {
		return nil, err
	}
	return g, nil
}

// RegisterAttempt marks addr as having an in-flight handshake; call
// Release once it completes or times out.
func (g *CookieGuard) RegisterAttempt(addr netip.Addr) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight[addr] = struct{}{}
}

func (g *CookieGuard) Release(addr netip.Addr) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, addr)
}

// RequiresCookie reports whether addr must present a valid cookie before
// the listener will process its Hello, based on current in-flight load.
func (g *CookieGuard) RequiresCookie(addr netip.Addr) bool {
	if g.threshold <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, already := g.inFlight[addr]; already {
		return false
	}
	return len(g.inFlight) >= g.threshold
}

// cookieSize is tai64n.TimestampSize (freshness) plus a 32-byte HMAC-SHA256
// tag binding the timestamp to the requesting address.
const cookieSize = tai64n.TimestampSize + sha256.Size

var ErrCookieInvalid = errors.New("transport: cookie invalid or expired")

// Issue produces a fresh cookie for addr: a tai64n timestamp plus an
// HMAC-SHA256 tag over (timestamp || addr) keyed by the guard's secret.
func (g *CookieGuard) Issue(addr netip.Addr) []byte {
	ts := tai64n.Now()
	mac := hmac.New(sha256.New, g.secret[:])
	mac.Write(ts[:])
	mac.Write(addr.AsSlice())
	tag := mac.Sum(nil)

	out := make([]byte, 0, cookieSize)
	out = append(out, ts[:]...)
	out = append(out, tag...)
	return out
}

// Verify checks a cookie presented by addr: the MAC must match and the
// embedded timestamp must be within the configured expiration window.
func (g *CookieGuard) Verify(addr netip.Addr, cookie []byte) error {
	if len(cookie) != cookieSize {
		return ErrCookieInvalid
	}
	var ts tai64n.Timestamp
	copy(ts[:], cookie[:tai64n.TimestampSize])

	mac := hmac.New(sha256.New, g.secret[:])
	mac.Write(ts[:])
	mac.Write(addr.AsSlice())
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, cookie[tai64n.TimestampSize:]) {
		return ErrCookieInvalid
	}

	deadline := tai64n.Now()
	expiredBy := timestampAddDuration(ts, g.expiration)
	if expiredBy.After(deadline) {
		return nil
	}
	return ErrCookieInvalid
}

// timestampAddDuration advances a tai64n timestamp by d, used only to
// compute a comparable expiry bound (tai64n.Timestamp itself exposes no
// arithmetic beyond After).
func timestampAddDuration(ts tai64n.Timestamp, d time.Duration) tai64n.Timestamp {
	secs := int64(uint64(ts[0])<<56 | uint64(ts[1])<<48 | uint64(ts[2])<<40 | uint64(ts[3])<<32 |
		uint64(ts[4])<<24 | uint64(ts[5])<<16 | uint64(ts[6])<<8 | uint64(ts[7]))
	secs += int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	var out tai64n.Timestamp
	out[0] = byte(secs >> 56)
	out[1] = byte(secs >> 48)
	out[2] = byte(secs >> 40)
	out[3] = byte(secs >> 32)
	out[4] = byte(secs >> 24)
	out[5] = byte(secs >> 16)
	out[6] = byte(secs >> 8)
	out[7] = byte(secs)
	copy(out[8:], ts[8:])
	return out
}
