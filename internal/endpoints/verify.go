// SPDX-License-Identifier: MIT

package endpoints

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net/netip"
	"time"
)

// DataVerifier performs data verification: open a UDP socket on a random
// high port on the claimed public address, send a random 64-bit nonce,
// and confirm only if that exact nonce echoes back from that address.
// Concrete socket behavior belongs to internal/transport; this package
// only drives the retry policy.
type DataVerifier interface {
	SendAndAwaitEcho(ctx context.Context, addr netip.AddrPort, nonce uint64, timeout time.Duration) (bool, error)
}

// HopVerifier performs hop verification: ping the claimed public address
// with a bounded TTL and report whether a reply arrived within that many
// hops.
type HopVerifier interface {
	PingWithinHops(ctx context.Context, addr netip.AddrPort, maxHops int) (bool, error)
}

var ErrVerificationExhausted = errors.New("endpoints: data verification failed after max_verification_tries")

func randomNonce64() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// VerifyData runs the data-verification check, retrying up to maxTries
// times ("retries up to max_verification_tries").
func VerifyData(ctx context.Context, v DataVerifier, addr netip.AddrPort, timeout time.Duration, maxTries int) (bool, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxTries; attempt++ {
		nonce, err := randomNonce64()
		if err != nil {
			return false, err
		}
		ok, err := v.SendAndAwaitEcho(ctx, addr, nonce, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return true, nil
		}
	}
	if lastErr != nil {
		return false, lastErr
	}
	return false, nil
}

// MaxHopsFor returns the hop-verification bound: 0 when there is a
// locally-bound public IP, else 2.
func MaxHopsFor(hasLocalPublicIP bool) int {
	if hasLocalPublicIP {
		return 0
	}
	return 2
}

// VerifyHop runs the hop-verification check.
func VerifyHop(ctx context.Context, v HopVerifier, addr netip.AddrPort, hasLocalPublicIP bool) (bool, error) {
	return v.PingWithinHops(ctx, addr, MaxHopsFor(hasLocalPublicIP))
}

// Verify runs both checks against entry's address and updates its verified
// flags in place.
func Verify(ctx context.Context, entry *Entry, dv DataVerifier, hv HopVerifier, port uint16, timeout time.Duration, maxTries int, hasLocalPublicIP bool) error {
	addrPort := netip.AddrPortFrom(entry.Addr, port)

	dataOK, err := VerifyData(ctx, dv, addrPort, timeout, maxTries)
	if err != nil {
		return err
	}
	entry.DataVerified = dataOK
	if !dataOK {
		return ErrVerificationExhausted
	}

	hopOK, err := VerifyHop(ctx, hv, addrPort, hasLocalPublicIP)
	if err != nil {
		return err
	}
	entry.HopVerified = hopOK
	return nil
}
