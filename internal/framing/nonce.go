// SPDX-License-Identifier: MIT

package framing

import (
	"bytes"
	"crypto/rand"
)

// NonceSize matches algorithms.NonceSize ("u8[12] nonce"); kept as
// an independent constant here to avoid an import of internal/algorithms
// purely for one integer.
const NonceSize = 12

// Nonce is the wire-format AEAD nonce: a 96-bit big-endian counter, random
// at key install, incrementing by one per sent frame ("Nonce
// policy"). Comparing two Nonces as big-endian byte strings is equivalent
// to comparing them as unsigned 96-bit integers.
type Nonce [NonceSize]byte

// RandomNonce picks the random starting value installed alongside a fresh
// key.
func RandomNonce() (Nonce, error) {
	var n Nonce
	_, err := rand.Read(n[:])
	return n, err
}

// Increment advances the counter by one, wrapping on overflow (in practice
// unreachable before a rekey is forced by require_after_num_processed_bytes).
func (n *Nonce) Increment() {
	for i := len(n) - 1; i >= 0; i-- {
		n[i]++
		if n[i] != 0 {
			return
		}
	}
}

// Compare returns -1, 0, or 1 as n is less than, equal to, or greater than
// other, treating both as big-endian unsigned integers.
func (n Nonce) Compare(other Nonce) int {
	return bytes.Compare(n[:], other[:])
}

// Tracker enforces the receiver-side nonce policy: reject any frame whose
// nonce is <= the highest accepted nonce under the current key.
// Unlike RFC 6479's windowed ReplayFilter, this is strict forward-only
// acceptance with no reordering tolerance; ReplayFilter remains available
// in this package for components that do need bounded reordering
// tolerance (see replay.go).
type Tracker struct {
	highest Nonce
	seenAny bool
}

// Accept reports whether n is strictly greater than every previously
// accepted nonce, and if so records it as the new highest.
func (t *Tracker) Accept(n Nonce) bool {
	if t.seenAny && n.Compare(t.highest) <= 0 {
		return false
	}
	t.highest = n
	t.seenAny = true
	return true
}

// Reset clears the tracker, used when a rekey resets both nonce counters.
func (t *Tracker) Reset() {
	*t = Tracker{}
}
