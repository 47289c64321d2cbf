// SPDX-License-Identifier: MIT

package peer

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// HandshakeDelay picks the uniform random delay in [0, maxDelay] the
// initiator waits before sending the first handshake byte (// "Optional handshake delay"), decorrelating connection initiation from
// observable application events.
func HandshakeDelay(maxDelay time.Duration) (time.Duration, error) {
	if maxDelay <= 0 {
		return 0, nil
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(maxDelay+1)), nil
}

// DecoySchedule returns the intervals at which up to maxCount dummy
// handshake frames should be emitted, each an independent uniform draw in
// [0, maxInterval] ("Decoy messages"). Decoys carry random payload
// and the same framing as real handshake steps so they are indistinguishable
// on the wire; the caller is responsible for building and discarding them.
func DecoySchedule(maxCount int, maxInterval time.Duration) ([]time.Duration, error) {
	if maxCount <= 0 || maxInterval <= 0 {
		return nil, nil
	}
	var countBuf [4]byte
	if _, err := rand.Read(countBuf[:]); err != nil {
		return nil, err
	}
	count := int(binary.BigEndian.Uint32(countBuf[:]) % uint32(maxCount+1))

	schedule := make([]time.Duration, count)
	for i := range schedule {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, err
		}
		schedule[i] = time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(maxInterval+1))
	}
	return schedule, nil
}
