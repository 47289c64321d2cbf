// SPDX-License-Identifier: MIT

package relay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// ControlOp is the op field of a RelayControl frame ("Relay control
// frames ... {relay_port:u64, hops_remaining:u8, op:..., inner:bytes}").
type ControlOp uint8

const (
	OpOpen ControlOp = iota
	OpAccept
	OpReject
	OpClose
)

// Control is one RelayControl message. Open carries FinalEndpoint and an
// Inner payload (an ephemeral public key, for the end-to-end exchange run
// through the chain); Accept/Reject carry Inner and RelayPort only;
// Close carries RelayPort only. Every intermediate hop forwards Inner
// unchanged, exactly as it forwards RelayData payloads.
type Control struct {
	Op            ControlOp
	RelayPort     uint64
	HopsRemaining uint8
	FinalEndpoint netip.AddrPort
	Inner         []byte
}

const controlFixedSize = 1 + 8 + 1 + 2

func (c Control) Marshal() []byte {
	var addrBytes []byte
	if c.FinalEndpoint.IsValid() {
		addrBytes, _ = c.FinalEndpoint.MarshalBinary()
	}

	buf := make([]byte, 0, controlFixedSize+len(addrBytes)+len(c.Inner))
	buf = append(buf, byte(c.Op))
	buf = binary.BigEndian.AppendUint64(buf, c.RelayPort)
	buf = append(buf, c.HopsRemaining)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(addrBytes)))
	buf = append(buf, addrBytes...)
	buf = append(buf, c.Inner...)
	return buf
}

func DecodeControl(b []byte) (Control, error) {
	if len(b) < controlFixedSize {
		return Control{}, errors.New("relay: control frame too short")
	}
	c := Control{Op: ControlOp(b[0])}
	c.RelayPort = binary.BigEndian.Uint64(b[1:9])
	c.HopsRemaining = b[9]
	addrLen := int(binary.BigEndian.Uint16(b[10:12]))
	rest := b[controlFixedSize:]

	if addrLen > 0 {
		if len(rest) < addrLen {
			return Control{}, errors.New("relay: control frame truncated final endpoint")
		}
		if err := c.FinalEndpoint.UnmarshalBinary(rest[:addrLen]); err != nil {
			return Control{}, fmt.Errorf("relay: invalid final endpoint: %w", err)
		}
		rest = rest[addrLen:]
	}
	if len(rest) > 0 {
		c.Inner = append([]byte(nil), rest...)
	}
	return c, nil
}

// NewPort draws a fresh random relay_port for a node opening a new relay
// chain. Table.Open/OpenWithPort pick their own when registering a Link,
// but the chain's initiator never holds a Link (it isn't an intermediate
// hop), so it needs this to pick the port it asks the gateway to bind.
func NewPort() (uint64, error) {
	return randomPort()
}
