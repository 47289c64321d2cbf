// SPDX-License-Identifier: MIT

// Package udpfec provides forward error correction for batches of UDP
// datagrams, so isolated packet loss can be repaired without an end-to-end
// retransmit. It covers FEC only (no congestion control or MTU discovery),
// and transport.UDPTransport does not call it. Three interchangeable
// FECProtector implementations are grounded one-for-one on WireGuard's
// fec/xor.go, fec/reedsolomon.go, and fec/raptorq.go: cheap XOR parity,
// Reed-Solomon (github.com/klauspost/reedsolomon), and a fountain code
// (github.com/xssnick/raptorq) for scenarios with unpredictable loss
// patterns.
package udpfec

// Packet is one shard: a source packet, a parity/repair shard, or (for
// RaptorQ) an encoding symbol.
type Packet []byte

// FECAlgorithmType names a selectable FEC scheme.
type FECAlgorithmType uint8

const (
	XOR FECAlgorithmType = iota
	ReedSolomon
	RaptorQ
)

func (a FECAlgorithmType) String() string {
	switch a {
	case XOR:
		return "XOR"
	case ReedSolomon:
		return "ReedSolomon"
	case RaptorQ:
		return "RaptorQ"
	default:
		return "Unknown"
	}
}

// FECProtector encodes a batch of source packets into a protected set of
// shards, and decodes a received (possibly incomplete) set back into the
// original source packets.
type FECProtector interface {
	Algorithm() FECAlgorithmType
	NumDataShards() int
	NumParityShards() int
	TotalShards() int
	Encode(sourcePackets []Packet) ([]Packet, error)
	Decode(receivedPackets []Packet) ([]Packet, error)
}
