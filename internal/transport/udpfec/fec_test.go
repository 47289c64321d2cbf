// SPDX-License-Identifier: MIT

package udpfec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePackets(n, size int) []Packet {
	pkts := make([]Packet, n)
	for i := range pkts {
		p := make(Packet, size)
		for j := range p {
			p[j] = byte((i + j) % 251)
		}
		pkts[i] = p
	}
	return pkts
}

func TestXORProtectorRecoversOneMissingShard(t *testing.T) {
	protector, err := NewXORProtector(4)
	require.NoError(t, err)

	source := samplePackets(4, 128)
	encoded, err := protector.Encode(source)
	require.NoError(t, err)
	require.Len(t, encoded, 5)

	received := append([]Packet(nil), encoded...)
	received[2] = nil

	decoded, err := protector.Decode(received)
	require.NoError(t, err)
	require.Equal(t, source, decoded)
}

func TestXORProtectorNoLossPassesThrough(t *testing.T) {
	protector, err := NewXORProtector(3)
	require.NoError(t, err)
	source := samplePackets(3, 64)
	encoded, err := protector.Encode(source)
	require.NoError(t, err)

	decoded, err := protector.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, source, decoded)
}

func TestReedSolomonRecoversUpToParityShardLosses(t *testing.T) {
	protector, err := NewReedSolomonProtector(4, 2)
	require.NoError(t, err)

	source := samplePackets(4, 256)
	encoded, err := protector.Encode(source)
	require.NoError(t, err)
	require.Len(t, encoded, 6)

	received := append([]Packet(nil), encoded...)
	received[0] = nil
	received[3] = nil

	decoded, err := protector.Decode(received)
	require.NoError(t, err)
	require.Equal(t, source, decoded)
}

func TestReedSolomonAlgorithmMetadata(t *testing.T) {
	protector, err := NewReedSolomonProtector(10, 3)
	require.NoError(t, err)
	require.Equal(t, ReedSolomon, protector.Algorithm())
	require.Equal(t, 10, protector.NumDataShards())
	require.Equal(t, 3, protector.NumParityShards())
	require.Equal(t, 13, protector.TotalShards())
}

func TestRaptorQProtectorRoundTripNoLoss(t *testing.T) {
	protector, err := NewRaptorQProtector(4, 128)
	require.NoError(t, err)
	require.Equal(t, RaptorQ, protector.Algorithm())

	source := samplePackets(4, 128)
	encoded, err := protector.Encode(source)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(encoded), 4)

	decoded, err := protector.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, source, decoded)
}
