// SPDX-License-Identifier: MIT

package peer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.quantumgate.dev/qgate/internal/algorithms"
)

func TestRecordKeyPromotion(t *testing.T) {
	r := NewRecord(LUID(1), DirectionOutbound)
	r.Current.BytesProcessed = 42

	var pending KeyState
	pending.Key[0] = 7
	r.InstallPendingKey(pending)

	previous, ok := r.PromotePending()
	require.True(t, ok)
	require.Equal(t, uint64(42), previous.BytesProcessed)
	require.Equal(t, byte(7), r.Current.Key[0])
	require.Nil(t, r.Pending)

	_, ok = r.PromotePending()
	require.False(t, ok)
}

func TestRecordQuintupleImmutableAfterSet(t *testing.T) {
	r := NewRecord(LUID(2), DirectionInbound)
	q := algorithms.Quintuple{Symmetric: algorithms.SymmetricAES256GCM}
	r.SetQuintuple(q)
	require.Equal(t, algorithms.SymmetricAES256GCM, r.Quintuple.Symmetric)
}

func TestLUIDAllocatorIsUnique(t *testing.T) {
	var a luidAllocator
	first := a.Allocate()
	second := a.Allocate()
	require.NotEqual(t, first, second)
}
