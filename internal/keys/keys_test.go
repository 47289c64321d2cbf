// SPDX-License-Identifier: MIT

package keys

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func counterGenerator(n *int64) Generator {
	return func() (public, private []byte, err error) {
		v := atomic.AddInt64(n, 1)
		return []byte{byte(v)}, []byte{byte(v), byte(v)}, nil
	}
}

func TestGetKeysDrainsPregeneratedPool(t *testing.T) {
	var calls int64
	m := NewManager()
	m.Register(AlgorithmID(1), 4, counterGenerator(&calls))
	m.Start(2)
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.Depth(AlgorithmID(1)) > 0
	}, time.Second, 5*time.Millisecond)

	pair, err := m.GetKeys(AlgorithmID(1))
	require.NoError(t, err)
	require.NotEmpty(t, pair.Public)
	require.NotEmpty(t, pair.Private)
}

func TestGetKeysSynchronousWhenEmpty(t *testing.T) {
	var calls int64
	m := NewManager()
	m.Register(AlgorithmID(1), 0, counterGenerator(&calls))

	pair, err := m.GetKeys(AlgorithmID(1))
	require.NoError(t, err)
	require.NotEmpty(t, pair.Public)
}

func TestGetKeysUnregisteredAlgorithm(t *testing.T) {
	m := NewManager()
	_, err := m.GetKeys(AlgorithmID(9))
	require.Error(t, err)
}

func TestGenerationFailuresMarkInactive(t *testing.T) {
	failing := func() (public, private []byte, err error) {
		return nil, nil, errors.New("boom")
	}
	m := NewManager()
	m.maxConsecutiveFailures = 3
	m.Register(AlgorithmID(1), 4, failing)
	m.Start(1)
	defer m.Stop()

	require.Eventually(t, func() bool {
		return !m.Active(AlgorithmID(1))
	}, time.Second, 5*time.Millisecond)
}
