package wchisp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManagerLifecycle(t *testing.T) {
	m := NewSessionManager()

	h, s, err := m.Open(context.Background(), newCH32V307(false), WithGracePeriod(time.Nanosecond))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, m.Len())

	got, err := m.Get(h)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, m.Close(h))
	assert.Equal(t, 0, m.Len())

	_, err = m.Get(h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.ErrorIs(t, m.Close(h), ErrUnknownHandle)
}

func TestSessionManagerOpenFailure(t *testing.T) {
	m := NewSessionManager()

	f := newCH32V307(false)
	f.rejectKind = CmdIdentify
	f.rejectStatus = 0xfe

	_, _, err := m.Open(context.Background(), f, WithGracePeriod(time.Nanosecond))
	require.Error(t, err)
	assert.Equal(t, 0, m.Len(), "failed open leaves no session behind")
}

func TestSessionManagerParallelSessions(t *testing.T) {
	m := NewSessionManager()

	// Distinct devices flash fully in parallel; the manager lock only
	// guards the handle map.
	var wg sync.WaitGroup
	handles := make([]Handle, 4)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, s, err := m.Open(context.Background(), newCH32V307(false), WithGracePeriod(time.Nanosecond))
			require.NoError(t, err)
			require.NoError(t, s.Flash(context.Background(), []byte{0x01, 0x02}))
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, m.Len())
	seen := map[Handle]bool{}
	for _, h := range handles {
		assert.False(t, seen[h], "handle %d reused", h)
		seen[h] = true
	}
}
