package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	backend := &MemoryBackend{}
	tracer := NewTracer(backend)

	require.NoError(t, tracer.Trace(1, "cache0", "read", 0x40, ""))
	require.NoError(t, tracer.Trace(2, "cache0", "evict", 0x40, "4 tokens"))
	require.NoError(t, tracer.Close())

	require.Len(t, backend.Events, 2)
	assert.Equal(t, "read", backend.Events[0].Kind)
	assert.Equal(t, uint64(2), backend.Events[1].Cycle)
	assert.NotEmpty(t, backend.Events[0].ID)
	assert.NotEqual(t, backend.Events[0].ID, backend.Events[1].ID)
}

func TestSQLiteBackend(t *testing.T) {
	backend, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	tracer := NewTracer(backend)
	for i := 0; i < 10; i++ {
		require.NoError(t, tracer.Trace(uint64(i), "cache1", "read", 0x80, ""))
	}
	require.NoError(t, tracer.Trace(99, "root0", "writeback", 0x40, "dirty"))

	n, err := backend.Count()
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	events, err := backend.EventsForAddress(0x80)
	require.NoError(t, err)
	require.Len(t, events, 10)
	assert.Equal(t, uint64(0), events[0].Cycle)
	assert.Equal(t, uint64(9), events[9].Cycle)

	events, err = backend.EventsForAddress(0x40)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "writeback", events[0].Kind)
}
