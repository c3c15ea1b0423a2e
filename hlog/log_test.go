package hlog

import (
	"context"
	"testing"

	"github.com/sharedcode/hlogcache/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndGet(t *testing.T) {
	l := New[int, string](NewMemoryDevice(), nil)
	addr, rec := l.Append(1, "one", false, address.Invalid)
	assert.False(t, addr.IsReadCache())
	assert.Equal(t, "one", rec.Value)

	got, ok := l.Get(addr)
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestAdvanceHeadFlushesAndEvicts(t *testing.T) {
	ctx := context.Background()
	l := New[int, string](NewMemoryDevice(), nil)
	a0, _ := l.Append(1, "one", false, address.Invalid)
	a1, _ := l.Append(2, "two", false, a0)

	require.NoError(t, l.AdvanceHead(ctx, a1.Offset()))
	_, ok := l.Get(a0)
	assert.False(t, ok, "a0 should have been evicted from memory")
	_, ok = l.Get(a1)
	assert.True(t, ok, "a1 is still above head")

	dr, err := l.ReadFromDevice(ctx, a0)
	require.NoError(t, err)
	assert.Equal(t, 1, dr.Key)
	assert.Equal(t, "one", dr.Value)
	assert.Equal(t, address.Invalid, dr.Previous)
}

func TestReadFromDeviceMissingOffset(t *testing.T) {
	l := New[int, string](NewMemoryDevice(), nil)
	_, err := l.ReadFromDevice(context.Background(), address.NewHLogAddress(42))
	assert.ErrorIs(t, err, ErrNotOnDevice)
}
