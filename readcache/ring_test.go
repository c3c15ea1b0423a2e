package readcache

import (
	"context"
	"testing"

	"github.com/sharedcode/hlogcache/address"
	"github.com/sharedcode/hlogcache/hashindex"
	"github.com/sharedcode/hlogcache/locktable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendChainsOntoPreviousReadCacheRecord(t *testing.T) {
	r := New[int, string]()
	a0, _ := r.Append(1, "one", address.NewHLogAddress(5))
	a1, rec1 := r.Append(1, "one-again", a0)
	assert.Equal(t, a0, rec1.Info.PreviousAddress())
	assert.True(t, a1.IsReadCache())
}

func TestEvictBoundaryRewritesBucketEntryToHLogAddress(t *testing.T) {
	ctx := context.Background()
	r := New[int, string]()
	hlogAddr := address.NewHLogAddress(5)
	rcAddr, _ := r.Append(1, "one", hlogAddr)

	ix := hashindex.New[int](16, func(k int) uint64 { return uint64(k) })
	entry := ix.GetOrCreateEntry(1)
	tag := hashindex.Tag(0)
	require.True(t, entry.CAS(hashindex.Value{}, hashindex.Value{Address: rcAddr, Tag: tag, Occupied: true}))
	r.RegisterHead(rcAddr, entry)

	lt := locktable.New[int]()
	require.NoError(t, r.Evict(ctx, rcAddr.Offset()+1, lt))

	_, stillThere := r.Get(rcAddr)
	assert.False(t, stillThere)

	_, val, ok := ix.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, hlogAddr, val.Address)
}

func TestEvictMidChainRewritesSuccessorPointer(t *testing.T) {
	ctx := context.Background()
	r := New[int, string]()
	hlogAddr := address.NewHLogAddress(5)
	a0, _ := r.Append(1, "v0", hlogAddr)
	a1, rec1 := r.Append(1, "v1", a0)

	ix := hashindex.New[int](16, func(k int) uint64 { return uint64(k) })
	entry := ix.GetOrCreateEntry(1)
	require.True(t, entry.CAS(hashindex.Value{}, hashindex.Value{Address: a1, Tag: 0, Occupied: true}))
	r.RegisterHead(a1, entry)

	lt := locktable.New[int]()
	// Evict only a0 (the older of the two RC records); a1 stays resident and
	// its PreviousAddress must be bypassed straight to hlogAddr.
	require.NoError(t, r.Evict(ctx, a0.Offset()+1, lt))

	assert.Equal(t, hlogAddr, rec1.Info.PreviousAddress())
	_, ok := r.Get(a1)
	assert.True(t, ok, "a1 is still above the new head")
}

func TestEvictTransfersLiveLocksToLockTable(t *testing.T) {
	ctx := context.Background()
	r := New[int, string]()
	rcAddr, rec := r.Append(1, "one", address.NewHLogAddress(5))
	require.True(t, rec.Info.TryLockShared())

	ix := hashindex.New[int](16, func(k int) uint64 { return uint64(k) })
	entry := ix.GetOrCreateEntry(1)
	require.True(t, entry.CAS(hashindex.Value{}, hashindex.Value{Address: rcAddr, Tag: 0, Occupied: true}))
	r.RegisterHead(rcAddr, entry)

	lt := locktable.New[int]()
	require.NoError(t, r.Evict(ctx, rcAddr.Offset()+1, lt))

	snap, ok := lt.IsLocked(1)
	require.True(t, ok)
	assert.Equal(t, 1, snap.SharedCount)
}
