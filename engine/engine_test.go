package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/hlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHash(k int) uint64 {
	h := uint64(k)
	return h | (h << 50)
}

func newTestEngine(t *testing.T) *Engine[int, string] {
	t.Helper()
	return New[int, string](hlog.NewMemoryDevice(), nil, testHash, 64, 0)
}

func TestUpsertThenReadHitsMutableRegion(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	status, err := e.Upsert(ctx, 1, "one")
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusUpserted, status)

	value, status, err := e.Read(ctx, 1, ReadFlags{})
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusFound, status)
	assert.Equal(t, "one", value)
}

func TestReadMissingKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, status, err := e.Read(ctx, 99, ReadFlags{})
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusNotFound, status)
}

func TestReadBelowHeadSplicesReadCacheCopy(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Upsert(ctx, 1, "one")
	require.NoError(t, err)

	tail := e.log.TailOffset()
	require.True(t, e.log.AdvanceReadOnly(tail))
	require.NoError(t, e.log.AdvanceHead(ctx, tail))

	assert.Equal(t, 0, e.rc.Len())
	value, status, err := e.Read(ctx, 1, ReadFlags{})
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusFound, status)
	assert.Equal(t, "one", value)
	assert.Equal(t, 1, e.rc.Len(), "a disk-resolved read installs a read-cache copy")

	// Second read now resolves from the read cache, not the device.
	value, status, err = e.Read(ctx, 1, ReadFlags{})
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusFound, status)
	assert.Equal(t, "one", value)
}

func TestUpsertAfterReadCacheSpliceInvalidatesOldCopy(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Upsert(ctx, 1, "one")
	require.NoError(t, err)
	tail := e.log.TailOffset()
	require.True(t, e.log.AdvanceReadOnly(tail))
	require.NoError(t, e.log.AdvanceHead(ctx, tail))

	_, _, err = e.Read(ctx, 1, ReadFlags{})
	require.NoError(t, err)
	require.Equal(t, 1, e.rc.Len())

	_, err = e.Upsert(ctx, 1, "two")
	require.NoError(t, err)

	value, status, err := e.Read(ctx, 1, ReadFlags{})
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusFound, status)
	assert.Equal(t, "two", value)
}

func TestRMWInitialUpdaterRunsWhenAbsent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	status, err := e.RMW(ctx, 7,
		func() string { return "seed" },
		func(old string) string { return old + "+copy" },
		func(cur *string) bool { *cur += "+inplace"; return true },
	)
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusCreated, status)

	value, _, err := e.Read(ctx, 7, ReadFlags{})
	require.NoError(t, err)
	assert.Equal(t, "seed", value)
}

func TestRMWInPlaceUpdatesMutableRecord(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.Upsert(ctx, 3, "v0")
	require.NoError(t, err)

	status, err := e.RMW(ctx, 3, nil,
		func(old string) string { return old + "+copy" },
		func(cur *string) bool { *cur += "+inplace"; return true },
	)
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusInPlaceUpdated, status)

	value, _, err := e.Read(ctx, 3, ReadFlags{})
	require.NoError(t, err)
	assert.Equal(t, "v0+inplace", value)
}

func TestDeleteThenReadIsNotFound(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.Upsert(ctx, 4, "v0")
	require.NoError(t, err)

	status, err := e.Delete(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusDeleted, status)

	_, readStatus, err := e.Read(ctx, 4, ReadFlags{})
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusNotFound, readStatus)
}

func TestLockBlocksConcurrentMutation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.Upsert(ctx, 5, "v0")
	require.NoError(t, err)

	require.NoError(t, e.Lock(ctx, 5, LockExclusive))
	_, err = e.Upsert(ctx, 5, "v1")
	require.Error(t, err)
	var herr hlogcache.Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, hlogcache.ConcurrentOwnedOperation, herr.Code)

	require.NoError(t, e.Unlock(ctx, 5, LockExclusive))
	_, err = e.Upsert(ctx, 5, "v1")
	require.NoError(t, err)
}

func TestSharedLockAllowsConcurrentSharedButBlocksExclusive(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.Upsert(ctx, 6, "v0")
	require.NoError(t, err)

	require.NoError(t, e.Lock(ctx, 6, LockShared))
	require.NoError(t, e.Lock(ctx, 6, LockShared))
	require.Error(t, e.Lock(ctx, 6, LockExclusive))

	require.NoError(t, e.Unlock(ctx, 6, LockShared))
	require.Error(t, e.Lock(ctx, 6, LockExclusive))
	require.NoError(t, e.Unlock(ctx, 6, LockShared))
	require.NoError(t, e.Lock(ctx, 6, LockExclusive))
}

func TestLockBeforeRecordExistsTracksInOverflowThenTransfersOnRead(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.Upsert(ctx, 9, "v0")
	require.NoError(t, err)
	tail := e.log.TailOffset()
	require.True(t, e.log.AdvanceReadOnly(tail))
	require.NoError(t, e.log.AdvanceHeadWithLockTransfer(ctx, tail, e.lt))

	require.NoError(t, e.Lock(ctx, 9, LockExclusive))
	assert.Equal(t, 1, e.lt.Count())

	value, status, err := e.Read(ctx, 9, ReadFlags{})
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusFound, status)
	assert.Equal(t, "v0", value)
	assert.Equal(t, 0, e.lt.Count(), "the lock moves from the overflow table onto the freshly spliced read-cache record")

	require.NoError(t, e.Unlock(ctx, 9, LockExclusive))
}

// hashMod2 collides keys 1, 3, 5, 7 into the same bucket entry (all hash to
// 1), reproducing spec §8 scenario 1's deliberately-colliding chain at a
// small scale.
func hashMod2(k int) uint64 { return uint64(k % 2) }

func TestColdReadsOnACollidingChainAccumulateInDescendingOrder(t *testing.T) {
	ctx := context.Background()
	e := New[int, string](hlog.NewMemoryDevice(), nil, hashMod2, 16, 0)

	keys := []int{1, 3, 5, 7}
	for _, k := range keys {
		_, err := e.Upsert(ctx, k, fmt.Sprintf("v%d", k))
		require.NoError(t, err)
	}
	tail := e.log.TailOffset()
	require.True(t, e.log.AdvanceReadOnly(tail))
	require.NoError(t, e.log.AdvanceHead(ctx, tail))

	for _, k := range keys {
		value, status, err := e.Read(ctx, k, ReadFlags{})
		require.NoError(t, err)
		assert.Equal(t, hlogcache.StatusFound, status)
		assert.Equal(t, fmt.Sprintf("v%d", k), value)
	}
	require.Equal(t, len(keys), e.rc.Len(), "every cold read installs its own read-cache copy")

	entry := e.index.GetOrCreateEntry(keys[0])
	val := entry.Load()
	require.True(t, val.Occupied)
	addr := val.Address

	var order []int
	for addr.IsReadCache() {
		rec, ok := e.rc.Get(addr)
		require.True(t, ok)
		order = append(order, rec.Key)
		addr = rec.Info.PreviousAddress()
	}
	assert.Equal(t, []int{7, 5, 3, 1}, order, "most-recently-read key sits nearest the bucket head")
	assert.False(t, addr.IsReadCache(), "the chain falls through to the hybrid log below the read-cache prefix")
}

// TestUpsertMidReadCacheChainSplicesAtBucketEntry reproduces a key whose
// read-cache copy sits behind another key's copy in the same bucket (not at
// the bucket entry) and upserts it, checking the splice lands at the bucket
// entry with the read-cache prefix fully bypassed rather than wired into a
// mid-chain predecessor.
func TestUpsertMidReadCacheChainSplicesAtBucketEntry(t *testing.T) {
	ctx := context.Background()
	e := New[int, string](hlog.NewMemoryDevice(), nil, hashMod2, 16, 0)

	keys := []int{1, 3, 5, 7}
	for _, k := range keys {
		_, err := e.Upsert(ctx, k, fmt.Sprintf("v%d", k))
		require.NoError(t, err)
	}
	tail := e.log.TailOffset()
	require.True(t, e.log.AdvanceReadOnly(tail))
	require.NoError(t, e.log.AdvanceHead(ctx, tail))

	// Read all four ascending, so the read-cache chain ends up (head to
	// tail) 7 -> 5 -> 3 -> 1 -> hlog, with 3 buried two entries deep.
	for _, k := range keys {
		_, _, err := e.Read(ctx, k, ReadFlags{})
		require.NoError(t, err)
	}
	require.Equal(t, len(keys), e.rc.Len())

	entry := e.index.GetOrCreateEntry(3)
	preUpsertHead := entry.Load()
	require.True(t, preUpsertHead.Address.IsReadCache(), "bucket entry still points into the read-cache prefix before the upsert")

	status, err := e.Upsert(ctx, 3, "new-three")
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusUpserted, status)

	// The splice must land at the bucket entry itself, never at a mid-chain
	// predecessor: the entry's address changes and its ReadCacheBit clears.
	postUpsertHead := entry.Load()
	assert.NotEqual(t, preUpsertHead.Address, postUpsertHead.Address)
	assert.False(t, postUpsertHead.Address.IsReadCache(), "mutate splice bypasses the entire read-cache prefix")

	// The stale read-cache copy of 3 is marked invalid rather than left
	// reachable with a stale value.
	staleAddr := preUpsertHead.Address
	for staleAddr.IsReadCache() {
		rec, ok := e.rc.Get(staleAddr)
		require.True(t, ok)
		if rec.Key == 3 {
			assert.True(t, rec.Info.IsInvalid(), "the superseded read-cache copy of the upserted key is invalidated")
			break
		}
		staleAddr = rec.Info.PreviousAddress()
	}

	value, status, err := e.Read(ctx, 3, ReadFlags{})
	require.NoError(t, err)
	assert.Equal(t, hlogcache.StatusFound, status)
	assert.Equal(t, "new-three", value)

	// The other keys sharing the bucket are unaffected: still resolvable,
	// either from their orphaned read-cache copy or by falling through to
	// the hybrid log once their copy is no longer reachable from the entry.
	for _, k := range []int{1, 5, 7} {
		value, status, err := e.Read(ctx, k, ReadFlags{})
		require.NoError(t, err)
		assert.Equal(t, hlogcache.StatusFound, status)
		assert.Equal(t, fmt.Sprintf("v%d", k), value)
	}
}

func TestReadAsyncReturnsPendingBelowHeadAndCompletes(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.Upsert(ctx, 8, "v0")
	require.NoError(t, err)
	tail := e.log.TailOffset()
	require.True(t, e.log.AdvanceReadOnly(tail))
	require.NoError(t, e.log.AdvanceHead(ctx, tail))

	_, status, pending, err := e.ReadAsync(8)
	require.NoError(t, err)
	require.Equal(t, hlogcache.StatusPending, status)
	require.NotNil(t, pending)

	results, err := e.CompletePendingWithOutputs(ctx, []*AsyncIOContext[int, string]{pending})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, hlogcache.StatusFound, results[0].Status)
	assert.Equal(t, "v0", results[0].Value)
}
