package locktable

import (
	"testing"

	"github.com/sharedcode/hlogcache/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExclusiveExcludesShared(t *testing.T) {
	lt := New[int]()
	require.True(t, lt.TryLockExclusive(1))
	assert.False(t, lt.TryLockShared(1))
	assert.False(t, lt.TryLockExclusive(2) == false, "unrelated key must not be affected")
	lt.UnlockExclusive(1)
	assert.True(t, lt.TryLockShared(1))
}

func TestSharedCountAccumulatesAndDrains(t *testing.T) {
	lt := New[int]()
	require.True(t, lt.TryLockShared(7))
	require.True(t, lt.TryLockShared(7))
	assert.False(t, lt.TryLockExclusive(7))

	snap, ok := lt.IsLocked(7)
	require.True(t, ok)
	assert.Equal(t, 2, snap.SharedCount)
	assert.False(t, snap.Exclusive)

	lt.UnlockShared(7)
	snap, ok = lt.IsLocked(7)
	require.True(t, ok)
	assert.Equal(t, 1, snap.SharedCount)

	lt.UnlockShared(7)
	_, ok = lt.IsLocked(7)
	assert.False(t, ok)
}

func TestAbsorbAndDrainRoundTrip(t *testing.T) {
	lt := New[int]()
	var info address.RecordInfo
	require.True(t, info.TryLockShared())
	require.True(t, info.TryLockShared())

	snap := info.SnapshotLock()
	lt.AbsorbFromRecord(9, snap)
	info.ClearLock()
	assert.False(t, info.HasAnyLock())

	drained := lt.DrainToRecord(9)
	assert.Equal(t, 2, drained.SharedCount)
	_, ok := lt.IsLocked(9)
	assert.False(t, ok, "drain removes the overflow entry")
}

func TestAbsorbMergesWithExistingOverflowEntry(t *testing.T) {
	lt := New[int]()
	require.True(t, lt.TryLockShared(3))
	lt.AbsorbFromRecord(3, address.LockSnapshot{SharedCount: 2})
	snap, ok := lt.IsLocked(3)
	require.True(t, ok)
	assert.Equal(t, 3, snap.SharedCount)
}
