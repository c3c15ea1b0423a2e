package hashindex

import (
	"testing"

	"github.com/sharedcode/hlogcache/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashMod10 mirrors spec §8's scenario hash function (key mod 10), folded
// into both the bucket selector and the tag so collisions are exercised the
// same way the spec's worked examples do.
func hashMod10(key int) uint64 {
	h := uint64(key % 10)
	return h | (h << 50)
}

func TestLookupMissOnEmptyIndex(t *testing.T) {
	ix := New[int](16, hashMod10)
	_, _, found := ix.Lookup(40)
	assert.False(t, found)
}

func TestInstallAndLookup(t *testing.T) {
	ix := New[int](16, hashMod10)
	e := ix.GetOrCreateEntry(40)
	require.True(t, e.IsEmpty())

	addr := address.NewHLogAddress(1)
	v := Value{Address: addr, Tag: foldTag(hashMod10(40))}
	require.True(t, e.CAS(Value{}, v))

	found, val, ok := ix.Lookup(40)
	require.True(t, ok)
	assert.Equal(t, addr, val.Address)
	assert.Same(t, e, found)
}

func TestChainOfSameHashKeysSharesBucketButDistinctTagSlots(t *testing.T) {
	// 40, 50, ... share hash=0 in spec §8's scenarios, but here hashMod10
	// folds the same bits into both bucket and tag, so distinguishing them
	// within one bucket needs unique tags; use a richer hash for that case.
	richHash := func(key int) uint64 {
		h := uint64(key)
		return (h % 10) | (h << 50)
	}
	ix2 := New[int](16, richHash)
	e40 := ix2.GetOrCreateEntry(40)
	require.True(t, e40.CAS(Value{}, Value{Address: address.NewHLogAddress(1), Tag: foldTag(richHash(40))}))
	e50 := ix2.GetOrCreateEntry(50)
	assert.NotSame(t, e40, e50, "distinct tags should not collide into the same slot")
}

func TestOverflowBucketOnSaturation(t *testing.T) {
	ix := New[int](1, func(k int) uint64 { return uint64(k) << 50 })
	entries := make([]*Entry, 0, entriesPerBucket+1)
	for i := 0; i < entriesPerBucket+1; i++ {
		e := ix.GetOrCreateEntry(i)
		require.True(t, e.CAS(Value{}, Value{Address: address.NewHLogAddress(uint64(i) + 1), Tag: foldTag(uint64(i) << 50)}))
		entries = append(entries, e)
	}
	for i := 0; i < entriesPerBucket+1; i++ {
		_, val, ok := ix.Lookup(i)
		require.True(t, ok)
		assert.Equal(t, uint64(i)+1, val.Address.Offset())
	}
}
