package hashindex

// HashFunc computes a 64-bit hash of a key. The Index folds the upper bits
// into a Tag and the lower bits into a bucket selector (spec §4.1).
type HashFunc[TK any] func(key TK) uint64

// Index is the array of hash buckets fronting the hybrid log's chains.
type Index[TK any] struct {
	buckets []bucket
	mask    uint64
	hashFn  HashFunc[TK]
}

// New creates an Index with numBuckets slots, rounded up to the next power
// of two so bucket selection is a mask instead of a modulo.
func New[TK any](numBuckets int, hashFn HashFunc[TK]) *Index[TK] {
	n := 1
	for n < numBuckets {
		n <<= 1
	}
	return &Index[TK]{
		buckets: make([]bucket, n),
		mask:    uint64(n - 1),
		hashFn:  hashFn,
	}
}

func foldTag(h uint64) Tag {
	return Tag((h >> 50) & (uint64(1)<<TagBits - 1))
}

// locate returns the bucket and tag for key.
func (ix *Index[TK]) locate(key TK) (*bucket, Tag) {
	h := ix.hashFn(key)
	return &ix.buckets[h&ix.mask], foldTag(h)
}

// Lookup returns the bucket entry matching key's tag, if any. Per spec §4.1,
// a tag match is a *candidate* — the caller must still walk the chain and
// compare actual keys, since tags can collide.
func (ix *Index[TK]) Lookup(key TK) (*Entry, Value, bool) {
	b, tag := ix.locate(key)
	var found *Entry
	var val Value
	b.forEach(func(e *Entry) bool {
		v := e.Load()
		if v.Occupied && v.Tag == tag {
			found = e
			val = v
			return false
		}
		return true
	})
	return found, val, found != nil
}

// TagFor returns the folded-hash tag a key maps to, without touching the
// bucket array. Used by callers that need to install a brand-new entry and
// must stamp the correct tag even while the slot is still empty.
func (ix *Index[TK]) TagFor(key TK) Tag {
	_, tag := ix.locate(key)
	return tag
}

// GetOrCreateEntry returns the bucket entry for key's tag, allocating an
// empty slot (possibly spilling to an overflow bucket) if none exists yet.
// The returned entry may still be empty (Value.Occupied == false); callers
// install the first record for a brand-new key with StoreTentative.
func (ix *Index[TK]) GetOrCreateEntry(key TK) *Entry {
	b, tag := ix.locate(key)
	return b.findEmptyOrTag(tag)
}
