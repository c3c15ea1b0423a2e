package hashindex

import "sync/atomic"

// entriesPerBucket is the number of inline slots per bucket before
// spilling to an overflow bucket, mirroring the teacher's fixed-fanout
// hash-partitioned file regions (fs/registrymap.go) translated to an
// in-memory slot array.
const entriesPerBucket = 7

// bucket is one row of the hash index: a fixed inline array of entries plus
// an optional overflow bucket, chained when all inline slots are occupied
// by distinct keys.
type bucket struct {
	entries  [entriesPerBucket]Entry
	overflow atomic.Pointer[bucket]
}

// forEach walks every entry in this bucket and its overflow chain, calling
// fn for every slot, empty ones included. fn returning false stops the walk.
func (b *bucket) forEach(fn func(e *Entry) bool) {
	for cur := b; cur != nil; cur = cur.overflow.Load() {
		for i := range cur.entries {
			if !fn(&cur.entries[i]) {
				return
			}
		}
	}
}

// findEmptyOrTag returns the first entry matching tag, or if none matches,
// the first empty slot, allocating an overflow bucket if every inline (and
// existing overflow) slot is occupied by a different tag.
func (b *bucket) findEmptyOrTag(tag Tag) *Entry {
	var empty *Entry
	cur := b
	for {
		for i := range cur.entries {
			e := &cur.entries[i]
			v := e.Load()
			if v.Occupied && v.Tag == tag {
				return e
			}
			if !v.Occupied && empty == nil {
				empty = e
			}
		}
		next := cur.overflow.Load()
		if next == nil {
			if empty != nil {
				return empty
			}
			nb := &bucket{}
			if cur.overflow.CompareAndSwap(nil, nb) {
				return &nb.entries[0]
			}
			cur = cur.overflow.Load()
			continue
		}
		cur = next
	}
}
