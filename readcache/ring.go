// Package readcache implements the read-cache ring (spec §3, §4.3, §4.4): an
// in-memory address space, distinguished from hybrid-log addresses by the
// high read-cache tag bit, that holds copies of cold records spliced in
// front of a chain when a read resolves from the device, below HeadAddress.
//
// Grounded on the teacher's L1 MRU cache (cache/l1_cache.go, cache/mru.go,
// cache/doublylinkedlist.go): same "evict from one end while the structure
// exceeds capacity, then drop the lookup entry" loop shape, with recency
// order swapped for address order since read-cache eviction advances a head
// pointer over a ring rather than evicting the least-recently-touched key.
package readcache

import (
	"context"
	"sync"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/address"
	"github.com/sharedcode/hlogcache/hashindex"
	"github.com/sharedcode/hlogcache/locktable"
)

// Record is one read-cache entry: a header plus a copy of the key and value
// found below HeadAddress of the hybrid log.
type Record[TK comparable, TV any] struct {
	Info  address.RecordInfo
	Key   TK
	Value TV
}

// Ring is the read-cache address space for one store instance.
type Ring[TK comparable, TV any] struct {
	mu   sync.Mutex
	head uint64
	tail uint64

	records map[uint64]*Record[TK, TV]

	// reverseLinks maps a read-cache address to the in-memory record whose
	// PreviousAddress currently points at it, so the eviction sweep can
	// rewrite that successor's link without rewalking the whole chain
	// (spec §4.4 step 3).
	reverseLinks map[address.Address]*address.RecordInfo

	// headEntries maps a read-cache address to the bucket entry currently
	// referencing it as a chain head, registered by the engine right after
	// a successful splice CAS (spec §4.4 step 1).
	headEntries map[address.Address]*hashindex.Entry
}

// New creates an empty read-cache ring. Offset 0 is reserved so a real
// allocated address is never numerically equal to address.Invalid, mirroring
// hlog's ring.
func New[TK comparable, TV any]() *Ring[TK, TV] {
	return &Ring[TK, TV]{
		head:         1,
		tail:         1,
		records:      make(map[uint64]*Record[TK, TV]),
		reverseLinks: make(map[address.Address]*address.RecordInfo),
		headEntries:  make(map[address.Address]*hashindex.Entry),
	}
}

// HeadAddress returns the oldest read-cache offset still resident.
func (r *Ring[TK, TV]) HeadAddress() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head
}

// TailAddress returns the next offset that Append will allocate.
func (r *Ring[TK, TV]) TailAddress() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tail
}

// Append installs a new read-cache record chained onto prev and returns its
// address. If prev is itself a read-cache address, the new record is
// registered as prev's successor so the eviction sweep can bypass prev
// later without a chain rewalk.
func (r *Ring[TK, TV]) Append(key TK, value TV, prev address.Address) (address.Address, *Record[TK, TV]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offset := r.tail
	r.tail++
	addr := address.NewReadCacheAddress(offset)
	rec := &Record[TK, TV]{Info: address.Pack(prev, false), Key: key, Value: value}
	r.records[offset] = rec
	if prev.IsReadCache() {
		r.reverseLinks[prev] = &rec.Info
	}
	return addr, rec
}

// Get returns the record at addr, if still resident.
func (r *Ring[TK, TV]) Get(addr address.Address) (*Record[TK, TV], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[addr.Offset()]
	return rec, ok
}

// RegisterHead records that entry currently references addr as a chain
// head, called by the engine immediately after the splice CAS that
// published addr succeeds.
func (r *Ring[TK, TV]) RegisterHead(addr address.Address, entry *hashindex.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headEntries[addr] = entry
}

// evicted captures what Evict found for one offset, for the parallel
// lock-transfer pass.
type evicted[TK comparable] struct {
	key  TK
	lock address.LockSnapshot
}

// Evict advances HeadAddress to newHead, out-splicing every record in
// [head, newHead) from its chain before reclaiming it (spec §4.4).
//
// Records are walked in ascending address order so that, by the time a
// record p is evicted, any record whose PreviousAddress pointed at p has
// already been discovered via reverseLinks and rewritten — this is the same
// "evict from one end, fix up, advance" loop the teacher's mru.evict uses,
// just keyed by address instead of recency.
func (r *Ring[TK, TV]) Evict(ctx context.Context, newHead uint64, lt *locktable.Table[TK]) error {
	r.mu.Lock()
	if newHead <= r.head {
		r.mu.Unlock()
		return nil
	}
	from, to := r.head, newHead
	r.head = newHead

	var toTransfer []evicted[TK]
	for offset := from; offset < to; offset++ {
		rec, ok := r.records[offset]
		if !ok {
			continue
		}
		addr := address.NewReadCacheAddress(offset)
		nextAfter := rec.Info.PreviousAddress()

		if succ, ok := r.reverseLinks[addr]; ok {
			succ.CASPreviousAddress(addr, nextAfter)
			if nextAfter.IsReadCache() {
				r.reverseLinks[nextAfter] = succ
			}
			delete(r.reverseLinks, addr)
		} else if entry, ok := r.headEntries[addr]; ok {
			cur := entry.Load()
			if cur.Address == addr {
				entry.CAS(cur, hashindex.Value{Address: nextAfter, Tag: cur.Tag, Occupied: true})
			}
			delete(r.headEntries, addr)
		}

		if rec.Info.HasAnyLock() {
			toTransfer = append(toTransfer, evicted[TK]{key: rec.Key, lock: rec.Info.SnapshotLock()})
			rec.Info.ClearLock()
		}
		delete(r.records, offset)
	}
	r.mu.Unlock()

	if len(toTransfer) == 0 {
		return nil
	}
	tr := hlogcache.NewTaskRunner(ctx, 8)
	for _, e := range toTransfer {
		e := e
		tr.Go(func() error {
			lt.AbsorbFromRecord(e.key, e.lock)
			return nil
		})
	}
	return tr.Wait()
}

// Len reports how many read-cache records are currently resident.
func (r *Ring[TK, TV]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
