// Package hlog implements the hybrid log (HLOG): an append-only paged ring
// split into three logical regions — [BeginAddress, HeadAddress) on disk,
// [HeadAddress, ReadOnlyAddress) immutable in memory, and [ReadOnlyAddress,
// TailAddress) mutable in memory (spec §2, §3).
//
// The ring itself only tracks offsets and the in-memory record set; the
// on-disk region is delegated to a Device, the external collaborator named
// in spec §1.
package hlog

import "sync/atomic"

// Regions tracks the four boundary offsets of a hybrid-log ring. All fields
// are monotonically non-decreasing and are read by readers without a lock;
// only the owning Log advances them.
type Regions struct {
	beginAddress    atomic.Uint64
	headAddress     atomic.Uint64
	readOnlyAddress atomic.Uint64
	tailAddress     atomic.Uint64
}

// newRegions returns a Regions with its boundaries starting at offset 1:
// offset 0 is reserved so that a real allocated address is never numerically
// equal to address.Invalid (the zero Address).
func newRegions() Regions {
	var r Regions
	r.beginAddress.Store(1)
	r.headAddress.Store(1)
	r.readOnlyAddress.Store(1)
	r.tailAddress.Store(1)
	return r
}

// BeginAddress returns the oldest offset still logically present (on disk or in memory).
func (r *Regions) BeginAddress() uint64 { return r.beginAddress.Load() }

// HeadAddress returns the boundary below which records are not directly
// dereferenceable from memory (chain invariant 4, spec §3).
func (r *Regions) HeadAddress() uint64 { return r.headAddress.Load() }

// ReadOnlyAddress returns the boundary between the mutable and immutable
// in-memory regions.
func (r *Regions) ReadOnlyAddress() uint64 { return r.readOnlyAddress.Load() }

// TailAddress returns the next offset to be allocated.
func (r *Regions) TailAddress() uint64 { return r.tailAddress.Load() }

// IsMutable reports whether offset falls in the mutable (post-ReadOnly) region.
func (r *Regions) IsMutable(offset uint64) bool {
	return offset >= r.readOnlyAddress.Load()
}

// IsInMemory reports whether offset is at or above HeadAddress, i.e. directly
// dereferenceable without a disk read.
func (r *Regions) IsInMemory(offset uint64) bool {
	return offset >= r.headAddress.Load()
}

// allocate bumps TailAddress by size and returns the offset allocated.
func (r *Regions) allocate(size uint64) uint64 {
	return r.tailAddress.Add(size) - size
}

// advanceReadOnly moves ReadOnlyAddress forward to newReadOnly, sealing the
// mutable region below it. It is a no-op if newReadOnly does not advance.
func (r *Regions) advanceReadOnly(newReadOnly uint64) bool {
	for {
		old := r.readOnlyAddress.Load()
		if newReadOnly <= old {
			return false
		}
		if r.readOnlyAddress.CompareAndSwap(old, newReadOnly) {
			return true
		}
	}
}

// advanceHead moves HeadAddress forward to newHead, evicting [old, newHead)
// from memory. Returns the previous HeadAddress so the caller can flush and
// drop exactly that range.
func (r *Regions) advanceHead(newHead uint64) (oldHead uint64, advanced bool) {
	for {
		old := r.headAddress.Load()
		if newHead <= old {
			return old, false
		}
		if r.headAddress.CompareAndSwap(old, newHead) {
			return old, true
		}
	}
}

// advanceBegin moves BeginAddress forward, used once a device-level truncation
// has discarded the range below it.
func (r *Regions) advanceBegin(newBegin uint64) bool {
	for {
		old := r.beginAddress.Load()
		if newBegin <= old {
			return false
		}
		if r.beginAddress.CompareAndSwap(old, newBegin) {
			return true
		}
	}
}
