// Package hashindex implements the hash bucket array that anchors every
// key's chain (spec §3, §4.1): {Address, Tag, ReadCacheBit, Tentative}
// entries, scanned by folded-hash tag and updated with a single CAS per
// splice.
package hashindex

import (
	"sync/atomic"
	"time"

	"github.com/sharedcode/hlogcache/address"
)

// tentativeGraceWindow bounds how long an entry may sit with Tentative set
// before a concurrent walker treats the install as abandoned and reclaims
// the slot (SPEC_FULL §4).
const tentativeGraceWindow = 50 * time.Millisecond

// TagBits is the width of the folded-hash tag stored in each bucket entry.
const TagBits = 14

const (
	entryAddrMask  = uint64(1)<<48 - 1
	entryRCBit     = uint64(1) << 48
	entryTagShift  = 49
	entryTagMask   = uint64(1<<TagBits-1) << entryTagShift
	entryTentative = uint64(1) << 63
)

// Tag is the folded upper bits of a key's 64-bit hash (spec §4.1).
type Tag uint16

// Entry is one hash-bucket slot, packed into a single word so installation
// and invalidation are a single CAS (spec §3, §4.1-§4.3).
type Entry struct {
	word atomic.Uint64

	// tentativeAt is the unix-nanosecond timestamp at which StoreTentative
	// last claimed this slot; zero when the entry is not tentative. It lives
	// outside the packed word since the word has no spare bits for a clock.
	tentativeAt atomic.Int64
}

// Value is the decoded, point-in-time snapshot of an Entry.
type Value struct {
	Address   address.Address
	Tag       Tag
	Tentative bool
	Occupied  bool
}

func decode(w uint64) Value {
	addr := address.NewHLogAddress(w & entryAddrMask)
	if w&entryRCBit != 0 {
		addr = address.NewReadCacheAddress(w & entryAddrMask)
	}
	return Value{
		Address:   addr,
		Tag:       Tag((w & entryTagMask) >> entryTagShift),
		Tentative: w&entryTentative != 0,
		Occupied:  w != 0,
	}
}

func encode(v Value) uint64 {
	w := v.Address.Offset() & entryAddrMask
	if v.Address.IsReadCache() {
		w |= entryRCBit
	}
	w |= (uint64(v.Tag) << entryTagShift) & entryTagMask
	if v.Tentative {
		w |= entryTentative
	}
	return w
}

// Load returns the current decoded value of the entry.
func (e *Entry) Load() Value {
	return decode(e.word.Load())
}

// CAS attempts to replace the entry's content from expect to next, failing
// if the word changed concurrently. This is the single-CAS splice commit
// point required by spec §4.2-§4.4.
func (e *Entry) CAS(expect, next Value) bool {
	return e.word.CompareAndSwap(encode(expect), encode(next))
}

// StoreTentative installs a new tag+address pair with the Tentative bit set,
// used as the first half of a splice into an empty slot (SPEC_FULL §4): the
// CAS that clears Tentative is what actually publishes the entry.
func (e *Entry) StoreTentative(v Value) bool {
	v.Tentative = true
	if !e.word.CompareAndSwap(0, encode(v)) {
		return false
	}
	e.tentativeAt.Store(time.Now().UnixNano())
	return true
}

// Resolve clears the Tentative bit on a value previously installed with
// StoreTentative, the second half of a brand-new-key splice: it publishes v
// (Tentative cleared) once the owning operation has finished constructing
// the record the entry points at.
func (e *Entry) Resolve(v Value) bool {
	tentative := v
	tentative.Tentative = true
	v.Tentative = false
	if !e.word.CompareAndSwap(encode(tentative), encode(v)) {
		return false
	}
	e.tentativeAt.Store(0)
	return true
}

// ClearIfTentative removes a tentative entry that was abandoned (the owning
// operation never resolved it), matching it by tag+address.
func (e *Entry) ClearIfTentative(v Value) bool {
	v.Tentative = true
	if !e.word.CompareAndSwap(encode(v), 0) {
		return false
	}
	e.tentativeAt.Store(0)
	return true
}

// IsAbandoned reports whether this entry has held Tentative longer than the
// grace window, meaning the operation that called StoreTentative is
// presumed gone rather than merely in progress.
func (e *Entry) IsAbandoned() bool {
	at := e.tentativeAt.Load()
	return at != 0 && time.Since(time.Unix(0, at)) > tentativeGraceWindow
}

// IsEmpty reports whether the slot currently holds no entry.
func (e *Entry) IsEmpty() bool {
	return e.word.Load() == 0
}
