// Package engine implements the operation engine: Read, Upsert, RMW, and
// Delete over a hash index plus hybrid log plus read cache plus lock table,
// including the chain-splicing invariants that tie those four structures
// together (spec §4).
//
// Grounded on the teacher's two-phase-commit transaction
// (in_red_ck/two_phase_commit_transaction.go) for its "look up, lock, act,
// unlock, retry-with-backoff-on-conflict" shape, and on fs/registry.go's
// Get/Update pair (cache-then-disk fallthrough, lock-then-write-then-unlock).
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/sharedcode/hlogcache/address"
	"github.com/sharedcode/hlogcache/epoch"
	"github.com/sharedcode/hlogcache/hashindex"
	"github.com/sharedcode/hlogcache/hlog"
	"github.com/sharedcode/hlogcache/locktable"
	"github.com/sharedcode/hlogcache/metrics"
	"github.com/sharedcode/hlogcache/readcache"
)

// errRetryNow signals that a chain-walk step raced an eviction or a
// concurrent splice and must restart from the bucket entry. It never
// escapes the engine package.
var errRetryNow = errors.New("engine: retry now")

// Engine ties together one hash index, one hybrid log, one read-cache ring,
// one lock table, and the epoch under which their mutations are protected.
type Engine[TK comparable, TV any] struct {
	index *hashindex.Index[TK]
	log   *hlog.Log[TK, TV]
	rc    *readcache.Ring[TK, TV]
	lt    *locktable.Table[TK]
	ep    *epoch.Epoch

	mu                sync.Mutex
	readCacheCapacity int
}

// New creates an Engine. readCacheCapacity bounds the read-cache ring's
// resident record count; exceeding it triggers an eviction sweep on the
// next operation that notices (spec §4.4's "some policy decides when to
// evict", left to the caller in spec §3's Non-goals).
func New[TK comparable, TV any](device hlog.Device, codec hlog.Codec[TK, TV], hashFn hashindex.HashFunc[TK], numBuckets, readCacheCapacity int) *Engine[TK, TV] {
	return &Engine[TK, TV]{
		index:             hashindex.New[TK](numBuckets, hashFn),
		log:               hlog.New[TK, TV](device, codec),
		rc:                readcache.New[TK, TV](),
		lt:                locktable.New[TK](),
		ep:                epoch.New(),
		readCacheCapacity: readCacheCapacity,
	}
}

// Log exposes the hybrid log so callers can drive AdvanceReadOnly/AdvanceHead
// policy (spec §3 leaves the policy itself out of scope).
func (e *Engine[TK, TV]) Log() *hlog.Log[TK, TV] { return e.log }

// ReadCache exposes the read-cache ring for the same reason.
func (e *Engine[TK, TV]) ReadCache() *readcache.Ring[TK, TV] { return e.rc }

// LockTable exposes the lock-table overflow map.
func (e *Engine[TK, TV]) LockTable() *locktable.Table[TK] { return e.lt }

// Epoch exposes the epoch, so a caller can Protect() around a batch of
// operations or Drain() before a checkpoint.
func (e *Engine[TK, TV]) Epoch() *epoch.Epoch { return e.ep }

// maybeEvictReadCache triggers an eviction sweep once the ring exceeds its
// configured capacity, evicting its oldest half. Called opportunistically at
// the end of Read/Upsert/RMW/Delete rather than on a background timer, to
// keep the engine's concurrency model free of goroutine lifecycle concerns.
func (e *Engine[TK, TV]) maybeEvictReadCache(ctx context.Context) {
	if e.readCacheCapacity <= 0 || e.rc.Len() <= e.readCacheCapacity {
		return
	}
	head, tail := e.rc.HeadAddress(), e.rc.TailAddress()
	newHead := head + (tail-head)/2
	if newHead <= head {
		return
	}
	epochAtRequest := e.ep.Current()
	beforeLocks := e.lt.Count()
	e.ep.OnSafeToReclaim(epochAtRequest, func() {
		before := e.rc.Len()
		metrics.ReadCacheEvictionSweeps.Inc()
		if err := e.rc.Evict(ctx, newHead, e.lt); err == nil {
			metrics.ReadCacheRecordsEvicted.Add(float64(before - e.rc.Len()))
			metrics.ReadCacheLen.Set(float64(e.rc.Len()))
			if after := e.lt.Count(); after > beforeLocks {
				metrics.LockTransfersToLockTable.Add(float64(after - beforeLocks))
			}
			metrics.LockTableSize.Set(float64(e.lt.Count()))
		}
	})
	e.ep.Bump()
}

// spliceSite names the bucket entry that a new record must CAS-update to
// become reachable from the chain (spec §4.2-§4.4). Every splice — Read's
// disk-resolved cache copy and Upsert/RMW/Delete's appended record alike —
// targets the bucket entry itself; neither ever rewrites a predecessor
// record's PreviousAddress in place.
type spliceSite[TK comparable] struct {
	entry       *hashindex.Entry
	entryExpect hashindex.Value
	newTag      hashindex.Tag // tag to stamp when entry is currently empty; entryExpect.Tag stays 0 to match the zero word
}

// currentTarget returns the address this splice site currently points at,
// i.e. what a newly appended record's PreviousAddress must be to preserve
// the rest of the chain.
func (s spliceSite[TK]) currentTarget() address.Address {
	if !s.entryExpect.Occupied {
		return address.Invalid
	}
	return s.entryExpect.Address
}

func (s spliceSite[TK]) install(newAddr address.Address) bool {
	next := s.entryExpect
	next.Address = newAddr
	next.Occupied = true
	if !s.entryExpect.Occupied {
		// First-ever record for a brand-new key: publish it in two steps
		// (SPEC_FULL §4) so a concurrent walker that observes the entry
		// mid-install sees Tentative set and retries instead of treating a
		// half-published slot as a real record.
		next.Tag = s.newTag
		if !s.entry.StoreTentative(next) {
			return false
		}
		return s.entry.Resolve(next)
	}
	return s.entry.CAS(s.entryExpect, next)
}

type walkState int

const (
	walkNotFound walkState = iota
	walkFound
	walkWentToDisk
)

// walkResult is what chain-walking through the in-memory prefix discovered.
type walkResult[TV any] struct {
	state   walkState
	value   TV
	valRef  *TV                  // set when state == walkFound; points at the live record's Value field
	info    *address.RecordInfo // set when state == walkFound
	inRC    bool
	mutable bool // set when state == walkFound and info is a hybrid-log record in the mutable region

	diskBoundary address.Address // set when state == walkWentToDisk
}

// walk follows key's chain through the read cache and in-memory hybrid log,
// stopping at the first matching key, an Invalid terminator, or the
// boundary below HeadAddress where only Device has the rest of the chain.
//
// Besides the match, it returns two things every caller needs to splice a
// new record in:
//
//   - latestHlog: the first non-RC address reached while descending from
//     the bucket entry — i.e. the address immediately below the chain's
//     entire read-cache prefix, whether or not that prefix is where the
//     match turned up (spec §4.3 step 1). Upsert/RMW/Delete always append
//     their new record with this as PreviousAddress, since the splice that
//     publishes it also clears the bucket's ReadCacheBit and bypasses the
//     whole RC prefix in one CAS (spec §4.3 step 3) — there is no case
//     where a mutate splice lands mid-chain.
//   - head: the bucket entry itself, as loaded at the start of this walk.
//     Read uses this one: a disk-resolved read-cache copy always prepends
//     at the true chain head (a lock-free stack push) with PreviousAddress
//     set to whatever the entry held at walk-start, so concurrently cached
//     copies of other keys sharing this bucket accumulate in the chain
//     instead of displacing each other (spec §4.2, §8 scenario 1). This is
//     also the site Upsert/RMW/Delete CAS, since their splice always
//     targets the bucket entry too — never a predecessor's
//     PreviousAddress.
//
// A live pointer (valRef) into the matched record's Value field lets RMW's
// in-place path mutate the stored value directly rather than a copy.
func (e *Engine[TK, TV]) walk(key TK) (walkResult[TV], address.Address, spliceSite[TK], error) {
	entry := e.index.GetOrCreateEntry(key)
	val := entry.Load()
	if !val.Occupied {
		site := spliceSite[TK]{entry: entry, entryExpect: hashindex.Value{}, newTag: e.index.TagFor(key)}
		return walkResult[TV]{state: walkNotFound}, address.Invalid, site, nil
	}
	if val.Tentative {
		if entry.IsAbandoned() {
			entry.ClearIfTentative(val)
		}
		return walkResult[TV]{}, address.Invalid, spliceSite[TK]{}, errRetryNow
	}
	head := spliceSite[TK]{entry: entry, entryExpect: val}

	// Descend through the read-cache prefix, if any. A match found here
	// does not stop the descent: latestHlog must land below the *entire*
	// prefix regardless of where within it the key turned up, so the scan
	// continues past a hit looking only for the first non-RC address.
	var found *walkResult[TV]
	addr := val.Address
	for addr.IsReadCache() {
		rec, ok := e.rc.Get(addr)
		if !ok {
			return walkResult[TV]{}, address.Invalid, spliceSite[TK]{}, errRetryNow
		}
		if found == nil && rec.Key == key && !rec.Info.IsInvalid() {
			found = &walkResult[TV]{state: walkFound, value: rec.Value, valRef: &rec.Value, info: &rec.Info, inRC: true}
		}
		addr = rec.Info.PreviousAddress()
	}
	latestHlog := addr
	if found != nil {
		return *found, latestHlog, head, nil
	}

	// Past the RC prefix (or there never was one): chain invariant 1
	// guarantees no RC record can appear from here on, so this is a plain
	// in-memory/on-disk hop walk through HLOG records.
	for {
		if addr.IsInvalid() {
			return walkResult[TV]{state: walkNotFound}, latestHlog, head, nil
		}
		if !e.log.IsInMemory(addr.Offset()) {
			return walkResult[TV]{state: walkWentToDisk, diskBoundary: addr}, latestHlog, head, nil
		}
		rec, ok := e.log.Get(addr)
		if !ok {
			return walkResult[TV]{}, address.Invalid, spliceSite[TK]{}, errRetryNow
		}
		if rec.Key == key && !rec.Info.IsInvalid() {
			return walkResult[TV]{
				state:   walkFound,
				value:   rec.Value,
				valRef:  &rec.Value,
				info:    &rec.Info,
				mutable: e.log.IsMutable(addr.Offset()),
			}, latestHlog, head, nil
		}
		addr = rec.Info.PreviousAddress()
	}
}
