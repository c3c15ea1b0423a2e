package engine

import (
	"context"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/address"
	"github.com/sharedcode/hlogcache/hlog"
	"github.com/sharedcode/hlogcache/metrics"
)

// ReadFlags controls post-read bookkeeping (SPEC_FULL §4).
type ReadFlags struct {
	// ResetModifiedBit clears the checkpoint dirty bit on the record found,
	// once the caller has durably observed it (e.g. after shipping it to a
	// replica).
	ResetModifiedBit bool
}

// Read resolves key to its current value, walking the in-memory prefix and
// falling through to Device for anything below HeadAddress. A read
// that resolves on disk splices a read-cache copy in front of the chain
// before returning (spec §4.1, §4.3).
func (e *Engine[TK, TV]) Read(ctx context.Context, key TK, flags ReadFlags) (TV, hlogcache.Status, error) {
	var zero TV
	guard := e.ep.Protect()
	defer guard.Unprotect()

	res, _, head, err := e.walk(key)
	for err == errRetryNow {
		if err := ctx.Err(); err != nil {
			return zero, hlogcache.StatusNotFound, err
		}
		res, _, head, err = e.walk(key)
	}
	if err != nil {
		return zero, hlogcache.StatusNotFound, err
	}

	switch res.state {
	case walkFound:
		if res.info.IsTombstone() {
			return zero, hlogcache.StatusNotFound, nil
		}
		if flags.ResetModifiedBit {
			res.info.ResetModified()
		}
		return res.value, hlogcache.StatusFound, nil
	case walkNotFound:
		return zero, hlogcache.StatusNotFound, nil
	}

	value, found, err := e.readFromDiskChain(ctx, key, res.diskBoundary)
	if err != nil {
		return zero, hlogcache.StatusNotFound, err
	}
	if !found {
		return zero, hlogcache.StatusNotFound, nil
	}

	e.spliceReadCacheCopy(key, value, head)
	e.maybeEvictReadCache(ctx)
	return value, hlogcache.StatusFound, nil
}

// readFromDiskChain walks the on-disk portion of the chain starting at
// boundary, hopping across key collisions (records sharing a tag but not
// the key) until it finds key, a tombstone for key, or an Invalid
// terminator.
func (e *Engine[TK, TV]) readFromDiskChain(ctx context.Context, key TK, boundary address.Address) (TV, bool, error) {
	var zero TV
	addr := boundary
	for {
		if addr.IsInvalid() {
			return zero, false, nil
		}
		dr, err := e.log.ReadFromDevice(ctx, addr)
		if err != nil {
			if err == hlog.ErrNotOnDevice {
				return zero, false, nil
			}
			return zero, false, err
		}
		if dr.Key == key {
			if dr.Tombstone {
				return zero, false, nil
			}
			return dr.Value, true, nil
		}
		addr = dr.Previous
	}
}

// spliceReadCacheCopy installs a new read-cache record for key at the true
// head of its bucket chain (head is always bucket-entry-rooted; see walk's
// doc comment), with PreviousAddress set to whatever the bucket entry held
// at the start of this walk — a lock-free stack push, not a predecessor
// rewrite. A lost CAS race (a concurrent writer or another disk-resolved
// read got there first) just means the splice is skipped; the read itself
// already succeeded.
//
// If key carries a lock parked in the overflow lock table (because it was
// locked while no in-memory record existed for it, or because its prior
// resident record was evicted while locked), that lock is drained and
// applied to the new record before the splice publishes it, so the lock is
// never visible as absent for the instant between splice and transfer
// (spec §4.5, lock-table-to-read-cache direction). If the splice CAS is then
// lost, the lock is moved back into the lock table, since the new record is
// unreachable.
func (e *Engine[TK, TV]) spliceReadCacheCopy(key TK, value TV, head spliceSite[TK]) {
	newAddr, rec := e.rc.Append(key, value, head.currentTarget())
	snap := e.lt.DrainToRecord(key)
	locked := snap.Exclusive || snap.SharedCount > 0
	if locked {
		rec.Info.ApplyLock(snap)
		metrics.LockTableSize.Set(float64(e.lt.Count()))
	}
	if !head.install(newAddr) {
		if locked {
			rec.Info.ClearLock()
			e.lt.AbsorbFromRecord(key, snap)
			metrics.LockTableSize.Set(float64(e.lt.Count()))
		}
		return
	}
	e.rc.RegisterHead(newAddr, head.entry)
}
