package engine

import (
	"context"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/address"
)

// maxSpliceAttempts bounds the CAS retry loop every mutating operation runs
// before giving up with a ConcurrentOwnedOperation error, the same bound
// spec §7 uses for RETRY_LATER loops.
const maxSpliceAttempts = 64

// compute is invoked once per attempt with what the chain walk found for the
// key. It returns the value to append, whether it is a tombstone, and
// whether to skip the append entirely (used by RMW's in-place path, which
// mutates the found record directly and needs no new chain link).
type compute[TV any] func(found bool, old TV, valRef *TV, mutable bool, info *address.RecordInfo) (newValue TV, tombstone bool, skipAppend bool, err error)

// checkNotLockedByOther rejects a mutation against a key that carries an
// exclusive lock, whether that lock lives in-line on a resident record or in
// the lock-table overflow (SPEC_FULL §4, session-scope lock enforcement).
// Lock owners are not tracked, so the caller's own exclusive lock is
// rejected too.
func (e *Engine[TK, TV]) checkNotLockedByOther(key TK, info *address.RecordInfo) error {
	if info != nil && info.IsExclusivelyLocked() {
		return hlogcache.NewError(hlogcache.ConcurrentOwnedOperation, nil, key)
	}
	if snap, ok := e.lt.IsLocked(key); ok && snap.Exclusive {
		return hlogcache.NewError(hlogcache.ConcurrentOwnedOperation, nil, key)
	}
	return nil
}

// rcu runs a read-copy-update (or, via skipAppend, an in-place update) loop:
// walk the chain, ask compute what to do, and either mutate in place or
// splice a freshly appended record at the bucket entry (the chain head),
// linked to the newest hybrid-log record below any read-cache prefix. It retries
// on a lost CAS race or a raced eviction, up to maxSpliceAttempts.
func (e *Engine[TK, TV]) rcu(ctx context.Context, key TK, fn compute[TV]) (TV, bool, error) {
	var zero TV
	guard := e.ep.Protect()
	defer guard.Unprotect()

	for attempt := 0; attempt < maxSpliceAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}
		res, latestHlog, head, err := e.walk(key)
		if err == errRetryNow {
			continue
		}
		if err != nil {
			return zero, false, err
		}
		found := res.state == walkFound
		if err := e.checkNotLockedByOther(key, res.info); err != nil {
			return zero, false, err
		}

		newValue, tombstone, skip, err := fn(found, res.value, res.valRef, found && res.mutable, res.info)
		if err != nil {
			return zero, false, err
		}
		if skip {
			return newValue, false, nil
		}

		// Every Upsert/RMW/Delete splice installs its new record at the
		// bucket entry itself, with PreviousAddress = latestHlog (below the
		// entire read-cache prefix, if any) — never mid-chain. The single
		// CAS on the entry both publishes the new record and clears the
		// bucket's ReadCacheBit (spec §4.3 step 3).
		newAddr, _ := e.log.Append(key, newValue, tombstone, latestHlog)
		if !head.install(newAddr) {
			continue
		}
		if found && res.inRC {
			res.info.SetInvalid()
		}
		e.maybeEvictReadCache(ctx)
		return newValue, true, nil
	}
	return zero, false, hlogcache.NewError(hlogcache.ConcurrentOwnedOperation, nil, key)
}
