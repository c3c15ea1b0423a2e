package engine

import (
	"context"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/address"
	"github.com/sharedcode/hlogcache/locktable"
	"github.com/sharedcode/hlogcache/metrics"
)

// LockMode selects between the single-writer and multi-reader halves of the
// lock table's single-exclusive-or-N-shared invariant (spec §3, external
// interface §6).
type LockMode int

const (
	LockExclusive LockMode = iota
	LockShared
)

// Lock takes a session-scoped lock on key in the requested mode, blocking
// conflicting operations against it until Unlock (SPEC_FULL §4). If a record
// for key is currently resident, the lock is taken in-line on it; otherwise
// it is tracked in the overflow lock table until a record shows up.
func (e *Engine[TK, TV]) Lock(ctx context.Context, key TK, mode LockMode) error {
	guard := e.ep.Protect()
	defer guard.Unprotect()

	res, _, _, err := e.walk(key)
	for err == errRetryNow {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		res, _, _, err = e.walk(key)
	}
	if err != nil {
		return err
	}
	if res.state == walkFound {
		if tryLock(res.info, mode) {
			return nil
		}
		return hlogcache.NewError(hlogcache.ConcurrentOwnedOperation, nil, key)
	}
	if tryLockOverflow(e.lt, key, mode) {
		metrics.LockTableSize.Set(float64(e.lt.Count()))
		return nil
	}
	return hlogcache.NewError(hlogcache.ConcurrentOwnedOperation, nil, key)
}

// Unlock releases a lock previously taken with Lock in the same mode. It
// checks both the in-line and overflow locations since the record may have
// moved between them (e.g. evicted from the read cache) while the lock was
// held.
func (e *Engine[TK, TV]) Unlock(ctx context.Context, key TK, mode LockMode) error {
	guard := e.ep.Protect()
	defer guard.Unprotect()

	res, _, _, err := e.walk(key)
	for err == errRetryNow {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		res, _, _, err = e.walk(key)
	}
	if err != nil {
		return err
	}
	if res.state == walkFound && recordHoldsLock(res.info, mode) {
		unlock(res.info, mode)
		return nil
	}
	unlockOverflow(e.lt, key, mode)
	metrics.LockTableSize.Set(float64(e.lt.Count()))
	return nil
}

func tryLock(info *address.RecordInfo, mode LockMode) bool {
	if mode == LockShared {
		return info.TryLockShared()
	}
	return info.TryLockExclusive()
}

func recordHoldsLock(info *address.RecordInfo, mode LockMode) bool {
	if mode == LockShared {
		return info.SharedLockCount() > 0
	}
	return info.IsExclusivelyLocked()
}

func unlock(info *address.RecordInfo, mode LockMode) {
	if mode == LockShared {
		info.UnlockShared()
		return
	}
	info.UnlockExclusive()
}

func tryLockOverflow[TK comparable](lt *locktable.Table[TK], key TK, mode LockMode) bool {
	if mode == LockShared {
		return lt.TryLockShared(key)
	}
	return lt.TryLockExclusive(key)
}

func unlockOverflow[TK comparable](lt *locktable.Table[TK], key TK, mode LockMode) {
	if mode == LockShared {
		lt.UnlockShared(key)
		return
	}
	lt.UnlockExclusive(key)
}
