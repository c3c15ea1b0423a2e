package engine

import (
	"context"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/address"
)

// RMW performs a read-modify-write against key, choosing a callback by
// which region (if any) the prior record lives in (SPEC_FULL §4):
//
//   - no prior record anywhere in the chain: initial() supplies the value.
//   - prior record in the hybrid log's mutable region: inPlace() mutates it
//     directly, since no concurrent reader can be mid-copy of a mutable
//     record. If inPlace is nil or declines, copy() is used instead.
//   - prior record in the read cache or the hybrid log's read-only region:
//     copy() derives a new value, appended as a fresh record (RCU), since
//     those regions must never be mutated in place.
//
// A case whose callback (and, for the mutable case, copy() as fallback) is
// nil surfaces as a ChainInvariantViolation.
func (e *Engine[TK, TV]) RMW(ctx context.Context, key TK, initial hlogcache.InitialUpdater[TV], copyFn hlogcache.CopyUpdater[TV], inPlace hlogcache.InPlaceUpdater[TV]) (hlogcache.Status, error) {
	var status hlogcache.Status
	_, _, err := e.rcu(ctx, key, func(found bool, old TV, valRef *TV, mutable bool, info *address.RecordInfo) (TV, bool, bool, error) {
		var zero TV
		switch {
		case !found:
			if initial == nil {
				return zero, false, false, hlogcache.NewError(hlogcache.ChainInvariantViolation, nil, key)
			}
			status = hlogcache.StatusCreated
			return initial(), false, false, nil

		case mutable:
			if inPlace == nil {
				if copyFn == nil {
					return zero, false, false, hlogcache.NewError(hlogcache.ChainInvariantViolation, nil, key)
				}
				status = hlogcache.StatusCopyUpdated
				return copyFn(old), false, false, nil
			}
			if inPlace(valRef) {
				info.SetModified()
				status = hlogcache.StatusInPlaceUpdated
				return zero, false, true, nil
			}
			// InPlaceUpdater declined (e.g. the update would grow a fixed-size
			// value); fall back to RCU.
			if copyFn == nil {
				return zero, false, false, hlogcache.NewError(hlogcache.ChainInvariantViolation, nil, key)
			}
			status = hlogcache.StatusCopyUpdated
			return copyFn(old), false, false, nil

		default:
			if copyFn == nil {
				return zero, false, false, hlogcache.NewError(hlogcache.ChainInvariantViolation, nil, key)
			}
			status = hlogcache.StatusCopyUpdated
			return copyFn(old), false, false, nil
		}
	})
	if err != nil {
		return hlogcache.StatusNotFound, err
	}
	return status, nil
}
