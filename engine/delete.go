package engine

import (
	"context"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/address"
)

// Delete appends a tombstone record for key. A subsequent Read returns
// StatusNotFound once it reaches the tombstone, and a subsequent
// Upsert/RMW simply appends past it, same as for any other prior record.
func (e *Engine[TK, TV]) Delete(ctx context.Context, key TK) (hlogcache.Status, error) {
	var zero TV
	_, appended, err := e.rcu(ctx, key, func(found bool, _ TV, _ *TV, _ bool, _ *address.RecordInfo) (TV, bool, bool, error) {
		return zero, true, false, nil
	})
	if err != nil {
		return hlogcache.StatusNotFound, err
	}
	if appended {
		return hlogcache.StatusDeleted, nil
	}
	return hlogcache.StatusNotFound, nil
}
