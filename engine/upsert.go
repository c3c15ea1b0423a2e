package engine

import (
	"context"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/address"
)

// Upsert unconditionally installs value for key, superseding whatever was
// there before. Upsert never checks prior occupancy, and there is no option
// that makes it do so.
func (e *Engine[TK, TV]) Upsert(ctx context.Context, key TK, value TV) (hlogcache.Status, error) {
	_, appended, err := e.rcu(ctx, key, func(found bool, _ TV, _ *TV, _ bool, _ *address.RecordInfo) (TV, bool, bool, error) {
		return value, false, false, nil
	})
	if err != nil {
		return hlogcache.StatusNotFound, err
	}
	if appended {
		return hlogcache.StatusUpserted, nil
	}
	return hlogcache.StatusNotFound, nil
}
