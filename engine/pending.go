package engine

import (
	"context"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/address"
	"github.com/sharedcode/hlogcache/metrics"
)

// AsyncIOContext captures everything CompletePendingWithOutputs needs to
// finish a read that fell below HeadAddress: the device read itself plus
// the chain-splice site discovered before the walk gave up on memory
// (spec §4.6).
type AsyncIOContext[TK comparable, TV any] struct {
	RequestID hlogcache.UUID
	Key       TK

	boundary address.Address
	head     spliceSite[TK]
}

// PendingResult is one completed AsyncIOContext's outcome.
type PendingResult[TK comparable, TV any] struct {
	RequestID hlogcache.UUID
	Key       TK
	Value     TV
	Status    hlogcache.Status
	Err       error
}

// ReadAsync behaves like Read, except that a record resolved below
// HeadAddress is reported as StatusPending with an AsyncIOContext instead
// of being read from Device inline. Callers batch the returned contexts and
// resolve them with CompletePendingWithOutputs.
func (e *Engine[TK, TV]) ReadAsync(key TK) (TV, hlogcache.Status, *AsyncIOContext[TK, TV], error) {
	var zero TV
	guard := e.ep.Protect()
	defer guard.Unprotect()

	res, _, head, err := e.walk(key)
	for err == errRetryNow {
		res, _, head, err = e.walk(key)
	}
	if err != nil {
		return zero, hlogcache.StatusNotFound, nil, err
	}
	switch res.state {
	case walkFound:
		if res.info.IsTombstone() {
			return zero, hlogcache.StatusNotFound, nil, nil
		}
		return res.value, hlogcache.StatusFound, nil, nil
	case walkNotFound:
		return zero, hlogcache.StatusNotFound, nil, nil
	default:
		metrics.PendingIOQueueDepth.Inc()
		return zero, hlogcache.StatusPending, &AsyncIOContext[TK, TV]{
			RequestID: hlogcache.NewUUID(),
			Key:       key,
			boundary:  res.diskBoundary,
			head:      head,
		}, nil
	}
}

// CompletePendingWithOutputs resolves a batch of pending read contexts
// concurrently, splicing a read-cache copy in front of each chain that
// resolved to a live value, the same as the synchronous Read path.
func (e *Engine[TK, TV]) CompletePendingWithOutputs(ctx context.Context, pending []*AsyncIOContext[TK, TV]) ([]PendingResult[TK, TV], error) {
	results := make([]PendingResult[TK, TV], len(pending))
	tr := hlogcache.NewTaskRunner(ctx, 16)
	for i, p := range pending {
		i, p := i, p
		tr.Go(func() error {
			value, found, err := e.readFromDiskChain(ctx, p.Key, p.boundary)
			switch {
			case err != nil:
				results[i] = PendingResult[TK, TV]{RequestID: p.RequestID, Key: p.Key, Status: hlogcache.StatusNotFound, Err: err}
			case !found:
				results[i] = PendingResult[TK, TV]{RequestID: p.RequestID, Key: p.Key, Status: hlogcache.StatusNotFound}
			default:
				e.spliceReadCacheCopy(p.Key, value, p.head)
				results[i] = PendingResult[TK, TV]{RequestID: p.RequestID, Key: p.Key, Value: value, Status: hlogcache.StatusFound}
			}
			return nil
		})
	}
	if err := tr.Wait(); err != nil {
		return results, err
	}
	metrics.PendingIOQueueDepth.Sub(float64(len(pending)))
	e.maybeEvictReadCache(ctx)
	return results, nil
}
