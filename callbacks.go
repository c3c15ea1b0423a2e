package hlogcache

// InitialUpdater produces the first value for a key that RMW found nowhere
// in the chain, used instead of CopyUpdater when there is no prior value to
// base the update on.
type InitialUpdater[TV any] func() TV

// CopyUpdater produces a new value from a prior one, used for read-copy-update
// (RCU): the prior record lives in an immutable region (the read cache, or
// the hybrid log's read-only region) and must not be mutated in place.
type CopyUpdater[TV any] func(old TV) TV

// InPlaceUpdater mutates cur in place and reports whether the mutation was
// applied. Only ever invoked on a record in the hybrid log's mutable region,
// where in-place mutation is safe because no concurrent reader can be mid-
// copy of it. Returning false forces the engine to fall back to RCU.
type InPlaceUpdater[TV any] func(cur *TV) bool
