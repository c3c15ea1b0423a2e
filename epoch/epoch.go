// Package epoch implements the epoch-based reclamation the engine uses to
// decide when it is safe to physically drop evicted hybrid-log pages and
// read-cache records, and when a checkpoint has observed every session at a
// consistent point (spec §3, §7). Go's garbage collector makes use-after-
// free impossible on its own, but the ring buffers in hlog and readcache
// reuse address space and free-list entries as soon as eviction runs; a
// goroutine mid-chain-walk must still be guaranteed to finish before that
// reuse becomes visible, which is exactly what protect/drain coordinates.
//
// No repo in the pack implements RCU-style epoch reclamation or ships a
// library for it, so this package is built on stdlib synchronization
// primitives alone (see DESIGN.md).
package epoch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sharedcode/hlogcache"
)

const unprotected = 0

// Epoch tracks a monotonically increasing global epoch counter and the set
// of threads (goroutines) currently protected within some epoch.
type Epoch struct {
	current atomic.Uint64

	mu    sync.Mutex
	slots []*atomic.Uint64

	cbMu      sync.Mutex
	callbacks map[uint64][]func()
}

// New creates an Epoch starting at generation 1; 0 is reserved to mean
// "unprotected".
func New() *Epoch {
	e := &Epoch{callbacks: make(map[uint64][]func())}
	e.current.Store(1)
	return e
}

// Current returns the current global epoch.
func (e *Epoch) Current() uint64 {
	return e.current.Load()
}

// Guard represents one goroutine's protection of the epoch it entered.
type Guard struct {
	e    *Epoch
	slot *atomic.Uint64
}

// Protect marks the calling goroutine as active within the current epoch.
// Callers must hold the returned Guard for the duration of any traversal
// that touches addresses which could be concurrently evicted, and call
// Unprotect when done.
func (e *Epoch) Protect() *Guard {
	slot := e.acquireSlot()
	slot.Store(e.current.Load())
	return &Guard{e: e, slot: slot}
}

// Refresh re-stamps the guard with the latest epoch, used by long-running
// traversals (a chain walk spanning many records) so they don't hold back
// reclamation at a stale epoch for longer than necessary.
func (g *Guard) Refresh() {
	g.slot.Store(g.e.current.Load())
}

// Unprotect releases the guard, returning its slot to the free pool.
func (g *Guard) Unprotect() {
	g.slot.Store(unprotected)
}

func (e *Epoch) acquireSlot() *atomic.Uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.slots {
		if s.CompareAndSwap(unprotected, e.current.Load()) {
			return s
		}
	}
	s := &atomic.Uint64{}
	s.Store(e.current.Load())
	e.slots = append(e.slots, s)
	return s
}

// safeToReclaim returns the highest epoch E such that every currently
// protected slot is >= E, i.e. no in-flight traversal started before E.
// An unprotected slot (0) does not constrain the result.
func (e *Epoch) safeToReclaim() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	safe := e.current.Load()
	for _, s := range e.slots {
		v := s.Load()
		if v != unprotected && v < safe {
			safe = v
		}
	}
	return safe
}

// Bump advances the global epoch by one and fires any reclaim callbacks
// that are now safe to run, returning the new epoch.
func (e *Epoch) Bump() uint64 {
	next := e.current.Add(1)
	e.runDueCallbacks()
	return next
}

// OnSafeToReclaim registers cb to run once no protected slot holds an
// epoch earlier than epoch, i.e. once every traversal active when the
// caller observed epoch has since exited. Used by the engine's read-cache
// eviction to defer releasing ring-buffer slots until it is safe.
func (e *Epoch) OnSafeToReclaim(epoch uint64, cb func()) {
	if epoch <= e.safeToReclaim() {
		cb()
		return
	}
	e.cbMu.Lock()
	e.callbacks[epoch] = append(e.callbacks[epoch], cb)
	e.cbMu.Unlock()
}

func (e *Epoch) runDueCallbacks() {
	safe := e.safeToReclaim()
	e.cbMu.Lock()
	var due []func()
	for epoch, cbs := range e.callbacks {
		if epoch <= safe {
			due = append(due, cbs...)
			delete(e.callbacks, epoch)
		}
	}
	e.cbMu.Unlock()
	for _, cb := range due {
		cb()
	}
}

// Drain blocks, bumping the epoch and backing off, until epoch is safe to
// reclaim or ctx is canceled.
func (e *Epoch) Drain(ctx context.Context, epoch uint64) error {
	for {
		if epoch <= e.safeToReclaim() {
			return nil
		}
		e.Bump()
		if epoch <= e.safeToReclaim() {
			return nil
		}
		hlogcache.RandomSleep(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
