// Package locktable implements the overflow lock table (spec §3, §4.5): a
// map keyed by user key that holds a record's lock state whenever that
// state cannot be kept in-line on the record itself, most commonly because
// the record was just evicted from the read cache or because a lock was
// requested before any record for the key existed in memory.
//
// Grounded on the teacher's Redis-backed distributed locker (redis/locker.go):
// same Lock/Unlock/IsLocked shape, reworked from a cross-process Redis key
// into an in-process map entry guarded by a mutex, since lock-transfer here
// is a chain-splicing concern, not a replicated-cache one.
package locktable

import (
	"sync"

	"github.com/sharedcode/hlogcache/address"
)

// state tracks a key's lock in the overflow table, mirroring the same
// exclusive/shared-count shape RecordInfo packs in-line.
type state struct {
	exclusive   bool
	sharedCount int
}

// Table is the lock-table overflow map for keys of type TK.
type Table[TK comparable] struct {
	mu      sync.Mutex
	entries map[TK]*state
}

// New creates an empty lock table.
func New[TK comparable]() *Table[TK] {
	return &Table[TK]{entries: make(map[TK]*state)}
}

// TryLockExclusive attempts to take an exclusive lock on key, failing if any
// lock (shared or exclusive) is already held, per the single-exclusive-or-N-shared
// invariant shared with RecordInfo's in-line lock bits.
func (t *Table[TK]) TryLockExclusive(key TK) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.entries[key]
	if s != nil && (s.exclusive || s.sharedCount > 0) {
		return false
	}
	t.entries[key] = &state{exclusive: true}
	return true
}

// UnlockExclusive releases an exclusive lock previously taken on key.
func (t *Table[TK]) UnlockExclusive(key TK) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.entries[key]; s != nil && s.exclusive {
		delete(t.entries, key)
	}
}

// TryLockShared attempts to add a shared lock on key, failing if an
// exclusive lock is already held.
func (t *Table[TK]) TryLockShared(key TK) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.entries[key]
	if s != nil && s.exclusive {
		return false
	}
	if s == nil {
		s = &state{}
		t.entries[key] = s
	}
	s.sharedCount++
	return true
}

// UnlockShared releases one shared lock on key, removing the entry once the
// count reaches zero.
func (t *Table[TK]) UnlockShared(key TK) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.entries[key]
	if s == nil || s.exclusive || s.sharedCount == 0 {
		return
	}
	s.sharedCount--
	if s.sharedCount == 0 {
		delete(t.entries, key)
	}
}

// IsLocked reports whether key currently carries any lock, and its snapshot.
func (t *Table[TK]) IsLocked(key TK) (address.LockSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.entries[key]
	if s == nil {
		return address.LockSnapshot{}, false
	}
	return address.LockSnapshot{Exclusive: s.exclusive, SharedCount: s.sharedCount}, true
}

// AbsorbFromRecord moves a record's in-line lock state into the overflow
// table, used when a record carrying live locks is about to be evicted from
// the read cache (spec §4.5, read-cache-to-lock-table direction). It is a
// merge, not a replace: a concurrent locker may already hold an entry for
// this key.
func (t *Table[TK]) AbsorbFromRecord(key TK, snap address.LockSnapshot) {
	if !snap.Exclusive && snap.SharedCount == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.entries[key]
	if s == nil {
		s = &state{}
		t.entries[key] = s
	}
	if snap.Exclusive {
		s.exclusive = true
	}
	s.sharedCount += snap.SharedCount
}

// DrainToRecord removes key's overflow lock state entirely and returns it as
// a snapshot the caller can apply to a record's in-line lock bits, used when
// a record for that key is spliced back into memory (spec §4.5, lock-table-
// to-read-cache direction).
func (t *Table[TK]) DrainToRecord(key TK) address.LockSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.entries[key]
	if s == nil {
		return address.LockSnapshot{}
	}
	delete(t.entries, key)
	return address.LockSnapshot{Exclusive: s.exclusive, SharedCount: s.sharedCount}
}

// Count reports the number of keys currently tracked in the overflow table.
func (t *Table[TK]) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
