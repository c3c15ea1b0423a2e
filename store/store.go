// Package store implements the Session API of spec §6: the facade a caller
// (and the excluded CLI/config layer) actually programs against, composing
// one engine.Engine with the session-scoped lock-ownership rule SPEC_FULL
// §4 adds on top of the distilled spec's bare Lock/Unlock description.
//
// Kept out of the root hlogcache package to avoid an import cycle: engine
// already imports root hlogcache for Status/Error, so the facade that sits
// on top of engine cannot also live where engine imports from. Grounded on
// the teacher's in_red_ck package, which plays the identical role — a
// transaction-and-repositories facade built on top of the teacher's own
// root sop package of shared vocabulary (sop.StoreInfo, sop.Handle, ...).
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/checkpoint"
	"github.com/sharedcode/hlogcache/config"
	"github.com/sharedcode/hlogcache/engine"
	"github.com/sharedcode/hlogcache/hashindex"
	"github.com/sharedcode/hlogcache/hlog"
)

// sizeFromConfig derives a bucket count and read-cache capacity from the
// bit-sized settings of spec §6. Each MemorySizeBits step doubles capacity;
// PageSizeBits is folded in as the per-bucket/per-page granularity the
// teacher's config.go leaves to the caller to interpret, since spec §6 names
// the fields but not a sizing formula. Rounded to reasonable bounds so a
// degenerate Configuration (zero value) still produces a usable store.
func sizeFromConfig(cfg config.Configuration) (numBuckets, readCacheCapacity int) {
	numBuckets = 1 << clampBits(cfg.Log.MemorySizeBits-cfg.Log.PageSizeBits, 4, 20)
	if cfg.Log.ReadCacheSettings.Enabled() {
		readCacheCapacity = 1 << clampBits(cfg.Log.ReadCacheSettings.MemorySizeBits-cfg.Log.ReadCacheSettings.PageSizeBits, 4, 20)
	}
	return numBuckets, readCacheCapacity
}

func clampBits(bits, min, max int) int {
	if bits < min {
		return min
	}
	if bits > max {
		return max
	}
	return bits
}

// Store owns one engine and the bookkeeping Checkpoint needs across the
// sessions currently open against it.
type Store[TK comparable, TV any] struct {
	eng    *engine.Engine[TK, TV]
	cfg    config.Configuration
	hashFn hashindex.HashFunc[TK]

	mu       sync.Mutex
	sessions map[hlogcache.UUID]*Session[TK, TV]
	healthy  bool
}

// New creates a Store backed by device, sized per cfg (spec §6's
// Configuration). A nil codec falls back to the engine's default JSON codec.
func New[TK comparable, TV any](device hlog.Device, codec hlog.Codec[TK, TV], hashFn hashindex.HashFunc[TK], cfg config.Configuration) *Store[TK, TV] {
	numBuckets, rcCap := sizeFromConfig(cfg)
	return &Store[TK, TV]{
		eng:      engine.New[TK, TV](device, codec, hashFn, numBuckets, rcCap),
		cfg:      cfg,
		hashFn:   hashFn,
		sessions: make(map[hlogcache.UUID]*Session[TK, TV]),
		healthy:  true,
	}
}

// Healthy reports whether the store still accepts mutations. A fatal error
// (spec §7: invalid checkpoint, device I/O failure, chain invariant
// violation) latches this false; Read remains available regardless.
func (st *Store[TK, TV]) Healthy() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.healthy
}

func (st *Store[TK, TV]) markUnhealthy(err error) {
	var herr hlogcache.Error
	if !asHlogcacheError(err, &herr) {
		return
	}
	switch herr.Code {
	case hlogcache.InvalidCheckpoint, hlogcache.DeviceIOFailure, hlogcache.ChainInvariantViolation:
		st.mu.Lock()
		st.healthy = false
		st.mu.Unlock()
	}
}

func asHlogcacheError(err error, target *hlogcache.Error) bool {
	for err != nil {
		if herr, ok := err.(hlogcache.Error); ok {
			*target = herr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// StartSession opens a new named session. Sessions are lightweight: they
// exist to scope manual Lock/Unlock pairs (SPEC_FULL §4) and to be named in
// a checkpoint's active-exclusions list.
func (st *Store[TK, TV]) StartSession(name string) *Session[TK, TV] {
	s := &Session[TK, TV]{
		id:    hlogcache.NewUUID(),
		name:  name,
		store: st,
		locks: make(map[TK]engine.LockMode),
	}
	st.mu.Lock()
	st.sessions[s.id] = s
	st.mu.Unlock()
	return s
}

// EndSession removes s from the store's session bookkeeping. It does not
// release any locks s still holds; callers must Unlock everything first, or
// those locks remain latched until a future reader evicts and transfers them
// to the overflow lock table with no session left to release them.
func (st *Store[TK, TV]) EndSession(s *Session[TK, TV]) {
	st.mu.Lock()
	delete(st.sessions, s.id)
	st.mu.Unlock()
}

// Checkpoint captures the store's current region boundaries and every open
// session's held locks into a persistable blob (spec §6). snapshot selects
// whether this is a snapshot-mode checkpoint (SnapshotFinalLogicalAddress
// populated) or a fold-over (delta) checkpoint.
func (st *Store[TK, TV]) Checkpoint(snapshot bool) *checkpoint.Checkpoint {
	regions := st.eng.Log()
	st.mu.Lock()
	sessions := make([]checkpoint.Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s.snapshotLocks())
	}
	st.mu.Unlock()

	c := &checkpoint.Checkpoint{
		Guid:                  hlogcache.NewUUID(),
		Snapshot:              snapshot,
		Version:               1,
		NextVersion:           2,
		FlushedLogicalAddress: regions.HeadAddress(),
		StartLogicalAddress:   regions.BeginAddress(),
		FinalLogicalAddress:   regions.TailAddress(),
		HeadAddress:           regions.HeadAddress(),
		BeginAddress:          regions.BeginAddress(),
		ManualLockingActive:   len(sessions) > 0,
		Sessions:              sessions,
	}
	if snapshot {
		c.SnapshotFinalLogicalAddress = regions.TailAddress()
	}
	return c
}

// Engine exposes the underlying engine for callers that need direct access
// (the eviction-sweep and pending-I/O policy spec §3 leaves to the caller).
func (st *Store[TK, TV]) Engine() *engine.Engine[TK, TV] { return st.eng }

// Session is one caller's handle onto a Store, implementing the Session API
// of spec §6 plus the session-scoped lock-ownership enforcement SPEC_FULL §4
// adds: once a session holds any manual lock, every Read/Upsert/RMW/Delete it
// issues must target a key that session itself has locked. This mirrors spec
// §6's "enforces no concurrent owned-operations in the same session" — a
// session mid manual-locking scope cannot reach past it to touch an
// unrelated key without acquiring a lock on it first.
type Session[TK comparable, TV any] struct {
	id    hlogcache.UUID
	name  string
	store *Store[TK, TV]

	mu         sync.Mutex
	generation uint64
	locks      map[TK]engine.LockMode
}

// ID returns the session's identity, the same value recorded in a
// checkpoint's session list.
func (s *Session[TK, TV]) ID() hlogcache.UUID { return s.id }

// Name returns the session's caller-assigned name.
func (s *Session[TK, TV]) Name() string { return s.name }

func (s *Session[TK, TV]) checkOwnedScope(key TK) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.locks) == 0 {
		return nil
	}
	if _, ok := s.locks[key]; ok {
		return nil
	}
	return hlogcache.NewError(hlogcache.ConcurrentOwnedOperation, nil, key)
}

func (s *Session[TK, TV]) snapshotLocks() checkpoint.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := checkpoint.Session{
		SessionID:   s.id,
		SessionName: s.name,
		UntilSerial: int64(s.generation),
		Exclusions:  make([]uint64, 0, len(s.locks)),
	}
	for key := range s.locks {
		cs.Exclusions = append(cs.Exclusions, s.store.hashFn(key))
	}
	return cs
}

// Read resolves key through the engine, enforcing the session's lock scope
// first. Of flags, only ResetModifiedBit is honored; DisableReadCacheUpdates,
// DisableReadCacheReads, CopyReadsToTail and CopyFromDeviceOnly are ignored.
func (s *Session[TK, TV]) Read(ctx context.Context, key TK, flags config.ReadFlags) (TV, hlogcache.Status, error) {
	var zero TV
	if err := s.checkOwnedScope(key); err != nil {
		return zero, hlogcache.StatusNotFound, err
	}
	value, status, err := s.store.eng.Read(ctx, key, engine.ReadFlags{ResetModifiedBit: flags.ResetModifiedBit})
	if err != nil {
		s.store.markUnhealthy(err)
	}
	return value, status, err
}

// Upsert installs value for key, refusing if the store is unhealthy or key
// falls outside the session's current lock scope.
func (s *Session[TK, TV]) Upsert(ctx context.Context, key TK, value TV) (hlogcache.Status, error) {
	if !s.store.Healthy() {
		return hlogcache.StatusNotFound, hlogcache.NewError(hlogcache.DeviceIOFailure, fmt.Errorf("store is unhealthy"), key)
	}
	if err := s.checkOwnedScope(key); err != nil {
		return hlogcache.StatusNotFound, err
	}
	status, err := s.store.eng.Upsert(ctx, key, value)
	if err != nil {
		s.store.markUnhealthy(err)
	}
	return status, err
}

// RMW runs a read-modify-write against key, same preconditions as Upsert.
func (s *Session[TK, TV]) RMW(ctx context.Context, key TK, initial hlogcache.InitialUpdater[TV], copyFn hlogcache.CopyUpdater[TV], inPlace hlogcache.InPlaceUpdater[TV]) (hlogcache.Status, error) {
	if !s.store.Healthy() {
		return hlogcache.StatusNotFound, hlogcache.NewError(hlogcache.DeviceIOFailure, fmt.Errorf("store is unhealthy"), key)
	}
	if err := s.checkOwnedScope(key); err != nil {
		return hlogcache.StatusNotFound, err
	}
	status, err := s.store.eng.RMW(ctx, key, initial, copyFn, inPlace)
	if err != nil {
		s.store.markUnhealthy(err)
	}
	return status, err
}

// Delete appends a tombstone for key, same preconditions as Upsert.
func (s *Session[TK, TV]) Delete(ctx context.Context, key TK) (hlogcache.Status, error) {
	if !s.store.Healthy() {
		return hlogcache.StatusNotFound, hlogcache.NewError(hlogcache.DeviceIOFailure, fmt.Errorf("store is unhealthy"), key)
	}
	if err := s.checkOwnedScope(key); err != nil {
		return hlogcache.StatusNotFound, err
	}
	status, err := s.store.eng.Delete(ctx, key)
	if err != nil {
		s.store.markUnhealthy(err)
	}
	return status, err
}

// Lock enters (or extends) this session's manual-locking scope on key. Once
// any lock is held, Read/Upsert/RMW/Delete for any other key are rejected
// with a ConcurrentOwnedOperation error until that other key is itself locked.
func (s *Session[TK, TV]) Lock(ctx context.Context, key TK, mode engine.LockMode) error {
	if err := s.store.eng.Lock(ctx, key, mode); err != nil {
		return err
	}
	s.mu.Lock()
	s.locks[key] = mode
	s.generation++
	s.mu.Unlock()
	return nil
}

// Unlock releases a lock this session took with Lock, narrowing its scope.
func (s *Session[TK, TV]) Unlock(ctx context.Context, key TK, mode engine.LockMode) error {
	if err := s.store.eng.Unlock(ctx, key, mode); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.locks, key)
	s.generation++
	s.mu.Unlock()
	return nil
}

// ReadAsync behaves like Read but never blocks on Device; a record below
// HeadAddress is reported Pending with an AsyncIOContext the caller resolves
// via CompletePendingWithOutputs.
func (s *Session[TK, TV]) ReadAsync(key TK) (TV, hlogcache.Status, *engine.AsyncIOContext[TK, TV], error) {
	var zero TV
	if err := s.checkOwnedScope(key); err != nil {
		return zero, hlogcache.StatusNotFound, nil, err
	}
	return s.store.eng.ReadAsync(key)
}

// CompletePendingWithOutputs drains a batch of pending reads, splicing
// read-cache copies for every one that resolved (spec §6).
func (s *Session[TK, TV]) CompletePendingWithOutputs(ctx context.Context, pending []*engine.AsyncIOContext[TK, TV]) ([]engine.PendingResult[TK, TV], error) {
	return s.store.eng.CompletePendingWithOutputs(ctx, pending)
}
