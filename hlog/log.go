package hlog

import (
	"context"
	"sync"

	"github.com/sharedcode/hlogcache/address"
	"github.com/sharedcode/hlogcache/locktable"
)

// Record is one hybrid-log entry: the atomic header plus key and value.
// Records are immutable once appended except for their RecordInfo header
// bits (Invalid/Tombstone/Sealed/lock state) and, for eviction out-splicing,
// the PreviousAddress link.
type Record[TK any, TV any] struct {
	Info  address.RecordInfo
	Key   TK
	Value TV
}

// Log is one hybrid-log ring: region boundaries plus the in-memory record
// set for [HeadAddress, TailAddress). Below HeadAddress, records live only
// on Device.
type Log[TK comparable, TV any] struct {
	Regions

	mu      sync.RWMutex
	records map[uint64]*Record[TK, TV]

	device Device
	codec  Codec[TK, TV]
}

// New creates an empty hybrid log backed by device, using codec to flush
// records once they fall below HeadAddress.
func New[TK comparable, TV any](device Device, codec Codec[TK, TV]) *Log[TK, TV] {
	if codec == nil {
		codec = NewJSONCodec[TK, TV]()
	}
	return &Log[TK, TV]{
		Regions: newRegions(),
		records: make(map[uint64]*Record[TK, TV]),
		device:  device,
		codec:   codec,
	}
}

// Append allocates a new slot at the current tail, installs rec, and returns
// its address. This is step 2 of Upsert/RMW/Delete splice-in (spec §4.3);
// callers still own publishing the address via the hash index CAS.
func (l *Log[TK, TV]) Append(key TK, value TV, tombstone bool, prev address.Address) (address.Address, *Record[TK, TV]) {
	offset := l.allocate(1)
	addr := address.NewHLogAddress(offset)
	rec := &Record[TK, TV]{
		Info:  address.Pack(prev, tombstone),
		Key:   key,
		Value: value,
	}
	l.mu.Lock()
	l.records[offset] = rec
	l.mu.Unlock()
	return addr, rec
}

// Get returns the in-memory record at addr. Returns ok=false if addr is
// below HeadAddress (chain invariant 4: not directly dereferenceable) or
// simply unallocated.
func (l *Log[TK, TV]) Get(addr address.Address) (*Record[TK, TV], bool) {
	if addr.IsReadCache() || addr.IsInvalid() {
		return nil, false
	}
	offset := addr.Offset()
	if !l.IsInMemory(offset) {
		return nil, false
	}
	l.mu.RLock()
	rec, ok := l.records[offset]
	l.mu.RUnlock()
	return rec, ok
}

// ReadFromDevice issues a (synchronous, in this module's test double) device
// read for an address below HeadAddress. The engine wraps this call in an
// AsyncIOContext and reports Pending to the caller per spec §4.6; this
// method itself just performs the read-and-decode.
func (l *Log[TK, TV]) ReadFromDevice(ctx context.Context, addr address.Address) (DiskRecord[TK, TV], error) {
	data, err := l.device.ReadAt(ctx, addr.Offset())
	if err != nil {
		return DiskRecord[TK, TV]{}, err
	}
	return l.codec.Unmarshal(data)
}

// AdvanceReadOnly seals the mutable region below newReadOnly, moving records
// there from "may be updated in place" to "immutable, copy-on-write only".
func (l *Log[TK, TV]) AdvanceReadOnly(newReadOnly uint64) bool {
	return l.advanceReadOnly(newReadOnly)
}

// AdvanceHead flushes and evicts [oldHead, newHead) from memory: every
// record in range is written to Device, then dropped from the in-memory map.
// Chain traversal for these addresses continues via ReadFromDevice. Any
// record still carrying a live lock is dropped along with it; callers that
// take in-line locks on hybrid-log records should use
// AdvanceHeadWithLockTransfer instead.
func (l *Log[TK, TV]) AdvanceHead(ctx context.Context, newHead uint64) error {
	return l.advanceHeadImpl(ctx, newHead, nil)
}

// AdvanceHeadWithLockTransfer behaves like AdvanceHead, but hands any live
// lock on an evicted record to lt before the record is dropped (spec §4.5's
// lock-transfer invariant extended to hybrid-log eviction, not just the
// read-cache ring).
func (l *Log[TK, TV]) AdvanceHeadWithLockTransfer(ctx context.Context, newHead uint64, lt *locktable.Table[TK]) error {
	return l.advanceHeadImpl(ctx, newHead, lt)
}

func (l *Log[TK, TV]) advanceHeadImpl(ctx context.Context, newHead uint64, lt *locktable.Table[TK]) error {
	oldHead, advanced := l.advanceHead(newHead)
	if !advanced {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for offset := oldHead; offset < newHead; offset++ {
		rec, ok := l.records[offset]
		if !ok {
			continue
		}
		data, err := l.codec.Marshal(DiskRecord[TK, TV]{
			Key:       rec.Key,
			Value:     rec.Value,
			Tombstone: rec.Info.IsTombstone(),
			Previous:  rec.Info.PreviousAddress(),
		})
		if err != nil {
			return err
		}
		if err := l.device.WriteAt(ctx, offset, data); err != nil {
			return err
		}
		if lt != nil && rec.Info.HasAnyLock() {
			lt.AbsorbFromRecord(rec.Key, rec.Info.SnapshotLock())
			rec.Info.ClearLock()
		}
		delete(l.records, offset)
	}
	return nil
}

// TailOffset is a convenience alias for TailAddress, used by tests and
// cmd/hlogbench.
func (l *Log[TK, TV]) TailOffset() uint64 {
	return l.TailAddress()
}
