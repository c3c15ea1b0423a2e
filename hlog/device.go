package hlog

import "context"

// Device is the external collaborator named by spec §1: an append-only paged
// log with asynchronous flush/evict, addressed by byte offset. The hybrid log
// ring owns the in-memory region and hands off to Device only for the portion
// below HeadAddress. Production devices are out of scope per §1; this module
// ships only the in-memory stub used by tests below.
type Device interface {
	// WriteAt persists data at offset, called when the ring's head advances
	// past a page and the page must be flushed before reclamation.
	WriteAt(ctx context.Context, offset uint64, data []byte) error
	// ReadAt fetches the bytes written at offset. Implementations may block;
	// callers (the Operation Engine) are responsible for treating this as a
	// pending operation and suspending the epoch before calling it (spec §4.6).
	ReadAt(ctx context.Context, offset uint64) ([]byte, error)
	// Truncate discards all data below offset, called once BeginAddress advances.
	Truncate(ctx context.Context, offset uint64) error
	Close() error
}

// memoryDevice is an in-process Device backed by a map, standing in for the
// real paged device named as an external contract in spec §1. Its exported
// constructor NewMemoryDevice lets integration tests and cmd/hlogbench exercise the full pending-I/O
// path without a real disk.
type memoryDevice struct {
	pages map[uint64][]byte
}

// NewMemoryDevice returns a Device that keeps flushed pages in memory. Useful
// for tests exercising the RECORD_ON_DISK / pending-read path without a real
// on-disk device.
func NewMemoryDevice() Device {
	return &memoryDevice{pages: make(map[uint64][]byte)}
}

func (d *memoryDevice) WriteAt(_ context.Context, offset uint64, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	d.pages[offset] = cp
	return nil
}

func (d *memoryDevice) ReadAt(_ context.Context, offset uint64) ([]byte, error) {
	b, ok := d.pages[offset]
	if !ok {
		return nil, ErrNotOnDevice
	}
	return b, nil
}

func (d *memoryDevice) Truncate(_ context.Context, offset uint64) error {
	for o := range d.pages {
		if o < offset {
			delete(d.pages, o)
		}
	}
	return nil
}

func (d *memoryDevice) Close() error { return nil }
