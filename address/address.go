// Package address encodes the 48-bit logical addresses used to identify
// records in the hybrid log and the read-cache ring, and the fixed-size
// RecordInfo header that precedes every record (spec §3).
package address

import "fmt"

// Address is a 48-bit monotonically increasing position in a ring. Bit 48
// of the backing uint64 (readCacheBit) selects which ring resolves it:
// clear means the hybrid log, set means the read cache. kInvalidAddress (0)
// never denotes a real record.
type Address uint64

const (
	// readCacheBit tags an Address as belonging to the read-cache ring rather
	// than the hybrid log. It sits above the 48-bit offset range so it never
	// collides with a real offset.
	readCacheBit = uint64(1) << 48
	// offsetMask extracts the 48-bit offset, discarding the ring tag.
	offsetMask = readCacheBit - 1
)

// Invalid is the zero address: never a valid record location.
const Invalid Address = 0

// NewHLogAddress builds an Address into the hybrid log ring at offset.
func NewHLogAddress(offset uint64) Address {
	return Address(offset & offsetMask)
}

// NewReadCacheAddress builds an Address into the read-cache ring at offset.
func NewReadCacheAddress(offset uint64) Address {
	return Address(offset&offsetMask | readCacheBit)
}

// IsReadCache reports whether a resolves in the read-cache ring.
func (a Address) IsReadCache() bool {
	return uint64(a)&readCacheBit != 0
}

// IsInvalid reports whether a is the zero address.
func (a Address) IsInvalid() bool {
	return a == Invalid
}

// Offset returns the 48-bit ring-relative offset, with the ring tag stripped.
func (a Address) Offset() uint64 {
	return uint64(a) & offsetMask
}

// WithOffset returns a new Address in the same ring as a, at the given offset.
func (a Address) WithOffset(offset uint64) Address {
	if a.IsReadCache() {
		return NewReadCacheAddress(offset)
	}
	return NewHLogAddress(offset)
}

// Less reports whether a sits strictly before b within the same ring. Chain
// invariant 2 (spec §3) requires PreviousAddress to strictly decrease within
// a ring; callers compare two addresses of the same ring with Less.
func (a Address) Less(b Address) bool {
	return a.Offset() < b.Offset()
}

func (a Address) String() string {
	ring := "hlog"
	if a.IsReadCache() {
		ring = "rc"
	}
	return fmt.Sprintf("%s:%d", ring, a.Offset())
}
