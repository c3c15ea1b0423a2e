package hlog

import (
	"encoding/json"

	"github.com/sharedcode/hlogcache/address"
)

// DiskRecord is what a Device stores for one flushed record: key, value,
// tombstone bit, and the chain link, so that traversal can continue "from
// the disk record chain" per spec §4.1 once a read resolves below HeadAddress.
type DiskRecord[TK any, TV any] struct {
	Key       TK
	Value     TV
	Tombstone bool
	Previous  address.Address
}

// Codec marshals a flushed record for the Device's write path. The default
// codec below uses encoding/json, matching the teacher's transaction log
// encoding style (fs/transaction_log.go); callers with a hot path can supply
// a tighter binary codec.
type Codec[TK any, TV any] interface {
	Marshal(rec DiskRecord[TK, TV]) ([]byte, error)
	Unmarshal(data []byte) (DiskRecord[TK, TV], error)
}

type jsonCodec[TK any, TV any] struct{}

// NewJSONCodec returns the default JSON-backed Codec.
func NewJSONCodec[TK any, TV any]() Codec[TK, TV] {
	return jsonCodec[TK, TV]{}
}

func (jsonCodec[TK, TV]) Marshal(rec DiskRecord[TK, TV]) ([]byte, error) {
	return json.Marshal(rec)
}

func (jsonCodec[TK, TV]) Unmarshal(data []byte) (DiskRecord[TK, TV], error) {
	var r DiskRecord[TK, TV]
	err := json.Unmarshal(data, &r)
	return r, err
}
