// Package config loads the store's configuration options (spec §6):
// log and read-cache sizing, and the per-read behavior flags.
//
// Grounded on the teacher's config.go: a JSON file read straight into a
// struct with no intermediate validation layer.
package config

import (
	"encoding/json"
	"os"
)

// ReadCacheSettings sizes the read-cache ring. Its absence in a
// LogSettings value (the zero value, both fields 0) disables the read
// cache entirely per spec §6.
type ReadCacheSettings struct {
	MemorySizeBits int
	PageSizeBits   int
}

// Enabled reports whether these settings describe a usable read cache.
func (r ReadCacheSettings) Enabled() bool {
	return r.MemorySizeBits > 0 && r.PageSizeBits > 0
}

// LogSettings sizes the hybrid log and, optionally, its read cache.
type LogSettings struct {
	MemorySizeBits    int
	PageSizeBits      int
	ReadCacheSettings ReadCacheSettings
}

// ReadFlags are the per-read behavior switches spec §6 enumerates. The zero
// value is "no special behavior": read cache reads and updates both happen,
// hits are not forced to the tail, and the modified bit is left untouched.
type ReadFlags struct {
	DisableReadCacheUpdates bool
	DisableReadCacheReads   bool
	CopyReadsToTail         bool
	CopyFromDeviceOnly      bool
	ResetModifiedBit        bool
}

// Configuration is the complete set of options a store is constructed with.
type Configuration struct {
	Log LogSettings
}

// LoadConfiguration reads filename as JSON into a Configuration.
func LoadConfiguration(filename string) (Configuration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Configuration{}, err
	}
	var c Configuration
	if err := json.Unmarshal(data, &c); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// Save writes c to filename as JSON, overwriting any existing file.
func Save(filename string, c Configuration) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
