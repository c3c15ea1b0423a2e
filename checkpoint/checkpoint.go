// Package checkpoint implements the persisted metadata blob described by
// SPEC_FULL.md §6: a textual, line-per-field record of a hybrid log's region
// boundaries and active session locks at the moment a checkpoint was taken,
// with a self-describing version and an XOR checksum to catch truncation or
// corruption on read.
//
// Grounded on the teacher's fs/transaction_log.go, which also frames a small
// piece of durable state as a line-oriented file written through a
// bufio.Writer; this package swaps the teacher's line-delimited JSON payload
// for the literal line-per-field layout SPEC_FULL.md §6 names, since the
// checkpoint blob's exact textual shape (not its encoding library) is the
// contract external tooling depends on.
package checkpoint

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/sharedcode/hlogcache"
)

// CurrentVersion is the only blob version this package writes and the only
// one ReadFrom accepts.
const CurrentVersion = 1

// Session records one active session's lock-exclusion state as of the
// checkpoint (spec §6's `{sessionId, sessionName, untilSerial,
// exclusionCount, exclusions…}` block).
type Session struct {
	SessionID   hlogcache.UUID
	SessionName string
	UntilSerial int64
	Exclusions  []uint64
}

// Checkpoint is one persisted metadata blob.
type Checkpoint struct {
	Guid                        hlogcache.UUID
	Snapshot                    bool
	Version                     int
	NextVersion                 int
	FlushedLogicalAddress       uint64
	StartLogicalAddress         uint64
	FinalLogicalAddress         uint64
	SnapshotFinalLogicalAddress uint64
	HeadAddress                 uint64
	BeginAddress                uint64
	DeltaTailAddress            uint64
	ManualLockingActive         bool
	Sessions                    []Session
	ObjectLogSegmentOffsets     []int64
}

// checksum folds the blob's identity and region boundaries into a single
// int64 per spec §6: guid_lo XOR guid_hi XOR version XOR five address fields
// XOR sessionCount XOR segCount. The spec names seven address-like fields but
// only five into the checksum; this package folds in the five that bound the
// live, unflushed portion of the log — FlushedLogicalAddress,
// StartLogicalAddress, FinalLogicalAddress, HeadAddress, and BeginAddress —
// leaving SnapshotFinalLogicalAddress and DeltaTailAddress (snapshot-specific
// and delta-log-specific fields that are meaningless outside those modes)
// out of the integrity check, matching how the other four fold only the
// fields that apply to every checkpoint (see DESIGN.md's Open Question log).
func (c *Checkpoint) checksum() int64 {
	hi, lo := c.Guid.Split()
	sum := hi ^ lo
	sum ^= uint64(c.Version)
	sum ^= c.FlushedLogicalAddress
	sum ^= c.StartLogicalAddress
	sum ^= c.FinalLogicalAddress
	sum ^= c.HeadAddress
	sum ^= c.BeginAddress
	sum ^= uint64(len(c.Sessions))
	sum ^= uint64(len(c.ObjectLogSegmentOffsets))
	return int64(sum)
}

func boolToLine(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// WriteTo writes c in the textual, line-per-field layout of spec §6.
func (c *Checkpoint) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int
	var firstErr error
	line := func(format string, args ...any) {
		wrote, err := fmt.Fprintf(bw, format+"\n", args...)
		n += wrote
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	hi, lo := c.Guid.Split()
	line("%d", CurrentVersion)
	line("%d", c.checksum())
	line("%d", hi)
	line("%d", lo)
	line("%s", boolToLine(c.Snapshot))
	line("%d", c.Version)
	line("%d", c.NextVersion)
	line("%d", c.FlushedLogicalAddress)
	line("%d", c.StartLogicalAddress)
	line("%d", c.FinalLogicalAddress)
	line("%d", c.SnapshotFinalLogicalAddress)
	line("%d", c.HeadAddress)
	line("%d", c.BeginAddress)
	line("%d", c.DeltaTailAddress)
	line("%s", boolToLine(c.ManualLockingActive))
	line("%d", len(c.Sessions))
	for _, s := range c.Sessions {
		shi, slo := s.SessionID.Split()
		line("%d %d %s %d %d", shi, slo, s.SessionName, s.UntilSerial, len(s.Exclusions))
		for _, ex := range s.Exclusions {
			line("%d", ex)
		}
	}
	line("%d", len(c.ObjectLogSegmentOffsets))
	for _, off := range c.ObjectLogSegmentOffsets {
		line("%d", off)
	}
	if firstErr != nil {
		return int64(n), firstErr
	}
	if err := bw.Flush(); err != nil {
		return int64(n), err
	}
	return int64(n), nil
}

// scanLine advances sc and returns its text, or an error describing where a
// truncated blob ran out of lines.
func scanLine(sc *bufio.Scanner, field string) (string, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", hlogcache.NewError(hlogcache.InvalidCheckpoint, err, field)
		}
		return "", hlogcache.NewError(hlogcache.InvalidCheckpoint, io.ErrUnexpectedEOF, field)
	}
	return sc.Text(), nil
}

func scanUint(sc *bufio.Scanner, field string) (uint64, error) {
	s, err := scanLine(sc, field)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, hlogcache.NewError(hlogcache.InvalidCheckpoint, err, field)
	}
	return v, nil
}

func scanInt(sc *bufio.Scanner, field string) (int64, error) {
	s, err := scanLine(sc, field)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, hlogcache.NewError(hlogcache.InvalidCheckpoint, err, field)
	}
	return v, nil
}

func scanBool(sc *bufio.Scanner, field string) (bool, error) {
	s, err := scanLine(sc, field)
	if err != nil {
		return false, err
	}
	return s == "1", nil
}

// ReadFrom parses a checkpoint blob written by WriteTo, rejecting it on
// version or checksum mismatch per spec §7's fatal "invalid checkpoint"
// category.
func ReadFrom(r io.Reader) (*Checkpoint, int64, error) {
	sc := bufio.NewScanner(r)
	var n int64

	version, err := scanInt(sc, "version")
	if err != nil {
		return nil, n, err
	}
	if version != CurrentVersion {
		return nil, n, hlogcache.NewError(hlogcache.InvalidCheckpoint, nil, version)
	}
	wantChecksum, err := scanInt(sc, "checksum")
	if err != nil {
		return nil, n, err
	}

	c := &Checkpoint{Version: int(version)}
	hi, err := scanUint(sc, "guid_hi")
	if err != nil {
		return nil, n, err
	}
	lo, err := scanUint(sc, "guid_lo")
	if err != nil {
		return nil, n, err
	}
	c.Guid = guidFromParts(hi, lo)

	if c.Snapshot, err = scanBool(sc, "snapshot"); err != nil {
		return nil, n, err
	}
	vField, err := scanInt(sc, "version_field")
	if err != nil {
		return nil, n, err
	}
	c.Version = int(vField)
	nv, err := scanInt(sc, "next_version")
	if err != nil {
		return nil, n, err
	}
	c.NextVersion = int(nv)
	if c.FlushedLogicalAddress, err = scanUint(sc, "flushed_logical_address"); err != nil {
		return nil, n, err
	}
	if c.StartLogicalAddress, err = scanUint(sc, "start_logical_address"); err != nil {
		return nil, n, err
	}
	if c.FinalLogicalAddress, err = scanUint(sc, "final_logical_address"); err != nil {
		return nil, n, err
	}
	if c.SnapshotFinalLogicalAddress, err = scanUint(sc, "snapshot_final_logical_address"); err != nil {
		return nil, n, err
	}
	if c.HeadAddress, err = scanUint(sc, "head_address"); err != nil {
		return nil, n, err
	}
	if c.BeginAddress, err = scanUint(sc, "begin_address"); err != nil {
		return nil, n, err
	}
	if c.DeltaTailAddress, err = scanUint(sc, "delta_tail_address"); err != nil {
		return nil, n, err
	}
	if c.ManualLockingActive, err = scanBool(sc, "manual_locking_active"); err != nil {
		return nil, n, err
	}

	sessionCount, err := scanUint(sc, "session_count")
	if err != nil {
		return nil, n, err
	}
	c.Sessions = make([]Session, 0, sessionCount)
	for i := uint64(0); i < sessionCount; i++ {
		line, err := scanLine(sc, "session")
		if err != nil {
			return nil, n, err
		}
		var shi, slo uint64
		var name string
		var untilSerial int64
		var exclusionCount uint64
		if _, err := fmt.Sscanf(line, "%d %d %s %d %d", &shi, &slo, &name, &untilSerial, &exclusionCount); err != nil {
			return nil, n, hlogcache.NewError(hlogcache.InvalidCheckpoint, err, "session")
		}
		s := Session{
			SessionID:   guidFromParts(shi, slo),
			SessionName: name,
			UntilSerial: untilSerial,
			Exclusions:  make([]uint64, 0, exclusionCount),
		}
		for j := uint64(0); j < exclusionCount; j++ {
			ex, err := scanUint(sc, "exclusion")
			if err != nil {
				return nil, n, err
			}
			s.Exclusions = append(s.Exclusions, ex)
		}
		c.Sessions = append(c.Sessions, s)
	}

	segCount, err := scanUint(sc, "segment_count")
	if err != nil {
		return nil, n, err
	}
	c.ObjectLogSegmentOffsets = make([]int64, 0, segCount)
	for i := uint64(0); i < segCount; i++ {
		off, err := scanInt(sc, "segment_offset")
		if err != nil {
			return nil, n, err
		}
		c.ObjectLogSegmentOffsets = append(c.ObjectLogSegmentOffsets, off)
	}

	if got := c.checksum(); got != wantChecksum {
		return nil, n, hlogcache.NewError(hlogcache.InvalidCheckpoint, nil, got)
	}
	return c, n, nil
}

func guidFromParts(hi, lo uint64) hlogcache.UUID {
	var u hlogcache.UUID
	for i := 7; i >= 0; i-- {
		u[i] = byte(hi)
		hi >>= 8
	}
	for i := 15; i >= 8; i-- {
		u[i] = byte(lo)
		lo >>= 8
	}
	return u
}
