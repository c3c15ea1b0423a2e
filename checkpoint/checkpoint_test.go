package checkpoint

import (
	"bytes"
	"testing"

	"github.com/sharedcode/hlogcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCheckpoint() *Checkpoint {
	return &Checkpoint{
		Guid:                  hlogcache.NewUUID(),
		Snapshot:              true,
		Version:               3,
		NextVersion:           4,
		FlushedLogicalAddress: 100,
		StartLogicalAddress:   50,
		FinalLogicalAddress:   200,
		HeadAddress:           80,
		BeginAddress:          10,
		DeltaTailAddress:      12,
		ManualLockingActive:   true,
		Sessions: []Session{
			{SessionID: hlogcache.NewUUID(), SessionName: "session-a", UntilSerial: 42, Exclusions: []uint64{7, 9}},
			{SessionID: hlogcache.NewUUID(), SessionName: "session-b", UntilSerial: 0, Exclusions: nil},
		},
		ObjectLogSegmentOffsets: []int64{0, 4096, 8192},
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	c := sampleCheckpoint()
	var buf bytes.Buffer
	_, err := c.WriteTo(&buf)
	require.NoError(t, err)

	got, _, err := ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, c.Guid, got.Guid)
	assert.Equal(t, c.Snapshot, got.Snapshot)
	assert.Equal(t, c.Version, got.Version)
	assert.Equal(t, c.FlushedLogicalAddress, got.FlushedLogicalAddress)
	assert.Equal(t, c.HeadAddress, got.HeadAddress)
	assert.Equal(t, c.ManualLockingActive, got.ManualLockingActive)
	require.Len(t, got.Sessions, 2)
	assert.Equal(t, "session-a", got.Sessions[0].SessionName)
	assert.Equal(t, []uint64{7, 9}, got.Sessions[0].Exclusions)
	assert.Equal(t, c.ObjectLogSegmentOffsets, got.ObjectLogSegmentOffsets)
}

func TestReadRejectsChecksumMismatch(t *testing.T) {
	c := sampleCheckpoint()
	var buf bytes.Buffer
	_, err := c.WriteTo(&buf)
	require.NoError(t, err)

	corrupted := bytes.Replace(buf.Bytes(), []byte("100\n"), []byte("999\n"), 1)
	_, _, err = ReadFrom(bytes.NewReader(corrupted))
	require.Error(t, err)
	var herr hlogcache.Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, hlogcache.InvalidCheckpoint, herr.Code)
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	blob := "7\n0\n0\n0\n0\n3\n4\n0\n0\n0\n0\n0\n0\n0\n0\n0\n0\n"
	_, _, err := ReadFrom(bytes.NewReader([]byte(blob)))
	require.Error(t, err)
	var herr hlogcache.Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, hlogcache.InvalidCheckpoint, herr.Code)
}

func TestReadRejectsTruncatedBlob(t *testing.T) {
	c := sampleCheckpoint()
	var buf bytes.Buffer
	_, err := c.WriteTo(&buf)
	require.NoError(t, err)

	truncated := buf.Bytes()[:10]
	_, _, err = ReadFrom(bytes.NewReader(truncated))
	require.Error(t, err)
}
