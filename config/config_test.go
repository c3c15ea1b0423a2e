package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	c := Configuration{
		Log: LogSettings{
			MemorySizeBits: 25,
			PageSizeBits:   20,
			ReadCacheSettings: ReadCacheSettings{
				MemorySizeBits: 22,
				PageSizeBits:   18,
			},
		},
	}
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, Save(path, c))

	got, err := LoadConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.True(t, got.Log.ReadCacheSettings.Enabled())
}

func TestZeroValueReadCacheSettingsIsDisabled(t *testing.T) {
	var rc ReadCacheSettings
	assert.False(t, rc.Enabled())
}

func TestLoadConfigurationMissingFile(t *testing.T) {
	_, err := LoadConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
