package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	conf, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "crsend", conf.Alias)
	assert.Equal(t, "http://localhost:53370", conf.BrokerURL)
	assert.Equal(t, ":53370", conf.ListenAddr)
	assert.Equal(t, 15*time.Second, conf.ConnectTimeoutDuration())
	assert.Equal(t, 10*time.Minute, conf.SessionTTLDuration())
	assert.Equal(t, 32<<20, conf.MaxPayloadBytes())
	assert.Contains(t, conf.DownloadFolder, "crsend")
}

func TestStoreLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	conf, err := Default()
	require.NoError(t, err)
	conf.BrokerURL = "https://broker.example.com"
	conf.ConnectTimeout = 30
	conf.LogLevel = "debug"
	require.NoError(t, conf.Store(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, conf, loaded)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreRejectsWrongExtension(t *testing.T) {
	conf, err := Default()
	require.NoError(t, err)
	assert.Error(t, conf.Store(filepath.Join(t.TempDir(), "config.yaml")))
}

func TestSetupGeneratesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crsend", "config.toml")

	conf, err := Setup(path)
	require.NoError(t, err)
	assert.Equal(t, "crsend", conf.Alias)

	// the generated file round-trips on the second run
	again, err := Setup(path)
	require.NoError(t, err)
	assert.Equal(t, conf, again)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("BrokerURL = \"https://b.example.com\"\n"), 0o644))

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example.com", conf.BrokerURL)
	assert.Equal(t, 15, conf.ConnectTimeout)
}
