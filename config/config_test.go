package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	conf := &Config{}
	conf.Normalize()

	require.Positive(t, conf.PoolSize)
	require.Equal(t, 14, conf.TrialDays)
	require.Equal(t, "sqlite", conf.Store.Driver)
	require.Equal(t, 30, conf.Provider.TimeoutSeconds)
	require.Equal(t, 300, conf.Reconcile.ExpiryIntervalSeconds)
	require.Equal(t, 3600, conf.Reconcile.DriftIntervalSeconds)
	require.Equal(t, 240, conf.Reconcile.SweepTimeoutSeconds)
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	conf := DefaultConfig()
	conf.PoolSize = 2
	conf.Reconcile.ExpiryIntervalSeconds = 60
	conf.Normalize()

	require.Equal(t, 2, conf.PoolSize)
	require.Equal(t, 60, conf.Reconcile.ExpiryIntervalSeconds)
}

func TestStoreDSN(t *testing.T) {
	conf := DefaultConfig()
	conf.RootDir = "/data/hatchery"
	require.Equal(t, filepath.Join("/data/hatchery", "hatchery.db"), conf.StoreDSN())

	conf.Store.DSN = "host=db user=hatchery dbname=hatchery"
	require.Equal(t, "host=db user=hatchery dbname=hatchery", conf.StoreDSN())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"root_dir": "/tmp/hatchery-test",
		"trial_days": 7,
		"store": {"driver": "postgres", "dsn": "host=db"},
		"provider": {"endpoint": "http://provider:9000"}
	}`), 0o600))

	conf, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/hatchery-test", conf.RootDir)
	require.Equal(t, 7, conf.TrialDays)
	require.Equal(t, "postgres", conf.Store.Driver)
	require.Equal(t, "http://provider:9000", conf.Provider.Endpoint)
	// unset fields fall back to defaults
	require.Equal(t, 30, conf.Provider.TimeoutSeconds)
}

func TestLoadConfigMissingFile(t *testing.T) {
	conf, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Provider.Endpoint, conf.Provider.Endpoint)
}

func TestLoadConfigBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}
