package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ubuntu/ais-insights/internal/common/constants"
	"gopkg.in/yaml.v3"
)

type (
	AppConfig   = appConfig
	StoreConfig = storeConfig
)

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() AppConfig {
	return defaultConfig()
}

// Config returns the configuration of the app.
func (a *App) Config() AppConfig {
	return a.config
}

// NewForTests creates a new App instance for testing purposes.
func NewForTests(t *testing.T, conf *AppConfig, args ...string) *App {
	t.Helper()

	p := GenerateTestConfig(t, conf)
	args = append([]string{"--config", p}, args...)

	a, err := New()
	require.NoError(t, err, "Setup: failed to create app")
	a.cmd.SetArgs(args)
	return a
}

// GenerateTestConfig generates a temporary config file for testing.
//
// Every key is written to the file, so it starts from the default configuration when conf is nil.
// The metrics server then listens on a random port and the snapshot lives in a temporary directory.
func GenerateTestConfig(t *testing.T, origConf *AppConfig) string {
	t.Helper()

	conf := defaultConfig()
	conf.Metrics.Port = 0
	if origConf != nil {
		conf = *origConf
	}

	if conf.Verbosity == 0 {
		conf.Verbosity = 2
	}
	if conf.Store.SnapshotPath == "" || conf.Store.SnapshotPath == constants.DefaultSnapshotPath {
		conf.Store.SnapshotPath = filepath.Join(t.TempDir(), constants.DefaultSnapshotFile)
	}

	d, err := yaml.Marshal(conf)
	require.NoError(t, err, "Setup: failed to marshal config for tests")

	confPath := filepath.Join(t.TempDir(), "testconfig.yaml")
	require.NoError(t, os.WriteFile(confPath, d, 0600), "Setup: failed to write config for tests")

	return confPath
}

// SetArgs set some arguments on root command for tests.
func (a *App) SetArgs(args ...string) {
	a.cmd.SetArgs(args)
}

// SetSilenceUsage set the SilenceUsage flag on root command for tests.
func (a *App) SetSilenceUsage(silence bool) {
	a.cmd.SilenceUsage = silence
}

// SnapshotPath returns the snapshot file the app writes to.
func (a *App) SnapshotPath() string {
	return a.config.Store.SnapshotPath
}

// Restore loads the snapshot at path into s.
var Restore = restore
