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
	AppConfig = appConfig
)

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() AppConfig {
	return defaultConfig()
}

// Config returns the configuration of the app.
func (a *App) Config() AppConfig {
	return a.config
}

// Addr returns the address the API of the running daemon listens on.
func (a *App) Addr() string {
	return a.daemon.Addr()
}

// NewForTests creates a new App instance for testing purposes.
func NewForTests(t *testing.T, conf *AppConfig, args ...string) *App {
	t.Helper()

	p := GenerateTestConfig(t, conf)
	argsWithConf := []string{"--config", p}
	argsWithConf = append(argsWithConf, args...)

	a, err := New()
	require.NoError(t, err, "Setup: failed to create app")
	a.cmd.SetArgs(argsWithConf)
	return a
}

// GenerateTestConfig generates a temporary config file for testing.
//
// Without conf, the daemon listens on random local ports and reads a snapshot from a temporary directory.
func GenerateTestConfig(t *testing.T, origConf *AppConfig) string {
	t.Helper()

	conf := defaultConfig()
	conf.Daemon.ListenHost = "127.0.0.1"
	conf.Daemon.ListenPort = 0
	conf.Daemon.MetricsHost = "127.0.0.1"
	conf.Daemon.MetricsPort = 0
	if origConf != nil {
		conf = *origConf
	}

	if conf.Verbosity == 0 {
		conf.Verbosity = 2
	}
	if conf.SnapshotPath == "" || conf.SnapshotPath == constants.DefaultSnapshotPath {
		conf.SnapshotPath = filepath.Join(t.TempDir(), constants.DefaultSnapshotFile)
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
