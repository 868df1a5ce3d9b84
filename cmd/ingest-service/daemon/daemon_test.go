package daemon_test

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/ais-insights/cmd/ingest-service/daemon"
	"github.com/ubuntu/ais-insights/internal/common/constants"
	"github.com/ubuntu/ais-insights/internal/ingest/listener"
	"github.com/ubuntu/ais-insights/internal/ingest/store"
	"github.com/ubuntu/ais-insights/internal/models"
	"github.com/ubuntu/ais-insights/internal/snapshot"
)

func TestConfigArg(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "conf.yaml")
	conf := "verbosity: 1\nbroker:\n  host: broker.example\nstore:\n  capacity: 10\n"
	require.NoError(t, os.WriteFile(configPath, []byte(conf), 0600), "Setup: couldn't write config file")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "--config", configPath)

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")

	got := a.Config()
	assert.Equal(t, 1, got.Verbosity, "Verbosity should be read from the config file")
	assert.Equal(t, "broker.example", got.Broker.Host, "Broker host should be read from the config file")
	assert.Equal(t, 10, got.Store.Capacity, "Capacity should be read from the config file")

	def := daemon.DefaultConfig()
	assert.Equal(t, def.Broker.Port, got.Broker.Port, "Keys absent from the config file should keep their default")
	assert.Equal(t, def.Listener.Topic, got.Listener.Topic, "Keys absent from the config file should keep their default")
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("AIS_INSIGHTS_INGEST_SERVICE_BROKER_PORT", "1884")
	t.Setenv("AIS_INSIGHTS_INGEST_SERVICE_LISTENER_TOPIC", "vessel/other")
	t.Setenv("AIS_INSIGHTS_INGEST_SERVICE_LISTENER_MAXBACKOFF", "30s")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")

	got := a.Config()
	assert.Equal(t, 1884, got.Broker.Port, "Broker port should be read from the environment")
	assert.Equal(t, "vessel/other", got.Listener.Topic, "Topic should be read from the environment")
	assert.Equal(t, 30*time.Second, got.Listener.MaxBackoff, "Durations should be decoded from the environment")
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")

	got := a.Config()
	assert.Equal(t, "localhost", got.Broker.Host, "Default broker host")
	assert.Equal(t, 1883, got.Broker.Port, "Default broker port")
	assert.Equal(t, "vessel/ais", got.Listener.Topic, "Default topic")
	assert.Equal(t, 1000, got.Store.Capacity, "Default capacity")
	assert.Equal(t, constants.DefaultSnapshotPath, got.Store.SnapshotPath, "Default snapshot path")
	assert.Equal(t, 2113, got.Metrics.Port, "Default metrics port")
	assert.Equal(t, daemon.DefaultConfig(), got, "Flags defaults should match the default configuration")
}

func TestConfigBadArg(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	// Use version to still run preExec to load the config but without running the service.
	a.SetArgs("version", "--config", "/does/not/exist.yaml")

	err = a.Run()
	require.Error(t, err, "Run should return an error on a missing config file")
}

func TestRunInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		modify func(*daemon.AppConfig)
	}{
		"Zero capacity":          {modify: func(c *daemon.AppConfig) { c.Store.Capacity = 0 }},
		"Invalid broker port":    {modify: func(c *daemon.AppConfig) { c.Broker.Port = 70000 }},
		"Invalid QoS":            {modify: func(c *daemon.AppConfig) { c.Broker.QoS = 3 }},
		"Empty topic":            {modify: func(c *daemon.AppConfig) { c.Listener.Topic = "" }},
		"Max backoff below base": {modify: func(c *daemon.AppConfig) { c.Listener.MaxBackoff = time.Millisecond }},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			conf := daemon.DefaultConfig()
			conf.Metrics.Port = 0
			tc.modify(&conf)

			a := daemon.NewForTests(t, &conf)
			err := a.Run()
			require.Error(t, err, "Run should fail on an invalid configuration")
			assert.False(t, a.UsageError(), "An invalid configuration is not a usage error")

			// Quit must not block when the service could not be created.
			a.Quit()
		})
	}
}

func TestRunAndQuit(t *testing.T) {
	t.Parallel()

	conf := testConfig(t)
	a, wait := startDaemon(t, &conf)

	a.Quit()
	wait()
}

func TestRunGivesUpOnUnreachableBroker(t *testing.T) {
	t.Parallel()

	conf := testConfig(t)
	conf.Listener.MaxConnectAttempts = 2
	a := daemon.NewForTests(t, &conf)

	err := a.Run()
	require.ErrorIs(t, err, listener.ErrTransport, "Run should report the broker failure")
}

func TestRestore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content  string
		capacity int

		wantMMSIs []string
	}{
		"Restores reports in order":     {content: `[{"mmsi":"1","latitude":1,"longitude":2},{"mmsi":"2","latitude":3,"longitude":4}]`, capacity: 10, wantMMSIs: []string{"1", "2"}},
		"Keeps newest when over bound":  {content: `[{"mmsi":"1","latitude":1,"longitude":2},{"mmsi":"2","latitude":3,"longitude":4}]`, capacity: 1, wantMMSIs: []string{"2"}},
		"Skips invalid entries":         {content: `[{"mmsi":"1"},{"mmsi":"2","latitude":3,"longitude":4}]`, capacity: 10, wantMMSIs: []string{"2"}},
		"Missing file restores nothing": {capacity: 10},
		"Invalid file restores nothing": {content: `not json`, capacity: 10},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), constants.DefaultSnapshotFile)
			if tc.content != "" {
				require.NoError(t, os.WriteFile(path, []byte(tc.content), 0600), "Setup: could not write snapshot")
			}
			s, err := store.New(tc.capacity)
			require.NoError(t, err, "Setup: could not create store")

			daemon.Restore(s, path)

			var got []string
			for _, r := range s.Snapshot() {
				got = append(got, r.MMSI)
			}
			assert.Equal(t, tc.wantMMSIs, got, "Restore should insert the valid reports of the snapshot")
		})
	}
}

func TestRunRestoresAndKeepsSnapshot(t *testing.T) {
	t.Parallel()

	conf := testConfig(t)
	p, err := snapshot.NewPersister(conf.Store.SnapshotPath)
	require.NoError(t, err, "Setup: could not create persister")
	require.NoError(t, p.Persist([]models.Report{{MMSI: "1", Latitude: 1, Longitude: 2}}), "Setup: could not write snapshot")

	a, wait := startDaemon(t, &conf)
	a.Quit()
	wait()

	got, err := snapshot.NewManager(a.SnapshotPath()).Snapshot()
	require.NoError(t, err, "Snapshot should still be readable after the service stopped")
	require.Len(t, got, 1, "Snapshot should not be rewritten without new reports")
	assert.Equal(t, "1", got[0].MMSI, "Snapshot should keep the restored report")
}

func TestNoUsageError(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("completion", "bash")

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")
	require.False(t, a.UsageError(), "No usage error is reported as such")
}

func TestUsageError(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("doesnotexist")

	err = a.Run()
	require.Error(t, err, "Run should return an error")
	require.True(t, a.UsageError(), "Usage error is reported as such")

	a.SetSilenceUsage(true)
	assert.False(t, a.UsageError())
	a.SetSilenceUsage(false)
	assert.True(t, a.UsageError())
}

func TestAppCanSigHupAfterExecute(t *testing.T) {
	conf := testConfig(t)
	a, wait := startDaemon(t, &conf)
	a.Quit()
	wait()

	r, w, err := os.Pipe()
	require.NoError(t, err, "Setup: pipe shouldn't fail")
	orig := os.Stdout
	os.Stdout = w

	shouldQuit := a.Hup()

	os.Stdout = orig
	w.Close()

	var out bytes.Buffer
	_, err = io.Copy(&out, r)
	require.NoError(t, err, "Couldn't copy stdout to buffer")
	require.NotEmpty(t, out.String(), "Stacktrace is printed")
	require.False(t, shouldQuit, "Hup should not ask to quit")
}

func TestRootCmd(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err)

	cmd := a.RootCmd()
	assert.Equal(t, constants.IngestServiceCmdName, cmd.Name())
}

// testConfig returns a configuration pointing to a broker nobody listens on.
func testConfig(t *testing.T) daemon.AppConfig {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "Setup: could not reserve a port")
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close(), "Setup: could not release the port")

	conf := daemon.DefaultConfig()
	conf.Broker.Host = "127.0.0.1"
	conf.Broker.Port = port
	conf.Broker.ConnectTimeout = time.Second
	conf.Listener.BaseBackoff = 10 * time.Millisecond
	conf.Listener.MaxBackoff = 50 * time.Millisecond
	conf.Store.SnapshotPath = filepath.Join(t.TempDir(), constants.DefaultSnapshotFile)
	conf.Metrics.Port = 0
	return conf
}

// startDaemon prepares and starts the daemon in the background. The done function should be called
// to wait for the daemon to stop.
//
// The done function should be called in the main goroutine for the test.
func startDaemon(t *testing.T, conf *daemon.AppConfig) (app *daemon.App, done func()) {
	t.Helper()

	a := daemon.NewForTests(t, conf)

	chErr := make(chan error, 1)
	go func() {
		chErr <- a.Run()
	}()
	a.WaitReady()
	time.Sleep(50 * time.Millisecond)

	return a, func() {
		err := <-chErr
		require.NoError(t, err, "Run should return without an error")
	}
}
