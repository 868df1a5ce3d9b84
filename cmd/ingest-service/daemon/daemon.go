// Package daemon provides the ingest service daemon for AIS Insights.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/ais-insights/internal/cli"
	"github.com/ubuntu/ais-insights/internal/common/constants"
	"github.com/ubuntu/ais-insights/internal/common/metrics"
	"github.com/ubuntu/ais-insights/internal/ingest"
	"github.com/ubuntu/ais-insights/internal/ingest/listener"
	"github.com/ubuntu/ais-insights/internal/ingest/store"
	"github.com/ubuntu/ais-insights/internal/ingest/validator"
	"github.com/ubuntu/ais-insights/internal/snapshot"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *ingest.Service

	ready chan struct{}
}

type appConfig struct {
	Verbosity int
	JSONLogs  bool

	Broker   listener.MQTTConfig
	Listener listener.Config
	Store    storeConfig
	Metrics  metrics.Config
}

type storeConfig struct {
	Capacity     int
	SnapshotPath string
	// Restore loads the reports of an existing snapshot file into the store on start.
	Restore bool
}

func defaultConfig() appConfig {
	return appConfig{
		Broker: listener.MQTTConfig{
			Host:           constants.DefaultBrokerHost,
			Port:           constants.DefaultBrokerPort,
			ConnectTimeout: 10 * time.Second,
			KeepAlive:      60 * time.Second,
		},
		Listener: listener.Config{
			Topic:       constants.DefaultTopic,
			BaseBackoff: time.Second,
			MaxBackoff:  time.Minute,
		},
		Store: storeConfig{
			Capacity:     constants.DefaultCapacity,
			SnapshotPath: constants.DefaultSnapshotPath,
			Restore:      true,
		},
		Metrics: metrics.Config{
			Port:         2113,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// New registers commands and returns a new App.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}
	a.cmd = &cobra.Command{
		Use:           constants.IngestServiceCmdName,
		Short:         "AIS Insights ingest service",
		Long:          "AIS Insights ingest service receiving vessel reports from an MQTT broker and keeping the latest ones in a snapshot file.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.IngestServiceCmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config, cli.DecodeHook()); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}
			slog.Info("got app config", "config", a.config.redacted())

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs)
			return nil
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd
	def := defaultConfig()

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "output logs in JSON format")

	// Broker flags
	cmd.Flags().StringVar(&app.config.Broker.Host, "broker-host", def.Broker.Host, "MQTT broker host")
	cmd.Flags().IntVar(&app.config.Broker.Port, "broker-port", def.Broker.Port, "MQTT broker port")
	cmd.Flags().StringVar(&app.config.Broker.ClientID, "client-id", def.Broker.ClientID, "MQTT client identifier, random if empty")
	cmd.Flags().StringVar(&app.config.Broker.Username, "username", def.Broker.Username, "MQTT username")
	cmd.Flags().StringVar(&app.config.Broker.Password, "password", def.Broker.Password, "MQTT password")
	cmd.Flags().Uint8Var(&app.config.Broker.QoS, "qos", def.Broker.QoS, "QoS of the subscription (0, 1 or 2)")
	cmd.Flags().DurationVar(&app.config.Broker.ConnectTimeout, "connect-timeout", def.Broker.ConnectTimeout, "timeout of a connection attempt")
	cmd.Flags().DurationVar(&app.config.Broker.KeepAlive, "keepalive", def.Broker.KeepAlive, "keep alive interval with the broker")

	// Listener flags
	cmd.Flags().StringVar(&app.config.Listener.Topic, "topic", def.Listener.Topic, "MQTT topic the reports are published on")
	cmd.Flags().DurationVar(&app.config.Listener.BaseBackoff, "base-backoff", def.Listener.BaseBackoff, "initial delay between connection attempts")
	cmd.Flags().DurationVar(&app.config.Listener.MaxBackoff, "max-backoff", def.Listener.MaxBackoff, "maximum delay between connection attempts")
	cmd.Flags().IntVar(&app.config.Listener.MaxConnectAttempts, "max-connect-attempts", def.Listener.MaxConnectAttempts, "consecutive failed connection attempts before giving up, 0 to retry forever")

	// Store flags
	cmd.Flags().IntVar(&app.config.Store.Capacity, "capacity", def.Store.Capacity, "maximum number of reports kept")
	cmd.Flags().StringVar(&app.config.Store.SnapshotPath, "snapshot-path", def.Store.SnapshotPath, "path of the snapshot file")
	cmd.Flags().BoolVar(&app.config.Store.Restore, "restore", def.Store.Restore, "load the existing snapshot file on start")

	// Metrics flags
	cmd.Flags().StringVar(&app.config.Metrics.Host, "metrics-host", def.Metrics.Host, "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.Metrics.Port, "metrics-port", def.Metrics.Port, "port for the metrics endpoint")
	cmd.Flags().DurationVar(&app.config.Metrics.ReadTimeout, "metrics-read-timeout", def.Metrics.ReadTimeout, "read timeout for the metrics endpoint")
	cmd.Flags().DurationVar(&app.config.Metrics.WriteTimeout, "metrics-write-timeout", def.Metrics.WriteTimeout, "write timeout for the metrics endpoint")

	if err := cmd.MarkFlagFilename("snapshot-path", "json"); err != nil {
		// This should never happen.
		panic(fmt.Sprintf("failed to mark snapshot-path flag as filename: %v", err))
	}
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the service.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(false)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() (err error) {
	a.daemon, err = a.newService()
	close(a.ready)
	if err != nil {
		return fmt.Errorf("failed to create ingest service: %v", err)
	}

	return a.daemon.Run()
}

func (a *App) newService() (*ingest.Service, error) {
	reg, err := metrics.NewRegistry(constants.IngestServiceCmdName, constants.Version)
	if err != nil {
		return nil, err
	}

	s, err := store.New(a.config.Store.Capacity)
	if err != nil {
		return nil, err
	}
	p, err := snapshot.NewPersister(a.config.Store.SnapshotPath)
	if err != nil {
		return nil, err
	}
	if a.config.Store.Restore {
		restore(s, p.Path())
	}

	t, err := listener.NewMQTTTransport(a.config.Broker)
	if err != nil {
		return nil, err
	}
	l, err := listener.New(a.config.Listener, t, validator.New(), s, p, reg)
	if err != nil {
		return nil, err
	}

	return ingest.New(context.Background(), l, metrics.New(a.config.Metrics, reg)), nil
}

// restore inserts the reports of a previous snapshot, oldest first.
// A snapshot which can't be read is left to be overwritten by the next admitted report.
func restore(s *store.Store, path string) {
	reports, err := snapshot.NewManager(path).Snapshot()
	if err != nil {
		slog.Warn("Could not restore previous snapshot, starting empty", "path", path, "err", err)
		return
	}
	for _, r := range reports {
		s.Insert(r)
	}
	slog.Info("Restored previous snapshot", "path", path, "reports", s.Len())
}

// redacted returns a copy of the configuration which is safe to log.
func (c appConfig) redacted() appConfig {
	if c.Broker.Password != "" {
		c.Broker.Password = "<redacted>"
	}
	return c
}
