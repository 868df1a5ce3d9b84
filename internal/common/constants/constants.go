// Package constants is responsible for defining the constants used in the application.
// It also provides the default data locations used by the services.
package constants

import (
	"log/slog"
	"path/filepath"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// WebServiceCmdName is the name of the web service command.
	WebServiceCmdName = "ais-insights-web-service"
	// IngestServiceCmdName is the name of the ingest service command.
	IngestServiceCmdName = "ais-insights-ingest-service"

	// DefaultLogLevel is the log level used when no verbosity flag is given.
	DefaultLogLevel = slog.LevelWarn
)

// Service constants.
const (
	// DefaultServiceFolder is the name of the default root folder for services.
	DefaultServiceFolder = "ais-insights"
	// DefaultSnapshotFile is the name of the file holding the current report snapshot.
	DefaultSnapshotFile = "ais_data.json"
	// DefaultCapacity is the maximum number of reports kept in memory and in the snapshot.
	DefaultCapacity = 1000

	// DefaultBrokerHost is the MQTT broker host used when none is configured.
	DefaultBrokerHost = "localhost"
	// DefaultBrokerPort is the MQTT broker port used when none is configured.
	DefaultBrokerPort = 1883
	// DefaultTopic is the MQTT topic AIS reports are published on.
	DefaultTopic = "vessel/ais"

	// TimestampLayout is the layout of report timestamps.
	TimestampLayout = "2006-01-02 15:04:05"
)

// Service variables.
var (
	// DefaultServiceDataDir is the default data directory for services.
	DefaultServiceDataDir = filepath.Join("/var/lib", DefaultServiceFolder)
	// DefaultSnapshotPath is the default location of the snapshot file.
	DefaultSnapshotPath = filepath.Join(DefaultServiceDataDir, DefaultSnapshotFile)
)
