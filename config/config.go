package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// a type with service configuration parameters
type serviceConfig struct {
	// port on which the service listens
	Port int `yaml:"port"`
	// maximum number of allowed incoming connections
	MaxConnections int `yaml:"max_connections"`
	// interval at which a task processor re-checks its input queue when the
	// task is idle (seconds)
	PollInterval int `yaml:"poll_interval"`
	// interval at which a running task logs its progress (seconds)
	ProgressLogInterval int `yaml:"progress_log_interval"`
	// size (in uncompressed bytes) at which an output segment is rotated,
	// compressed, and uploaded
	SegmentThreshold int64 `yaml:"segment_threshold"`
	// the minimum level at which messages are logged
	// (DEBUG, INFO, WARNING, ERROR, CRITICAL)
	LogLevel string `yaml:"log_level"`
}

// global config variables
var Service serviceConfig
var Dirs dirsConfig
var S3 s3Config
var DataSources map[string]dataSourceConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Service     serviceConfig               `yaml:"service"`
	Dirs        dirsConfig                  `yaml:"dirs"`
	S3          s3Config                    `yaml:"s3"`
	DataSources map[string]dataSourceConfig `yaml:"data_sources"`
}

// This helper reads configuration data, returning an error indicating success
// or failure. All environment variables of the form ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// Before we do anything else, expand any provided environment variables.
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.Port = 8080
	conf.Service.MaxConnections = 100
	conf.Service.PollInterval = 1
	conf.Service.ProgressLogInterval = 60
	conf.Service.SegmentThreshold = 500 * 1024 * 1024
	conf.Service.LogLevel = "INFO"
	conf.S3.MaxAttempts = 3
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	// copy the config data into place
	Service = conf.Service
	Dirs = conf.Dirs
	S3 = conf.S3
	DataSources = conf.DataSources

	// a replica ID namespaces every path so that several replicas can share a
	// filesystem without stepping on one another
	Dirs.applyReplicaId()

	return err
}

// slog levels corresponding to each accepted log_level string
var logLevels = map[string]slog.Level{
	"DEBUG":    slog.LevelDebug,
	"INFO":     slog.LevelInfo,
	"WARNING":  slog.LevelWarn,
	"ERROR":    slog.LevelError,
	"CRITICAL": slog.LevelError,
}

// Returns the slog level corresponding to the configured log_level.
func LogLevel() slog.Level {
	if level, found := logLevels[Service.LogLevel]; found {
		return level
	}
	return slog.LevelInfo
}

// This helper validates the given service parameters, returning an
// error indicating success or failure.
func validateServiceParameters(params serviceConfig) error {
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 0-65535)", params.Port)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid max_connections: %d (must be positive)",
			params.MaxConnections)
	}
	if params.PollInterval <= 0 {
		return fmt.Errorf("Invalid poll_interval: %d (must be positive)",
			params.PollInterval)
	}
	if params.ProgressLogInterval <= 0 {
		return fmt.Errorf("Invalid progress_log_interval: %d (must be positive)",
			params.ProgressLogInterval)
	}
	if params.SegmentThreshold <= 0 {
		return fmt.Errorf("Invalid segment_threshold: %d (must be positive)",
			params.SegmentThreshold)
	}
	if _, found := logLevels[params.LogLevel]; !found {
		return fmt.Errorf("Invalid log_level: %s", params.LogLevel)
	}
	return nil
}

// This helper validates the given config file, returning an error that
// indicates success or failure.
func validateConfig() error {
	err := validateServiceParameters(Service)
	if err != nil {
		return err
	}

	err = validateDirs(Dirs)
	if err != nil {
		return err
	}

	err = validateS3Parameters(S3)
	if err != nil {
		return err
	}

	for name, source := range DataSources {
		if err = validateDataSource(name, source); err != nil {
			return err
		}
	}
	return nil
}

// Initializes the data fetching engine's configuration using the given YAML
// byte data.
func Init(yamlData []byte) error {

	// Read the configuration from our YAML file.
	err := readConfig(yamlData)
	if err != nil {
		return err
	}

	// Validate the configuration.
	err = validateConfig()
	return err
}
