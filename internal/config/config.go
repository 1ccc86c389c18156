// Package config loads and validates dispatcher configuration from
// config file, environment variables, and defaults.
package config

import "errors"

// Config is the top-level configuration struct for the dispatcher.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Files     FilesConfig     `mapstructure:"files"`
	Server    ServerConfig    `mapstructure:"server"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// FilesConfig holds the input, output, and checkpoint paths.
type FilesConfig struct {
	Infile     string `mapstructure:"infile"`
	Outfile    string `mapstructure:"outfile"`
	Checkpoint string `mapstructure:"checkpoint"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DispatchConfig holds the work-issuing knobs. Durations are in seconds.
type DispatchConfig struct {
	WorkTimeoutSec        int `mapstructure:"work_timeout"`
	CheckpointIntervalSec int `mapstructure:"checkpoint_interval"`
	RetryHintSec          int `mapstructure:"retry_hint"`
	MaxBatchSize          int `mapstructure:"max_batch_size"`
	ShutdownPollSec       int `mapstructure:"shutdown_poll"`
}

// TelemetryConfig holds logging and telemetry export settings.
type TelemetryConfig struct {
	LogLevel     string `mapstructure:"log_level"`
	LogJSON      bool   `mapstructure:"log_json"`
	Prometheus   bool   `mapstructure:"prometheus"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	Environment  string `mapstructure:"environment"`
}

// Default configuration values.
const (
	DefaultHost                  = "0.0.0.0"
	DefaultPort                  = 8000
	DefaultWorkTimeoutSec        = 3600
	DefaultCheckpointIntervalSec = 60
	DefaultRetryHintSec          = 5
	DefaultMaxBatchSize          = 1024
	DefaultShutdownPollSec       = 5
	DefaultLogLevel              = "info"
)

// Sentinel errors for configuration validation.
var (
	// ErrMissingInfile indicates no input file path was given.
	ErrMissingInfile = errors.New("files.infile is required")
	// ErrMissingOutfile indicates no output file path was given.
	ErrMissingOutfile = errors.New("files.outfile is required")
	// ErrInvalidPort indicates the port is outside 1-65535.
	ErrInvalidPort = errors.New("server.port must be between 1 and 65535")
	// ErrInvalidWorkTimeout indicates the work timeout is not positive.
	ErrInvalidWorkTimeout = errors.New("dispatch.work_timeout must be positive")
	// ErrInvalidCheckpointInterval indicates the checkpoint interval is not positive.
	ErrInvalidCheckpointInterval = errors.New("dispatch.checkpoint_interval must be positive")
	// ErrInvalidRetryHint indicates the retry hint is not positive.
	ErrInvalidRetryHint = errors.New("dispatch.retry_hint must be positive")
	// ErrInvalidMaxBatchSize indicates the batch size cap is not positive.
	ErrInvalidMaxBatchSize = errors.New("dispatch.max_batch_size must be positive")
	// ErrInvalidShutdownPoll indicates the shutdown poll period is not positive.
	ErrInvalidShutdownPoll = errors.New("dispatch.shutdown_poll must be positive")
	// ErrInvalidLogLevel indicates an unrecognized log level name.
	ErrInvalidLogLevel = errors.New("telemetry.log_level must be one of debug, info, warn, error")
)

// maxPort is the highest valid TCP port.
const maxPort = 65535

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Files.Infile == "" {
		return ErrMissingInfile
	}

	if c.Files.Outfile == "" {
		return ErrMissingOutfile
	}

	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return ErrInvalidPort
	}

	return c.validateDispatch()
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.WorkTimeoutSec <= 0 {
		return ErrInvalidWorkTimeout
	}

	if c.Dispatch.CheckpointIntervalSec <= 0 {
		return ErrInvalidCheckpointInterval
	}

	if c.Dispatch.RetryHintSec <= 0 {
		return ErrInvalidRetryHint
	}

	if c.Dispatch.MaxBatchSize <= 0 {
		return ErrInvalidMaxBatchSize
	}

	if c.Dispatch.ShutdownPollSec <= 0 {
		return ErrInvalidShutdownPoll
	}

	switch c.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return ErrInvalidLogLevel
	}
}
