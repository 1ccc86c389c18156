package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a config that passes validation.
func validConfig() Config {
	return Config{
		Files: FilesConfig{
			Infile:     "in.jsonl",
			Outfile:    "out.jsonl",
			Checkpoint: "out.jsonl.checkpoint",
		},
		Server: ServerConfig{Host: DefaultHost, Port: DefaultPort},
		Dispatch: DispatchConfig{
			WorkTimeoutSec:        DefaultWorkTimeoutSec,
			CheckpointIntervalSec: DefaultCheckpointIntervalSec,
			RetryHintSec:          DefaultRetryHintSec,
			MaxBatchSize:          DefaultMaxBatchSize,
			ShutdownPollSec:       DefaultShutdownPollSec,
		},
		Telemetry: TelemetryConfig{LogLevel: DefaultLogLevel},
	}
}

func TestConfig_Validate_OK(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "missing infile", mutate: func(c *Config) { c.Files.Infile = "" }, wantErr: ErrMissingInfile},
		{name: "missing outfile", mutate: func(c *Config) { c.Files.Outfile = "" }, wantErr: ErrMissingOutfile},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: ErrInvalidPort},
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: ErrInvalidPort},
		{name: "work timeout", mutate: func(c *Config) { c.Dispatch.WorkTimeoutSec = 0 }, wantErr: ErrInvalidWorkTimeout},
		{name: "checkpoint interval", mutate: func(c *Config) { c.Dispatch.CheckpointIntervalSec = -1 }, wantErr: ErrInvalidCheckpointInterval},
		{name: "retry hint", mutate: func(c *Config) { c.Dispatch.RetryHintSec = 0 }, wantErr: ErrInvalidRetryHint},
		{name: "max batch size", mutate: func(c *Config) { c.Dispatch.MaxBatchSize = 0 }, wantErr: ErrInvalidMaxBatchSize},
		{name: "shutdown poll", mutate: func(c *Config) { c.Dispatch.ShutdownPollSec = 0 }, wantErr: ErrInvalidShutdownPoll},
		{name: "log level", mutate: func(c *Config) { c.Telemetry.LogLevel = "loud" }, wantErr: ErrInvalidLogLevel},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(&cfg)

			assert.ErrorIs(t, cfg.Validate(), tc.wantErr)
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()

	// An explicit but absent config path is an error; viper reports it
	// at read time.
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultWorkTimeoutSec, cfg.Dispatch.WorkTimeoutSec)
	assert.Equal(t, DefaultMaxBatchSize, cfg.Dispatch.MaxBatchSize)
	assert.Equal(t, DefaultLogLevel, cfg.Telemetry.LogLevel)
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dispatcher.yaml")
	content := `
files:
  infile: /data/in.jsonl
  outfile: /data/out.jsonl
server:
  port: 9100
dispatch:
  work_timeout: 120
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/in.jsonl", cfg.Files.Infile)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Dispatch.WorkTimeoutSec)

	// Unset keys keep their defaults.
	assert.Equal(t, DefaultCheckpointIntervalSec, cfg.Dispatch.CheckpointIntervalSec)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("unknown"))
}
