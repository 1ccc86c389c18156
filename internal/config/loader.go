package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".dispatcher"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for dispatcher settings.
const envPrefix = "DISPATCHER"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME, and finding
// none there is not an error; defaults are used. An explicit configPath
// that does not exist is an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("server.host", DefaultHost)
	viperCfg.SetDefault("server.port", DefaultPort)

	viperCfg.SetDefault("dispatch.work_timeout", DefaultWorkTimeoutSec)
	viperCfg.SetDefault("dispatch.checkpoint_interval", DefaultCheckpointIntervalSec)
	viperCfg.SetDefault("dispatch.retry_hint", DefaultRetryHintSec)
	viperCfg.SetDefault("dispatch.max_batch_size", DefaultMaxBatchSize)
	viperCfg.SetDefault("dispatch.shutdown_poll", DefaultShutdownPollSec)

	viperCfg.SetDefault("telemetry.log_level", DefaultLogLevel)
	viperCfg.SetDefault("telemetry.log_json", false)
	viperCfg.SetDefault("telemetry.prometheus", false)
}

// ParseLogLevel maps a config log level name to an slog level.
// Unrecognized names fall back to info.
func ParseLogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
