// Package commands implements CLI command handlers for the dispatcher.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/LumiOpen/translation-dispatcher/internal/config"
	"github.com/LumiOpen/translation-dispatcher/internal/server"
	"github.com/LumiOpen/translation-dispatcher/internal/tracker"
	"github.com/LumiOpen/translation-dispatcher/pkg/observability"
	"github.com/LumiOpen/translation-dispatcher/pkg/version"
)

// ErrBadArguments marks configuration and flag validation failures so
// main can map them to exit code 2.
var ErrBadArguments = errors.New("bad arguments")

// checkpointSuffix is appended to the output path when no explicit
// checkpoint path is given.
const checkpointSuffix = ".checkpoint"

// ServeCommand holds flag state for the serve command.
type ServeCommand struct {
	configPath string

	infile     string
	outfile    string
	checkpoint string

	host string
	port int

	workTimeoutSec        int
	checkpointIntervalSec int

	logJSON  bool
	logLevel string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	sc := &ServeCommand{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher server",
		Long: `Serve the input file to workers over HTTP. The server exits on its own
once every input row has a result in the output file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sc.run(cmd)
		},
	}

	cmd.Flags().StringVar(&sc.configPath, "config", "", "config file path (default .dispatcher.yaml in CWD or $HOME)")
	cmd.Flags().StringVar(&sc.infile, "infile", "", "input file path")
	cmd.Flags().StringVar(&sc.outfile, "outfile", "", "output file path")
	cmd.Flags().StringVar(&sc.checkpoint, "checkpoint", "", "checkpoint file path (default <outfile>.checkpoint)")
	cmd.Flags().StringVar(&sc.host, "host", config.DefaultHost, "listen host")
	cmd.Flags().IntVar(&sc.port, "port", config.DefaultPort, "listen port")
	cmd.Flags().IntVar(&sc.workTimeoutSec, "work-timeout", config.DefaultWorkTimeoutSec, "seconds before issued work is reissued")
	cmd.Flags().IntVar(&sc.checkpointIntervalSec, "checkpoint-interval", config.DefaultCheckpointIntervalSec, "seconds between checkpoint writes")
	cmd.Flags().BoolVar(&sc.logJSON, "log-json", false, "JSON log output")
	cmd.Flags().StringVar(&sc.logLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")

	return cmd
}

// run loads configuration, applies flag overrides, and runs the server
// to completion.
func (sc *ServeCommand) run(cmd *cobra.Command) error {
	cfg, err := sc.loadConfig(cmd)
	if err != nil {
		return err
	}

	providers, err := observability.Init(observability.Config{
		ServiceVersion: version.Version,
		ServiceName:    "translation-dispatcher",
		Mode:           observability.ModeServe,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		Prometheus:     cfg.Telemetry.Prometheus,
		LogLevel:       config.ParseLogLevel(cfg.Telemetry.LogLevel),
		LogJSON:        cfg.Telemetry.LogJSON,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	tr, err := tracker.Open(tracker.Config{
		InputPath:          cfg.Files.Infile,
		OutputPath:         cfg.Files.Outfile,
		CheckpointPath:     cfg.Files.Checkpoint,
		WorkTimeout:        time.Duration(cfg.Dispatch.WorkTimeoutSec) * time.Second,
		CheckpointInterval: time.Duration(cfg.Dispatch.CheckpointIntervalSec) * time.Second,
		Logger:             providers.Logger,
	})
	if err != nil {
		return fmt.Errorf("open tracker: %w", err)
	}

	providers.Logger.Info("dispatcher starting",
		"infile", cfg.Files.Infile,
		"outfile", cfg.Files.Outfile,
		"checkpoint", cfg.Files.Checkpoint,
		"work_timeout", cfg.Dispatch.WorkTimeoutSec,
		"checkpoint_interval", cfg.Dispatch.CheckpointIntervalSec)

	srv, err := server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		RetryHint:    time.Duration(cfg.Dispatch.RetryHintSec) * time.Second,
		MaxBatchSize: cfg.Dispatch.MaxBatchSize,
		ShutdownPoll: time.Duration(cfg.Dispatch.ShutdownPollSec) * time.Second,
	}, tr, providers)
	if err != nil {
		return err
	}

	runErr := srv.Run(ctx)
	if runErr != nil {
		return runErr
	}

	stats, statsErr := tr.Stats()
	if statsErr == nil {
		providers.Logger.Info("run complete",
			"rows_written", humanize.Comma(stats.LastProcessedWorkID+1),
			"expired_reissues", stats.ExpiredReissues,
			"duplicate_completions", stats.DuplicateCompletions)
	}

	return nil
}

// loadConfig merges the config file, environment, and explicit flags.
// Flags set on the command line win over file and environment values.
func (sc *ServeCommand) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(sc.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArguments, err)
	}

	if cmd.Flags().Changed("infile") || cfg.Files.Infile == "" {
		cfg.Files.Infile = sc.infile
	}

	if cmd.Flags().Changed("outfile") || cfg.Files.Outfile == "" {
		cfg.Files.Outfile = sc.outfile
	}

	if cmd.Flags().Changed("checkpoint") {
		cfg.Files.Checkpoint = sc.checkpoint
	}

	if cmd.Flags().Changed("host") {
		cfg.Server.Host = sc.host
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = sc.port
	}

	if cmd.Flags().Changed("work-timeout") {
		cfg.Dispatch.WorkTimeoutSec = sc.workTimeoutSec
	}

	if cmd.Flags().Changed("checkpoint-interval") {
		cfg.Dispatch.CheckpointIntervalSec = sc.checkpointIntervalSec
	}

	if cmd.Flags().Changed("log-json") {
		cfg.Telemetry.LogJSON = sc.logJSON
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Telemetry.LogLevel = sc.logLevel
	}

	if cfg.Files.Checkpoint == "" && cfg.Files.Outfile != "" {
		cfg.Files.Checkpoint = cfg.Files.Outfile + checkpointSuffix
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArguments, validateErr)
	}

	return cfg, nil
}
