package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sheets/internal/pipeline"
	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/destinations/sheets"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/registry"
	"github.com/ajitpratap0/nebula-sheets/pkg/logger"
	"github.com/ajitpratap0/nebula-sheets/pkg/metrics"
	"github.com/ajitpratap0/nebula-sheets/pkg/observability"

	// Import all available sources to register them
	_ "github.com/ajitpratap0/nebula-sheets/pkg/connector/sources/jetstream"
	_ "github.com/ajitpratap0/nebula-sheets/pkg/connector/sources/jsonl"
	_ "github.com/ajitpratap0/nebula-sheets/pkg/connector/sources/kafka"
)

var version = "0.1.0"

const telemetryShutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "sheets-connector",
		Short: "Stream records into Google Sheets",
		Long: `sheets-connector reads JSON records from a stream (stdin, a file, Kafka or
NATS JetStream) and appends each one to a Google Sheets range. Connection
failures are retried with exponential backoff; malformed records and rejected
appends are logged and skipped.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				_ = godotenv.Load(envFile)
				return
			}
			_ = godotenv.Load() // Ignore error if .env doesn't exist
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env if present)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sheets-connector v%s\n", version)
			fmt.Fprintf(out, "Sheets sink: %s\n", sheets.Version())
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available sources and sinks",
		Run: func(cmd *cobra.Command, args []string) {
			printConnectors(cmd.OutOrStdout(), registry.GetRegistry().List())
		},
	})

	var configFile string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and resolve its secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout(), configFile)
		},
	}
	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the connector YAML configuration (required)")
	_ = validateCmd.MarkFlagRequired("config")
	root.AddCommand(validateCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the connector until the stream ends or a signal arrives",
		Long: `Run the connector described by a YAML configuration file.

Example:
  sheets-connector run --config connector.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnector(ctx, configFile)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the connector YAML configuration (required)")
	_ = runCmd.MarkFlagRequired("config")
	root.AddCommand(runCmd)

	return root
}

func printConnectors(out io.Writer, infos []*registry.ConnectorInfo) {
	fmt.Fprintln(out, "Available Sources:")
	for _, info := range infos {
		if info.Type == core.ConnectorTypeSource {
			fmt.Fprintf(out, "  - %-10s %s\n", info.Name, info.Description)
		}
	}
	fmt.Fprintln(out, "\nAvailable Sinks:")
	for _, info := range infos {
		if info.Type == core.ConnectorTypeSink {
			fmt.Fprintf(out, "  - %-10s %s\n", info.Name, info.Description)
		}
	}
}

func loadConfig(configFile string) (*config.ConnectorConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", configFile, err)
	}
	return cfg, nil
}

func validateConfig(out io.Writer, configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	creds, err := cfg.Sheets.ResolveCredentials()
	if err != nil {
		return fmt.Errorf("secrets cannot be resolved: %w", err)
	}

	fmt.Fprintf(out, "configuration %s is valid\n", configFile)
	fmt.Fprintf(out, "  %s\n", cfg)
	fmt.Fprintf(out, "  service account: %s\n", creds.ClientEmail)
	return nil
}

// runConnector runs one connector until the source is exhausted, ctx is
// cancelled or a fatal error occurs. Cancellation is a clean exit.
func runConnector(ctx context.Context, configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(
		zap.String("component", "sheets-connector"),
		zap.String("connector", cfg.Name),
		zap.String("source", cfg.Source.Type),
	)
	log.Info("starting connector", zap.Stringer("config", cfg), zap.String("version", version))

	tracingCfg := observability.DefaultTracingConfig()
	tracingCfg.Enabled = cfg.Observability.EnableTracing
	tracingCfg.ServiceVersion = version
	if err := observability.InitTracing(tracingCfg); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := observability.Shutdown(sctx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	reg := registry.GetRegistry()

	source, err := reg.CreateSource(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create source %q: %w", cfg.Source.Type, err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			log.Warn("failed to close source", zap.Error(err))
		}
	}()

	sink, err := reg.CreateSink(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create sink %q: %w", cfg.Type, err)
	}

	connector := pipeline.NewConnector(source, sink, pipeline.NewConnectorConfig(cfg), log)

	if cfg.Observability.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.Observability.MetricsAddr, log)
		srv.SetHealthCheck(connector.Healthy)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	startTime := time.Now()

	if err := connector.Run(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && stderrors.Is(err, ctxErr) {
			log.Info("connector stopped by signal", zap.Duration("uptime", time.Since(startTime)))
			return nil
		}
		return fmt.Errorf("connector failed: %w", err)
	}

	log.Info("connector completed", zap.Duration("duration", time.Since(startTime)), zap.Any("stats", connector.Stats()))
	return nil
}
