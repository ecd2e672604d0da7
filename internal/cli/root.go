package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"newsrag/config"
	"newsrag/internal/logger"
	"newsrag/internal/metrics"
)

var (
	cfgFile     string
	cfg         *config.Config
	rootDir     string
	dataDir     string
	logLevel    string
	metricsFile string
	log         *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "newsrag",
	Short: "Ask grounded questions about a set of web articles",
	Long: `newsrag fetches web pages, splits them into chunks, embeds them into a
local vector index and answers questions from the indexed text with citations.

Example usage:
  newsrag build https://a.example/story https://b.example/story
  newsrag query -q "what happened to interest rates?"
  newsrag compare --topic "inflation" https://a.example/story https://b.example/story
  newsrag report -o report.md`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if err := config.LoadDotEnv(rootDir); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if dataDir != "" {
			cfg.Storage.DataDir = dataDir
		}
		if !filepath.IsAbs(cfg.Storage.DataDir) {
			cfg.Storage.DataDir = filepath.Join(rootDir, cfg.Storage.DataDir)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if metricsFile != "" {
			cfg.Metrics.TextfilePath = metricsFile
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		log, err = logger.New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		return nil
	},
}

// Execute runs the root command, cancelling on SIGINT/SIGTERM, and exits
// with status 1 on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)

	if log != nil {
		_ = log.Sync()
	}
	if cfg != nil && cfg.Metrics.TextfilePath != "" {
		if merr := metrics.WriteTextfile(cfg.Metrics.TextfilePath); merr != nil && err == nil {
			err = fmt.Errorf("failed to write metrics: %w", merr)
		}
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./newsrag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "working directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding the index (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the command")
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
