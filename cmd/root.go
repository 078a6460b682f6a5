package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LouisBoudreau/licensed/internal/config"
	"github.com/LouisBoudreau/licensed/internal/logger"
	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/reporter"
	"github.com/LouisBoudreau/licensed/internal/scanner"
)

// Version is set at build time
var Version = "3.9.1"

var (
	flagConfig    string
	flagRoot      string
	flagLogLevel  string
	flagLogFormat string
	flagOutput    string
	flagFormat    string
)

// errDrift is returned when a command completes but found something to review
var errDrift = errors.New("dependency records need attention")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "licensed",
	Short: "Cache and verify the license text of project dependencies",
	Long: `licensed enumerates the dependencies of a project across package
ecosystems, captures each dependency's license and notice text into a
cache of YAML records, and reports when installed license text drifts
from what was recorded.

Supported sources:
  - bundler:   Gemfile, Gemfile.lock
  - cargo:     Cargo.toml
  - cocoapods: Podfile, Podfile.lock
  - go:        go.mod
  - npm:       package.json, package-lock.json
  - pip:       requirements.txt, pyproject.toml

Examples:
  # Capture records for every dependency into .licenses/
  licensed cache

  # Check the cache without writing, failing on drift
  licensed status

  # Output SARIF for GitHub Code Scanning
  licensed status --format sarif --output licensed.sarif

  # List enumerated dependencies of the project in ./app
  licensed list --root ./app`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errDrift):
		stop()
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(2)
	}
}

func init() {
	reporter.ToolVersion = Version

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Configuration file (default: <root>/.licensed.yml)")
	rootCmd.PersistentFlags().StringVarP(&flagRoot, "root", "r", ".", "Project root")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: console, structured")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "", "Output file path (default: stdout)")
	rootCmd.PersistentFlags().StringVarP(&flagFormat, "format", "f", "terminal", "Output format: terminal, json, sarif")

	rootCmd.AddCommand(cacheCmd, statusCmd, listCmd, versionCmd)
}

// session holds what every subcommand builds from flags and configuration
type session struct {
	logger  *zap.Logger
	scanner *scanner.Scanner
}

func newSession() (*session, error) {
	if !validFormat(flagFormat) {
		return nil, fmt.Errorf("unsupported output format: %s", flagFormat)
	}

	loaded, err := config.Load(flagRoot, flagConfig)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}

	log, err := logger.NewFactory().Create(logger.Level(cfg.LogLevel), logger.Format(cfg.LogFormat))
	if err != nil {
		return nil, err
	}
	if loaded.File != "" {
		log.Debug("loaded configuration", zap.String("file", loaded.File))
	}

	s, err := scanner.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scanner: %w", err)
	}
	return &session{logger: log, scanner: s}, nil
}

func (s *session) close() {
	_ = s.logger.Sync()
}

// writeReport renders the report in the requested format
func writeReport(w io.Writer, report models.Report) error {
	output, err := reporter.Get(flagFormat).Report(report)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	return writeOutput(w, output)
}

func writeOutput(w io.Writer, output []byte) error {
	if flagOutput != "" {
		if err := os.WriteFile(flagOutput, output, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Report written to %s\n", flagOutput)
		return nil
	}
	_, err := w.Write(output)
	return err
}

func validFormat(format string) bool {
	for _, f := range reporter.Formats {
		if f == format {
			return true
		}
	}
	return false
}
