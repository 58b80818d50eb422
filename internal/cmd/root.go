// Package cmd implements the nimbusdl command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusdl/internal/config"
	"github.com/3leaps/nimbusdl/internal/observability"
)

const appName = "nimbusdl"

var (
	cfgFile string
	verbose bool

	// appConfig is resolved in PersistentPreRunE before any command runs.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Mirror an object storage prefix onto a local directory",
	Long: `nimbusdl lists every key under a bucket prefix and recreates it as a
local directory tree: keys ending in "/" become directories, every other
key is downloaded into a file.

The local directory is reset before each run.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./nimbusdl.yaml or ~/.config/nimbusdl/nimbusdl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func loadRuntime(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(cmd.Context(), cfgFile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg
	observability.InitCLILogger(appName, verbose, cfg.Logging.Level)
	observability.CLILogger.Debug("Loaded configuration",
		zap.String("config", cfgFile),
		zap.Int("concurrency", cfg.Download.Concurrency),
		zap.Int("retry_count", cfg.Download.RetryCount),
		zap.Duration("retry_delay", cfg.Download.RetryDelay),
		zap.String("storage_provider", cfg.Storage.Provider))
	return nil
}

// Execute runs the root command and returns the process exit code.
// SIGINT and SIGTERM cancel the command context.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = observability.CLILogger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return ExitCode(err)
	}
	return 0
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode extracts the exit code from err. Errors without one (for example
// cobra usage errors) map to ExitInvalidArgument.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return foundry.ExitInvalidArgument
}
