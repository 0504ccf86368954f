package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/theodox/multimaya"
	"github.com/theodox/multimaya/internal/config"
	"github.com/theodox/multimaya/internal/logging"
	"github.com/theodox/multimaya/internal/ui"
)

// Process exit codes.
const (
	exitOK             = 0
	exitChildException = 1
	exitProtocol       = 2
	exitLaunch         = 3
)

var rootFlags struct {
	configFile string
	logLevel   string
	logFormat  string
	verbose    bool
}

// Loaded by PersistentPreRunE for every subcommand.
var (
	cfg     *config.Config
	logger  *slog.Logger
	console = ui.NewUI()
)

var rootCmd = &cobra.Command{
	Use:   "multimaya",
	Short: "Run Python functions out of process",
	Long: `multimaya runs a top-level Python function in a freshly launched
interpreter, optionally mapped over a multiprocessing pool, and reports its
return value or the exception it raised.

Configuration is read from ~/.multimaya/config.yaml (or --config) and
MULTIMAYA_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(rootFlags.configFile)
		if err != nil {
			return err
		}
		format := cfg.Logging.Format
		if cmd.Flags().Changed("log-format") {
			format = rootFlags.logFormat
		}
		level := cfg.Logging.Level
		if cmd.Flags().Changed("log-level") {
			level = rootFlags.logLevel
		}
		logger = logging.NewLogger(format, level, rootFlags.verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.configFile, "config", "c", "", "Config file (default: ~/.multimaya/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Debug logging, including child stderr")
}

func execute() int {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}
	code := exitCodeFor(err)
	console.Error(err.Error())
	var childErr *multimaya.ChildError
	if errors.As(err, &childErr) && len(childErr.Tasks) == 0 && childErr.Trace != "" {
		console.Block(childErr.Trace)
	}
	return code
}

// exitCodeFor maps an error to the process exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, multimaya.ErrChildException):
		return exitChildException
	case errors.Is(err, multimaya.ErrProtocol):
		return exitProtocol
	}
	return exitLaunch
}

// usageError marks bad command-line input.
func usageError(format string, args ...interface{}) error {
	return &multimaya.ArgumentError{Field: "flags", Reason: fmt.Sprintf(format, args...)}
}
