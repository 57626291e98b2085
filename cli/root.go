// Package cli implements the respcache command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// persistent flags
	configFilenameFlag string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// Version is set at build time.
	Version = "DEV"

	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "respcache",
	Short: "respcache is a caching HTTP/1.1 forward proxy",
	Long: `respcache reads HTTP/1.1 responses strictly, decides from Cache-Control whether they
may be cached, and keeps the cacheable ones in a small in-memory LRU cache.

It also ships the canned origin servers it is tested against, a response inspector and
a Cache-Control evaluator.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.ErrOrStderr())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
			logFile = nil
		}
	},
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFilenameFlag, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	rootCmd.PersistentFlags().StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stderr)")
}

// setupLogging points the global logger at the console and, if requested, a log file.
func setupLogging(console io.Writer) error {
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to the console
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: console})
	if logFilenameFlag != "" {
		f, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		logFile = f
		logOutputs = append(logOutputs, f)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("version", Version).Logger()
	return nil
}
