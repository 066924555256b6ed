package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"blinksend/config"
)

// Version is the released CLI version.
const Version = "0.1.0"

var (
	dataDir string
	verbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blinksend",
		Short: "Send files between peers through a relay",
		Long: `BlinkSend moves files between peers connected to one relay.
Run "blinksend relay" on one machine, then "blinksend receive" and
"blinksend send" on the peers.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "data directory (default: per-user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		relayCmd(),
		peersCmd(),
		sendCmd(),
		receiveCmd(),
		historyCmd(),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "BlinkSend v%s\n", Version)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// loadConfig loads config.json from --data-dir or the default location.
func loadConfig() (*config.Config, string, error) {
	if dataDir != "" {
		return config.LoadOrCreateIn(dataDir)
	}
	return config.LoadOrCreate()
}
