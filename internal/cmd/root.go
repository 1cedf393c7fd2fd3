// Package cmd provides the CLI commands for pseudows.
package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/kleeedolinux/pseudows/debug"
	"github.com/kleeedolinux/pseudows/internal/config"
)

var (
	configPath string
	logLevel   string
	logFile    string
	logJSON    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pseudows",
	Short: "WebSocket emulation over request/response exchanges",
	Long: `pseudows runs a server for, and a client of, a message socket
emulated over HTTP POST exchanges: a handshake allocates a session, then
each drain carries the queued outbound messages and returns the inbound ones.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		return setup(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return debug.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this rotated file")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConnectCmd())
}

func setup(cmd *cobra.Command) error {
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = logJSON
	}

	if err := debug.Configure(cfg.Log.Debug()); err != nil {
		return errors.Wrap(err, "failed to initialize logging")
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
