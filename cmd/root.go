// Package cmd implements the firezap CLI.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

// Execute runs the root command.
func Execute() {
	root := &cobra.Command{
		Use:   "firezap",
		Short: "FireZap — WhatsApp session control plane",
		Long: "FireZap drives many independent WhatsApp connections through QR\n" +
			"pairing and streams each session's lifecycle to subscribers.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(sessionsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".firezap", "config.yaml")
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
