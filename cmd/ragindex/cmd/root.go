// Package cmd provides the CLI commands for ragindex.
package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reynard-dev/ragindex/internal/config"
	"github.com/reynard-dev/ragindex/internal/logging"
)

// DataDirName is the per-project directory for index data.
const DataDirName = ".ragindex"

var (
	configPath     string
	logLevel       string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ragindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ragindex",
		Short:         "Hybrid search indexing for documents and code",
		Long:          "ragindex chunks, embeds, and indexes documents for hybrid (semantic + keyword) search.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: .ragindex.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRemoveCmd())

	return cmd
}

func setupLogging(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	_, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	return nil
}

// loadConfig resolves the config path and loads configuration.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigName
	}
	return config.Load(path)
}

// dataDir returns the index data directory under root.
func dataDir(root string) string {
	return filepath.Join(root, DataDirName)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
