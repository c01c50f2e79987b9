// Package cli provides the command-line interface for bulkgen.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/bulkgen/internal/client"
	"github.com/raphaelgruber/bulkgen/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	userID     string
	planID     string
	serverURL  string
	configPath string

	// Global config, loaded in PersistentPreRunE
	cfg config.Config

	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bulkgen",
	Short: "Bulk product content generation",
	Long: `Bulkgen generates product content in bulk: feed it a batch of item
names and attributes and it drives each one through an LLM, either
locally in this process or on a bulkgen server.

Interrupted local batches are recoverable: rerun with --resume to pick
up where the last run stopped.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, cleanup := config.SetupLogger(cfg.LogFile, level)
		logCleanup = cleanup
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// apiClient creates a client for the configured server.
func apiClient() *client.Client {
	return client.New(cfg.ServerURL, planID)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user identity for quota and sessions")
	rootCmd.PersistentFlags().StringVarP(&planID, "plan", "p", "pro", "billing plan ID")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "bulkgen server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "config file path")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "bulkgen.yaml"
	}
	return filepath.Join(home, ".bulkgen", "config.yaml")
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// requireUser aborts commands that need a user identity.
func requireUser() error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}
