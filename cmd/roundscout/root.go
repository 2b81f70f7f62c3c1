package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/roundscout/internal/config"
	"github.com/nao1215/roundscout/internal/log"
)

// NewRootCmd creates the root command for roundscout.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roundscout",
		Short: "Round-based crawler node with verifiable proofs",
		Long: `roundscout runs a node of a round-based crawling network.

Each round the node picks a search term, crawls the live search of the
source through an authenticated browser session, publishes the round's
records to content-addressed storage, and audits the proofs its peers
published by re-checking sampled posts against the source.

Credentials are read from TWITTER_USERNAME, TWITTER_PASSWORD and
TWITTER_VERIFICATION in the environment or a .env file.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .roundscout in current or home directory)")
	cmd.PersistentFlags().String("env-file", config.DefaultEnvFile, "dotenv file with source credentials")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewPublishCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds the Config from the persistent flags, the config file
// and the environment, and validates it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	envFile, err := flags.GetString("env-file")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}

	if cfg.Verbose, err = flags.GetBool("verbose"); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = flags.GetBool("log-json"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// setupLogger creates the secure logger and installs it as the default.
func setupLogger(cfg *config.Config) *slog.Logger {
	var logger *slog.Logger
	if cfg.LogJSON {
		logger = log.NewSecureJSONLogger(os.Stderr, cfg.Verbose)
	} else {
		logger = log.NewSecureLogger(os.Stderr, cfg.Verbose)
	}
	slog.SetDefault(logger)
	return logger
}
