package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/roundscout/internal/config"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status and peer API without crawling",
		Long: `Serve exposes the node's stored proofs, records and audits over HTTP
without running rounds. Peers read /rounds/:round/proof from it during audits.

Examples:
  roundscout serve
  roundscout serve --addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().String("addr", "", "Listen address (default from config)")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.APIAddr = addr
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = config.DefaultAPIAddr
	}

	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return a.newServer().ListenAndServe(ctx, cfg.APIAddr)
}
