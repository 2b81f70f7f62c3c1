package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/roundscout/internal/config"
	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/node"
	"github.com/nao1215/roundscout/internal/report"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node: crawl, publish and audit every round",
		Long: `Run starts the node loop.

The node polls the round oracle and runs one pipeline per new round:
pick the search term, crawl the source, publish the round's records and
audit the proofs of the configured peers. The status and peer API is
served alongside unless --api is empty.

Examples:
  # Run until interrupted
  roundscout run

  # Run the current round once and print a Markdown report
  roundscout run --once --format markdown

  # Route the browser and HTTP clients through an external Tor proxy
  roundscout run --tor --external-tor 127.0.0.1:9050`,
		Args: cobra.NoArgs,
		RunE: runRunCmd,
	}

	cmd.Flags().Bool("once", false, "Run the current round once and exit")
	cmd.Flags().StringP("format", "f", "text", "Round report format: text, markdown or json")
	cmd.Flags().String("api", "", "Listen address of the status API, overriding the config (empty disables)")
	addCrawlFlags(cmd)

	return cmd
}

// runRunCmd executes the run command.
func runRunCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyCrawlFlags(cmd, cfg); err != nil {
		return err
	}

	once, err := cmd.Flags().GetBool("once")
	if err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("api") {
		if cfg.APIAddr, err = cmd.Flags().GetString("api"); err != nil {
			return err
		}
	}

	writer, err := report.New(format, cmd.OutOrStdout(), getVersion())
	if err != nil {
		return err
	}

	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{browser: true})
	if err != nil {
		return err
	}

	if once {
		return runOnce(ctx, a, writer)
	}
	return runNode(ctx, a, writer, logger)
}

// runOnce runs the pipeline for the current round and prints its report.
func runOnce(ctx context.Context, a *app, writer report.Writer) (err error) {
	defer func() {
		err = errors.Join(err, a.close())
	}()

	n := node.New(a.oracle, a.newPipeline, node.WithLogger(a.logger))
	r, tickErr := n.Tick(ctx)
	if r != nil {
		if _, werr := writer.Write(r); werr != nil {
			return werr
		}
	}
	return tickErr
}

// runNode runs the node loop and the API until ctx is canceled.
func runNode(ctx context.Context, a *app, writer report.Writer, logger *slog.Logger) (err error) {
	defer func() {
		err = errors.Join(err, a.close())
	}()

	n := node.New(a.oracle, a.newPipeline,
		node.WithLogger(logger),
		node.WithInterval(a.cfg.Interval),
		node.WithReportHandler(func(r *model.RoundReport) {
			if _, err := writer.Write(r); err != nil {
				logger.Warn("failed to write round report", "round", r.Round, "error", err)
			}
		}),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Run(gctx)
	})
	if a.cfg.APIAddr != "" {
		srv := a.newServer()
		g.Go(func() error {
			return srv.ListenAndServe(gctx, a.cfg.APIAddr)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyCrawlFlags copies the browser and Tor flags onto cfg.
func applyCrawlFlags(cmd *cobra.Command, cfg *config.Config) error {
	noHeadless, err := cmd.Flags().GetBool("no-headless")
	if err != nil {
		return err
	}
	if noHeadless {
		cfg.Headless = false
	}

	useTor, err := cmd.Flags().GetBool("tor")
	if err != nil {
		return err
	}
	externalTor, err := cmd.Flags().GetString("external-tor")
	if err != nil {
		return err
	}
	if useTor {
		cfg.UseTor = true
	}
	if externalTor != "" {
		cfg.UseTor = true
		cfg.UseExternalTor = true
		cfg.TorProxyAddress = externalTor
	}
	return nil
}

// addCrawlFlags registers the flags read by applyCrawlFlags.
func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-headless", false, "Show the browser window")
	cmd.Flags().Bool("tor", false, "Route traffic through Tor")
	cmd.Flags().StringP("external-tor", "e", "",
		"Use external Tor proxy at specified address instead of the embedded daemon (implies --tor)")
}
