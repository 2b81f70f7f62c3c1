package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewPublishCmd creates the publish command.
func NewPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish [round]",
		Short: "Publish a round's records to content-addressed storage",
		Long: `Publish freezes a round, uploads its records as one artifact and prints
the content address of the proof.

Without an argument the current round is published. Publishing a round
twice prints the stored address. A failed upload leaves the round frozen
so the next publish retries the same snapshot.

Examples:
  # Publish the current round
  roundscout publish

  # Publish round 42
  roundscout publish 42`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPublishCmd,
	}
}

// runPublishCmd executes the publish command.
func runPublishCmd(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	round, err := roundArg(cmd, args, a)
	if err != nil {
		return err
	}

	c, err := a.publisher.Publish(ctx, round)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), c)
	return nil
}

// roundArg returns the round named by args[0], or the oracle's current
// round when args is empty.
func roundArg(cmd *cobra.Command, args []string, a *app) (int64, error) {
	if len(args) == 0 {
		round, err := a.oracle.CurrentRound(cmd.Context())
		if err != nil {
			return 0, fmt.Errorf("failed to read current round: %w", err)
		}
		return round, nil
	}
	round, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || round < 0 {
		return 0, fmt.Errorf("invalid round %q", args[0])
	}
	return round, nil
}
