package main

import (
	"github.com/spf13/cobra"

	"github.com/nao1215/roundscout/internal/report"
)

// defaultStatusProofs is how many recent proofs status lists.
const defaultStatusProofs = 10

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the node has stored for a round",
		Long: `Status prints the search term, record count and audits stored for a
round, followed by the most recent published proofs.

Examples:
  # Status of the current round
  roundscout status

  # Status of round 42 as JSON
  roundscout status --round 42 --format json`,
		Args: cobra.NoArgs,
		RunE: runStatusCmd,
	}

	cmd.Flags().Int64P("round", "r", -1, "Round to show (default: current round)")
	cmd.Flags().StringP("format", "f", "text", "Output format: text, markdown or json")
	cmd.Flags().IntP("proofs", "n", defaultStatusProofs, "Number of recent proofs to list")

	return cmd
}

// runStatusCmd executes the status command.
func runStatusCmd(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	round, err := cmd.Flags().GetInt64("round")
	if err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	proofs, err := cmd.Flags().GetInt("proofs")
	if err != nil {
		return err
	}

	writer, err := report.New(format, cmd.OutOrStdout(), getVersion())
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

	if round < 0 {
		if round, err = roundArg(cmd, nil, a); err != nil {
			return err
		}
	}

	status, err := a.status(ctx, round, proofs)
	if err != nil {
		return err
	}
	_, err = writer.WriteStatus(status)
	return err
}
