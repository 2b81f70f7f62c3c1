package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <cid>",
		Short: "Validate a published proof against the live source",
		Long: `Validate retrieves the proof artifact at the given content address,
samples records from it and re-fetches each sampled post from the source
through an authenticated browser session.

The command exits with an error when the verdict is fail.

Examples:
  # Validate a peer's proof
  roundscout validate bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi

  # Re-check three samples without waiting between them
  roundscout validate --samples 3 --sample-delay 0s <cid>`,
		Args: cobra.ExactArgs(1),
		RunE: runValidateCmd,
	}

	cmd.Flags().Int("samples", 0, "Number of records to re-check (default from config)")
	cmd.Flags().Duration("sample-delay", 0, "Pause before each live re-check (default from config)")
	addCrawlFlags(cmd)

	return cmd
}

// runValidateCmd executes the validate command.
func runValidateCmd(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyCrawlFlags(cmd, cfg); err != nil {
		return err
	}
	if cmd.Flags().Changed("samples") {
		if cfg.Samples, err = cmd.Flags().GetInt("samples"); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("sample-delay") {
		if cfg.SampleDelay, err = cmd.Flags().GetDuration("sample-delay"); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg)
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger, appOptions{browser: true})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	v := a.validator.Validate(ctx, args[0])

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "verdict: %s\n", v.Status())
	if v.Reason != "" {
		fmt.Fprintf(out, "reason:  %s\n", v.Reason)
	}
	if len(v.Sampled) > 0 {
		fmt.Fprintf(out, "sampled: %s\n", strings.Join(v.Sampled, ", "))
	}

	if !v.Pass {
		return fmt.Errorf("proof %s failed validation", args[0])
	}
	return nil
}
