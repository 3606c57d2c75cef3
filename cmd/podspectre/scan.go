package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/podspectre/internal/app"
	"github.com/ppiankov/podspectre/internal/k8s"
	"github.com/ppiankov/podspectre/internal/reporter"
	"github.com/ppiankov/podspectre/pkg/config"
)

// NewScanCmd creates the scan command
func NewScanCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan all clusters once and print the daily summary",
		Long: `Scan every configured cluster, store today's snapshot and compare it
with yesterday's to report new, ongoing and resolved abnormal pods.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return flags.load(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fleet, err := k8s.NewFleet(cfg)
			if err != nil {
				return fmt.Errorf("failed to discover clusters: %w", err)
			}
			return runScan(cmd.Context(), cfg, fleet, cmd.OutOrStdout())
		},
	}

	flags.bind(cmd, cfg)

	// Output flags
	cmd.Flags().StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "Output directory (- for stdout)")
	cmd.Flags().StringVar(&cfg.Format, "format", cfg.Format, "Output format (text, json, sarif)")
	cmd.Flags().BoolVar(&cfg.FailOnNew, "fail-on-new", false, "Exit with code 6 when new abnormal pods are found")

	return cmd
}

// runScan runs one scan against fleet and writes the report to out.
func runScan(ctx context.Context, cfg *config.Config, fleet *k8s.Fleet, out io.Writer) error {
	p, err := newPipeline(ctx, cfg, fleet, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	state, err := p.coord.RunScan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if isFirstRun {
		fmt.Fprintln(os.Stderr, app.FirstRunHint)
		fmt.Fprintln(os.Stderr)
	}

	if err := reporter.New(cfg, version, out).Generate(state); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if cfg.FailOnNew && len(state.New) > 0 {
		return &FindingsError{Count: len(state.New)}
	}
	return nil
}
