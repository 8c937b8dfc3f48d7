package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/talentsift/matchcore"
	"github.com/talentsift/matchcore/drift"
)

var driftCmd = &cobra.Command{
	Use:   "drift [file]",
	Short: "Report embedding drift across a stream of JSONL records",
	Long: `Drift embeds records window by window and reports the population
stability index of each window against the first. With no file argument
records are read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return driftReport(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(driftCmd)

	driftCmd.Flags().Int("window-size", 256, "samples per drift window")
	driftCmd.Flags().Float64("psi-threshold", 0.2, "PSI above which a window is flagged")
}

func driftReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	config, err := getConfig()
	if err != nil {
		return err
	}

	windowSize, _ := cmd.Flags().GetInt("window-size")
	psiThreshold, _ := cmd.Flags().GetFloat64("psi-threshold")
	if config.Drift != nil {
		if config.Drift.WindowSize > 0 && !cmd.Flags().Changed("window-size") {
			windowSize = config.Drift.WindowSize
		}
		if config.Drift.PSIThreshold > 0 && !cmd.Flags().Changed("psi-threshold") {
			psiThreshold = config.Drift.PSIThreshold
		}
	}

	in := io.Reader(os.Stdin)
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	records, err := readRecords(in)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records to analyze")
	}

	engine, err := newEngine(ctx, config, matchcore.WithDriftOptions(func(o *drift.Options) {
		o.WindowSize = windowSize
		o.WindowDuration = 0
		o.PSIThreshold = psiThreshold
	}))
	if err != nil {
		return err
	}

	if _, err := engine.UpsertBatch(ctx, records); err != nil {
		return err
	}
	// Flush the trailing partial window into the report.
	engine.RotateDriftWindow()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(engine.DriftSnapshots())
}
