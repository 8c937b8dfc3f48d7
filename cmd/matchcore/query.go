package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talentsift/matchcore"
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Match records in a snapshot against a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return query(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringP("snapshot", "s", "", "snapshot file to load (default: snapshot path from config)")
	queryCmd.Flags().IntP("top-k", "k", 10, "number of results")
	queryCmd.Flags().Float64P("threshold", "t", 0, "minimum vector similarity")
	queryCmd.Flags().StringSlice("skills", nil, "required skills, e.g. --skills go,sql")
	queryCmd.Flags().Bool("filter", false, "restrict search to records carrying every required skill")
	queryCmd.Flags().Int("budget", 0, "recall budget: partitions to probe (0 = exact scan)")
	queryCmd.Flags().Bool("explain", false, "attach explanations and confidence bands")
}

func loadEngine(ctx context.Context, cmd *cobra.Command, config *Config) (*matchcore.Engine, error) {
	path, _ := cmd.Flags().GetString("snapshot")
	if path == "" {
		path = config.Snapshot
	}
	if path == "" {
		return nil, fmt.Errorf("no snapshot path: pass --snapshot or set snapshot in the config")
	}

	engine, err := newEngine(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := engine.LoadSnapshot(path); err != nil {
		return nil, err
	}
	return engine, nil
}

func query(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	config, err := getConfig()
	if err != nil {
		return err
	}
	engine, err := loadEngine(ctx, cmd, config)
	if err != nil {
		return err
	}

	topK, _ := cmd.Flags().GetInt("top-k")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	skills, _ := cmd.Flags().GetStringSlice("skills")
	filter, _ := cmd.Flags().GetBool("filter")
	budget, _ := cmd.Flags().GetInt("budget")
	explain, _ := cmd.Flags().GetBool("explain")

	q := matchcore.MatchQuery{
		Text:                strings.Join(args, " "),
		TopK:                topK,
		SimilarityThreshold: threshold,
		RecallBudget:        budget,
		Exhaustive:          budget == 0,
		FilterByFields:      filter,
		Explain:             explain,
	}
	if len(skills) > 0 {
		q.RequiredFields = map[string][]string{"skills": skills}
	}

	resp, err := engine.Match(ctx, q)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
