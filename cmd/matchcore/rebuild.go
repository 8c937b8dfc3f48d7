package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recluster the index partitions of a snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return rebuild(cmd)
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)

	rebuildCmd.Flags().StringP("snapshot", "s", "", "snapshot file to rebuild (default: snapshot path from config)")
	rebuildCmd.Flags().IntP("partitions", "p", 0, "partition count (0 = sqrt of record count)")
}

func rebuild(cmd *cobra.Command) error {
	ctx := context.Background()

	config, err := getConfig()
	if err != nil {
		return err
	}
	engine, err := loadEngine(ctx, cmd, config)
	if err != nil {
		return err
	}

	partitions, _ := cmd.Flags().GetInt("partitions")
	if err := engine.Rebuild(ctx, partitions); err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("snapshot")
	if path == "" {
		path = config.Snapshot
	}
	if err := engine.SaveSnapshot(path); err != nil {
		return err
	}

	stats := engine.Stats()
	fmt.Printf("rebuilt %d records into %d partitions\n", stats.Records, stats.PartitionCount)
	return nil
}
