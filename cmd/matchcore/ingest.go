package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/talentsift/matchcore/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest JSONL records into a snapshot",
	Long: `Ingest reads one JSON record per line (fields: id, text, fields),
embeds and indexes them, then writes a snapshot file. With no file argument
records are read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingest(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringP("out", "o", "", "snapshot file to write (default: snapshot path from config)")
	ingestCmd.Flags().Bool("rebuild", true, "rebuild index partitions after ingesting")
	ingestCmd.Flags().Int("partitions", 0, "partition count for the rebuild (0 = sqrt of record count)")
}

func readRecords(r io.Reader) ([]model.Record, error) {
	var records []model.Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func ingest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	config, err := getConfig()
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = config.Snapshot
	}
	if out == "" {
		return fmt.Errorf("no snapshot output path: pass --out or set snapshot in the config")
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
		return fmt.Errorf("no records to ingest")
	}

	engine, err := newEngine(ctx, config)
	if err != nil {
		return err
	}

	errs, err := engine.UpsertBatch(ctx, records)
	if err != nil {
		return err
	}
	failed := 0
	for i, itemErr := range errs {
		if itemErr != nil {
			failed++
			fmt.Fprintf(os.Stderr, "record %q: %v\n", records[i].ID, itemErr)
		}
	}

	if rebuild, _ := cmd.Flags().GetBool("rebuild"); rebuild {
		partitions, _ := cmd.Flags().GetInt("partitions")
		if err := engine.Rebuild(ctx, partitions); err != nil {
			return err
		}
	}

	if err := engine.SaveSnapshot(out); err != nil {
		return err
	}

	stats := engine.Stats()
	fmt.Printf("ingested %d records (%d failed), %d partitions, snapshot: %s\n",
		stats.Records, failed, stats.PartitionCount, out)
	return nil
}
