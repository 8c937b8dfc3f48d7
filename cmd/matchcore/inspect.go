package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/talentsift/matchcore/persistence"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <snapshot>",
	Short: "Print summary information about a snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return inspect(args[0])
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

type snapshotInfo struct {
	Dimension    int       `json:"dimension"`
	Records      int       `json:"records"`
	Partitions   int       `json:"partitions"`
	StateVersion uint64    `json:"state_version"`
	FieldedIDs   int       `json:"fielded_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

func inspect(path string) error {
	snap, err := persistence.LoadFile(path)
	if err != nil {
		return err
	}

	partitions := 0
	if dim := snap.Index.Dimension; dim > 0 {
		partitions = len(snap.Index.Centroids) / dim
	}

	info := snapshotInfo{
		Dimension:    snap.Index.Dimension,
		Records:      len(snap.Index.Entries),
		Partitions:   partitions,
		StateVersion: snap.Index.Version,
		FieldedIDs:   len(snap.Fields),
		CreatedAt:    snap.CreatedAt,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
