package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/talentsift/matchcore/blobstore"
	"github.com/talentsift/matchcore/persistence"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Back up and restore snapshot files",
}

var snapshotBackupCmd = &cobra.Command{
	Use:   "backup <snapshot>",
	Short: "Copy a snapshot file into a blob store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotBackup(cmd, args[0])
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Fetch a snapshot blob and write it as a local file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotRestore(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotBackupCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)

	snapshotBackupCmd.Flags().String("store", "", "blob store root directory")
	snapshotBackupCmd.Flags().String("name", "", "blob name (default: the snapshot file name)")

	snapshotRestoreCmd.Flags().String("store", "", "blob store root directory")
	snapshotRestoreCmd.Flags().StringP("out", "o", "", "local file to write (default: the blob name)")
}

func openStore(cmd *cobra.Command) (blobstore.Store, error) {
	root, _ := cmd.Flags().GetString("store")
	if root == "" {
		return nil, fmt.Errorf("no blob store: pass --store")
	}
	return blobstore.NewLocalStore(root)
}

func snapshotBackup(cmd *cobra.Command, path string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Reject blobs that would not restore.
	if _, err := persistence.Read(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = filepath.Base(path)
	}
	if err := store.Put(context.Background(), name, data); err != nil {
		return err
	}

	fmt.Printf("backed up %s as %s (%d bytes)\n", path, name, len(data))
	return nil
}

func snapshotRestore(cmd *cobra.Command, name string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	data, err := store.Get(context.Background(), name)
	if err != nil {
		return err
	}
	snap, err := persistence.Read(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = filepath.Base(name)
	}
	if err := persistence.SaveFile(out, snap); err != nil {
		return err
	}

	fmt.Printf("restored %s to %s (%d records)\n", name, out, len(snap.Index.Entries))
	return nil
}
