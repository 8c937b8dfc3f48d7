package persistence

import (
	"fmt"
	"os"
	"path/filepath"
)

// SaveFile writes a snapshot atomically: encode to a temp file in the target
// directory, fsync, then rename over the destination. A crash mid-write can
// never leave a partially written snapshot readable at path.
func SaveFile(path string, snap *Snapshot, optFns ...func(o *Options)) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// Best-effort cleanup on any failure path.
		_ = os.Remove(tmpName)
	}()

	if err := Write(tmp, snap, optFns...); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// LoadFile reads and validates a snapshot file.
func LoadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
