package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joyshmitz/sbh/model"
)

// WriteStateSnapshot atomically replaces the daemon's status file: write
// to a temp file in the same directory, then os.Rename, so `sbh daemon
// status` never observes a half-written file. Adapted from the teacher's
// writeSummaryLine rotation idiom, but atomic-replace rather than append,
// since status is a single current value rather than a history.
func WriteStateSnapshot(path string, snap model.StateSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename state file into place: %w", err)
	}
	return nil
}

// ReadStateSnapshot reads the daemon's last-written status file.
func ReadStateSnapshot(path string) (model.StateSnapshot, error) {
	var snap model.StateSnapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parse state snapshot: %w", err)
	}
	return snap, nil
}
