package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/joyshmitz/sbh/model"
)

func TestStateSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	snap := model.StateSnapshot{
		Timestamp:      time.Unix(1700000000, 0).UTC(),
		Mode:           model.ModeCanary,
		WorstMount:     "/data",
		FreePct:        4.2,
		Level:          model.Orange,
		Urgency:        0.6,
		LastDecisionID: 42,
	}
	if err := WriteStateSnapshot(path, snap); err != nil {
		t.Fatalf("unexpected error writing: %v", err)
	}

	got, err := ReadStateSnapshot(path)
	if err != nil {
		t.Fatalf("unexpected error reading: %v", err)
	}
	if got.Mode != model.ModeCanary || got.WorstMount != "/data" || got.LastDecisionID != 42 {
		t.Fatalf("want round-tripped snapshot, got %+v", got)
	}
}

func TestStateSnapshotOverwriteIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	WriteStateSnapshot(path, model.StateSnapshot{Mode: model.ModeObserve})
	WriteStateSnapshot(path, model.StateSnapshot{Mode: model.ModeEnforce})

	got, err := ReadStateSnapshot(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Mode != model.ModeEnforce {
		t.Fatalf("want the latest write to win, got %s", got.Mode)
	}
}
