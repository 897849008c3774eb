package engine

import (
	"testing"

	"github.com/joyshmitz/sbh/model"
)

func entry(path string, size uint64, modified int64) model.ScanEntry {
	return model.ScanEntry{RelPath: path, SizeBytes: size, ModifiedNanos: modified, Permissions: 0644, Inode: 1, DeviceID: 1}
}

func TestScanIndexDiffDetectsNewChangedRemoved(t *testing.T) {
	idx := NewScanIndex()
	idx.BuildFromEntries([]model.ScanEntry{
		entry("a", 100, 1),
		entry("b", 200, 1),
	}, nil)

	current := []model.ScanEntry{
		entry("a", 100, 1),   // unchanged
		entry("b", 999, 1),   // changed (size differs)
		entry("c", 50, 1),    // new
	}
	budget := &model.ScanBudget{EntriesRemaining: 100, BytesRemaining: 1 << 30}
	diff := idx.Diff(current, budget)

	if len(diff.NewPaths) != 1 || diff.NewPaths[0] != "c" {
		t.Fatalf("want new=[c], got %v", diff.NewPaths)
	}
	if len(diff.ChangedPaths) != 1 || diff.ChangedPaths[0] != "b" {
		t.Fatalf("want changed=[b], got %v", diff.ChangedPaths)
	}
	if len(diff.RemovedPaths) != 0 {
		t.Fatalf("want no removed paths, got %v", diff.RemovedPaths)
	}
	if diff.BudgetExhausted {
		t.Fatalf("budget should not be exhausted")
	}
}

func TestScanIndexDiffDetectsRemovedPaths(t *testing.T) {
	idx := NewScanIndex()
	idx.BuildFromEntries([]model.ScanEntry{entry("a", 1, 1), entry("b", 1, 1)}, nil)

	budget := &model.ScanBudget{EntriesRemaining: 100, BytesRemaining: 1 << 30}
	diff := idx.Diff([]model.ScanEntry{entry("a", 1, 1)}, budget)

	if len(diff.RemovedPaths) != 1 || diff.RemovedPaths[0] != "b" {
		t.Fatalf("want removed=[b], got %v", diff.RemovedPaths)
	}
}

func TestScanIndexDiffExhaustedBudgetDegradesHealth(t *testing.T) {
	idx := NewScanIndex()
	idx.BuildFromEntries(nil, nil)

	budget := &model.ScanBudget{EntriesRemaining: 1, BytesRemaining: 1 << 30}
	diff := idx.Diff([]model.ScanEntry{entry("a", 1, 1), entry("b", 1, 1)}, budget)

	if !diff.BudgetExhausted {
		t.Fatalf("want budget exhausted")
	}
	if idx.Health() != model.Degraded {
		t.Fatalf("want health degraded after budget exhaustion, got %s", idx.Health())
	}
	// Removed-path computation is skipped once the budget is exhausted.
	if len(diff.RemovedPaths) != 0 {
		t.Fatalf("want no removed-path computation under budget exhaustion, got %v", diff.RemovedPaths)
	}
}

func TestScanIndexCorruptReportsEveryPathAsChanged(t *testing.T) {
	idx := NewScanIndex()
	idx.BuildFromEntries([]model.ScanEntry{entry("a", 1, 1)}, nil)
	idx.MarkCorrupt()

	if !idx.RequiresFullScan() {
		t.Fatalf("corrupt index must require a full scan")
	}
	budget := &model.ScanBudget{EntriesRemaining: 100, BytesRemaining: 1 << 30}
	diff := idx.Diff([]model.ScanEntry{entry("a", 1, 1)}, budget)
	if len(diff.ChangedPaths) != 1 || diff.ChangedPaths[0] != "a" {
		t.Fatalf("corrupt index must report every supplied path as changed, got %v", diff.ChangedPaths)
	}
	if len(diff.NewPaths) != 0 {
		t.Fatalf("corrupt index must not classify anything as new, got %v", diff.NewPaths)
	}
}

func TestScanIndexHealthNeverHealsWithinACycle(t *testing.T) {
	idx := NewScanIndex()
	idx.BuildFromEntries(nil, nil)
	budget := &model.ScanBudget{EntriesRemaining: 1, BytesRemaining: 1 << 30}
	idx.Diff([]model.ScanEntry{entry("a", 1, 1), entry("b", 1, 1)}, budget)
	if idx.Health() != model.Degraded {
		t.Fatalf("want degraded after exhaustion, got %s", idx.Health())
	}
	// A subsequent diff with ample budget must not silently heal health
	// back to Healthy within the same cycle.
	ample := &model.ScanBudget{EntriesRemaining: 100, BytesRemaining: 1 << 30}
	idx.Diff([]model.ScanEntry{entry("a", 1, 1)}, ample)
	if idx.Health() != model.Degraded {
		t.Fatalf("health must not heal mid-cycle, got %s", idx.Health())
	}
}

func TestScanIndexCheckpointRoundTrip(t *testing.T) {
	idx := NewScanIndex()
	entries := []model.ScanEntry{
		entry("a/b", 123, 456),
		entry("c", 0, 0),
	}
	idx.BuildFromEntries(entries, []string{"a"})

	data := idx.SaveCheckpoint()
	restored, err := LoadCheckpoint(data)
	if err != nil {
		t.Fatalf("unexpected error loading checkpoint: %v", err)
	}
	if restored.Health() != model.Healthy {
		t.Fatalf("restored index must start Healthy, got %s", restored.Health())
	}

	budget := &model.ScanBudget{EntriesRemaining: 100, BytesRemaining: 1 << 30}
	diff := restored.Diff(entries, budget)
	if len(diff.NewPaths) != 0 || len(diff.ChangedPaths) != 0 || len(diff.RemovedPaths) != 0 {
		t.Fatalf("round-tripped checkpoint must diff clean against its source entries, got %+v", diff)
	}
}

func TestScanIndexCheckpointRejectsCorruptTrailer(t *testing.T) {
	idx := NewScanIndex()
	idx.BuildFromEntries([]model.ScanEntry{entry("a", 1, 1)}, nil)
	data := idx.SaveCheckpoint()
	data[len(data)-1] ^= 0xFF // flip a bit in the trailing digest

	_, err := LoadCheckpoint(data)
	if err == nil {
		t.Fatalf("want an error on trailer digest mismatch")
	}
}

func TestScanIndexCheckpointRejectsBadMagic(t *testing.T) {
	idx := NewScanIndex()
	idx.BuildFromEntries([]model.ScanEntry{entry("a", 1, 1)}, nil)
	data := idx.SaveCheckpoint()
	data[0] ^= 0xFF

	_, err := LoadCheckpoint(data)
	if err == nil {
		t.Fatalf("want an error on magic mismatch")
	}
}

func TestScanIndexCheckpointRejectsTruncatedData(t *testing.T) {
	_, err := LoadCheckpoint([]byte{1, 2, 3})
	if err == nil {
		t.Fatalf("want an error on truncated checkpoint data")
	}
}
