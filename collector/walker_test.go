package collector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joyshmitz/sbh/model"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkerFindsRustTargetCandidate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proj", "Cargo.toml"), 10)
	writeFile(t, filepath.Join(root, "proj", "target", "debug", "deps", "lib.rlib"), 1024)
	writeFile(t, filepath.Join(root, "proj", "target", "debug", "incremental", "x"), 1024)
	writeFile(t, filepath.Join(root, "proj", "target", "debug", "build", "y"), 1024)

	w := NewWalker(DefaultWalkerConfig())
	budget := &model.ScanBudget{EntriesRemaining: 10000, BytesRemaining: 1 << 30}
	_, candidates := w.Walk([]string{root}, budget)

	var found *model.CandidateInput
	for i := range candidates {
		if filepath.Base(candidates[i].Path) == "target" {
			found = &candidates[i]
		}
	}
	if found == nil {
		t.Fatalf("want a candidate for the target directory, got %+v", candidates)
	}
	if found.Classification.Category != model.CategoryRustTarget {
		t.Fatalf("want RustTarget classification, got %s", found.Classification.Category)
	}
	if !found.Signals.HasCargoToml {
		t.Fatalf("want HasCargoToml signal true given a sibling Cargo.toml")
	}
	if found.SizeBytes < 3072 {
		t.Fatalf("want aggregated size of at least the 3 written files, got %d", found.SizeBytes)
	}
}

func TestWalkerExcludesConfiguredPaths(t *testing.T) {
	root := t.TempDir()
	excluded := filepath.Join(root, "var", "lib", "containerd")
	writeFile(t, filepath.Join(excluded, "layer"), 1024)

	cfg := DefaultWalkerConfig()
	cfg.ExcludePaths = []string{excluded}
	w := NewWalker(cfg)
	budget := &model.ScanBudget{EntriesRemaining: 10000, BytesRemaining: 1 << 30}
	_, candidates := w.Walk([]string{root}, budget)

	var found bool
	for _, c := range candidates {
		if c.Path == excluded {
			found = true
			if !c.Excluded {
				t.Fatalf("excluded path must be marked Excluded")
			}
		}
		if strings.HasPrefix(c.Path, excluded+"/") {
			t.Fatalf("walker must not descend into an excluded directory, found %s", c.Path)
		}
	}
	if !found {
		t.Fatalf("want a candidate recorded for the excluded directory itself")
	}
}

func TestWalkerRespectsBudgetExhaustion(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, filepath.Join(root, "d", string(rune('a'+i))), 10)
	}
	w := NewWalker(DefaultWalkerConfig())
	budget := &model.ScanBudget{EntriesRemaining: 3, BytesRemaining: 1 << 30}
	entries, _ := w.Walk([]string{root}, budget)
	if len(entries) > 4 { // root's "d" entry + a few children before exhaustion
		t.Fatalf("want the walk to stop near the entry budget, got %d entries", len(entries))
	}
}

func TestWalkerMaxDepthStopsDescent(t *testing.T) {
	root := t.TempDir()
	deep := root
	for i := 0; i < 10; i++ {
		deep = filepath.Join(deep, "d")
	}
	writeFile(t, filepath.Join(deep, "f"), 10)

	cfg := DefaultWalkerConfig()
	cfg.MaxDepth = 2
	w := NewWalker(cfg)
	budget := &model.ScanBudget{EntriesRemaining: 10000, BytesRemaining: 1 << 30}
	entries, _ := w.Walk([]string{root}, budget)
	if len(entries) > 3 {
		t.Fatalf("want descent capped by MaxDepth, got %d entries: %+v", len(entries), entries)
	}
}
