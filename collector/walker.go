package collector

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joyshmitz/sbh/engine"
	"github.com/joyshmitz/sbh/model"
)

// WalkerConfig bounds one ballast-directory walk.
type WalkerConfig struct {
	MaxDepth     int
	ExcludePaths []string
}

// DefaultWalkerConfig mirrors the teacher's bigfiles scanner's depth cap.
func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{
		MaxDepth: 6,
		ExcludePaths: []string{
			"/var/lib/docker/overlay2", "/var/lib/containerd",
			"/proc", "/sys", "/dev",
		},
	}
}

// Walker performs a budget-gated recursive directory walk, producing both
// the raw scan entries the Merkle index diffs against and the candidate
// directories the scoring engine evaluates.
type Walker struct {
	cfg WalkerConfig
}

// NewWalker constructs a walker from config.
func NewWalker(cfg WalkerConfig) *Walker { return &Walker{cfg: cfg} }

// Walk scans every root, stopping early once budget is exhausted, and
// returns the entries discovered plus the candidate directories found.
func (w *Walker) Walk(roots []string, budget *model.ScanBudget) ([]model.ScanEntry, []model.CandidateInput) {
	var entries []model.ScanEntry
	var candidates []model.CandidateInput
	for _, root := range roots {
		if budget.Exhausted() {
			break
		}
		w.walk(root, root, 0, budget, &entries, &candidates)
	}
	return entries, candidates
}

func (w *Walker) excluded(path string) bool {
	for _, p := range w.cfg.ExcludePaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// walk recurses into dir, appending a ScanEntry per child and a
// CandidateInput per subdirectory, returning dir's aggregate file size so
// the caller (dir's own candidate record) carries a real reclaimable size.
func (w *Walker) walk(dir, parent string, depth int, budget *model.ScanBudget, entries *[]model.ScanEntry, candidates *[]model.CandidateInput) uint64 {
	if budget.Exhausted() || depth > w.cfg.MaxDepth {
		return 0
	}
	children, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.Name()
	}

	var totalSize uint64
	for _, c := range children {
		if budget.Exhausted() {
			break
		}
		full := filepath.Join(dir, c.Name())
		info, err := c.Info()
		if err != nil {
			continue
		}

		se := model.ScanEntry{
			RelPath:       full,
			SizeBytes:     uint64(info.Size()),
			ModifiedNanos: info.ModTime().UnixNano(),
			IsDir:         c.IsDir(),
			Permissions:   uint32(info.Mode().Perm()),
		}
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			se.Inode = st.Ino
			se.DeviceID = uint64(st.Dev)
		}
		budget.EntriesRemaining--
		budget.BytesRemaining -= int64(se.SizeBytes)
		*entries = append(*entries, se)

		if c.IsDir() {
			if w.excluded(full) {
				cand := w.classify(full, names, info, se.SizeBytes)
				cand.Excluded = true
				*candidates = append(*candidates, cand)
				continue
			}
			childSize := w.walk(full, dir, depth+1, budget, entries, candidates)
			totalSize += childSize
			*candidates = append(*candidates, w.classify(full, names, info, childSize))
			continue
		}
		totalSize += se.SizeBytes
	}
	return totalSize
}

func (w *Walker) classify(path string, siblingNames []string, info os.FileInfo, sizeBytes uint64) model.CandidateInput {
	inner, _ := os.ReadDir(path)
	innerNames := make([]string, len(inner))
	for i, e := range inner {
		innerNames[i] = e.Name()
	}

	sig := model.Signals{
		HasGit:         containsName(siblingNames, ".git"),
		HasCargoToml:   containsName(siblingNames, "Cargo.toml"),
		HasIncremental: hasMarker(path, innerNames, "incremental"),
		HasDeps:        hasMarker(path, innerNames, "deps"),
		HasBuild:       hasMarker(path, innerNames, "build"),
	}

	return model.CandidateInput{
		Path:           path,
		SizeBytes:      sizeBytes,
		AgeHours:       time.Since(info.ModTime()).Hours(),
		Classification: engine.Classify(path, sig),
		Signals:        sig,
		Excluded:       w.excluded(path),
	}
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

// hasMarker checks for marker as either an immediate child, or one level
// beneath a cargo profile directory (target/debug/deps, target/release/build).
func hasMarker(path string, immediate []string, marker string) bool {
	if containsName(immediate, marker) {
		return true
	}
	for _, profile := range []string{"debug", "release"} {
		if !containsName(immediate, profile) {
			continue
		}
		nested, err := os.ReadDir(filepath.Join(path, profile))
		if err != nil {
			continue
		}
		for _, e := range nested {
			if e.Name() == marker {
				return true
			}
		}
	}
	return false
}
