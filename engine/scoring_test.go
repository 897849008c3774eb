package engine

import (
	"testing"

	"github.com/joyshmitz/sbh/model"
)

func TestScoringVetoOpenFileAlwaysKeeps(t *testing.T) {
	s := NewScoringEngine(DefaultScoringConfig())
	in := model.CandidateInput{
		Path: "/tmp/x", AgeHours: 1000, SizeBytes: 5 << 30, IsOpen: true,
		Classification: model.ArtifactClassification{NameConfidence: 0.9, StructuralConfidence: 0.9},
	}
	got := s.ScoreBatch([]model.CandidateInput{in}, 1.0)[0]
	if !got.Vetoed || got.VetoReason != "open-file" {
		t.Fatalf("want veto open-file, got vetoed=%v reason=%q", got.Vetoed, got.VetoReason)
	}
	if got.Decision.Action != model.ActionKeep {
		t.Fatalf("vetoed candidate must resolve to Keep, got %s", got.Decision.Action)
	}
}

func TestScoringVetoGitPresenceOverridesHighConfidence(t *testing.T) {
	s := NewScoringEngine(DefaultScoringConfig())
	in := model.CandidateInput{
		Path: "/home/u/proj/target", AgeHours: 1000, SizeBytes: 5 << 30,
		Signals:        model.Signals{HasGit: true},
		Classification: model.ArtifactClassification{NameConfidence: 0.95, StructuralConfidence: 0.95},
	}
	got := s.ScoreBatch([]model.CandidateInput{in}, 1.0)[0]
	if !got.Vetoed || got.VetoReason != "source-or-excluded" {
		t.Fatalf("want veto source-or-excluded, got vetoed=%v reason=%q", got.Vetoed, got.VetoReason)
	}
}

func TestScoringVetoTooYoung(t *testing.T) {
	cfg := DefaultScoringConfig()
	s := NewScoringEngine(cfg)
	in := model.CandidateInput{Path: "/x", AgeHours: 0.1}
	got := s.ScoreBatch([]model.CandidateInput{in}, 0)[0]
	if !got.Vetoed || got.VetoReason != "too-young" {
		t.Fatalf("want veto too-young, got vetoed=%v reason=%q", got.Vetoed, got.VetoReason)
	}
}

func TestScoringHighConfidenceOldLargeArtifactDeletes(t *testing.T) {
	cfg := DefaultScoringConfig()
	s := NewScoringEngine(cfg)
	in := model.CandidateInput{
		Path:      "/home/u/proj/target",
		AgeHours:  24 * 60, // 60 days, well past the 1-week midpoint
		SizeBytes: 4 << 30, // 4 GiB, above the 2 GiB reference
		Classification: model.ArtifactClassification{
			NameConfidence: 0.9, StructuralConfidence: 0.9,
		},
	}
	got := s.ScoreBatch([]model.CandidateInput{in}, 0.5)[0]
	if got.Vetoed {
		t.Fatalf("unexpected veto: %s", got.VetoReason)
	}
	if got.Decision.Action != model.ActionDelete {
		t.Fatalf("want Delete for a stale, large, high-confidence artifact, got %s (total=%v posterior=%v)",
			got.Decision.Action, got.TotalScore, got.Decision.PosteriorAbandoned)
	}
}

func TestScoringLowConfidenceFreshSmallArtifactKeeps(t *testing.T) {
	cfg := DefaultScoringConfig()
	s := NewScoringEngine(cfg)
	in := model.CandidateInput{
		Path:      "/home/u/proj/src",
		AgeHours:  2,
		SizeBytes: 4096,
		Classification: model.ArtifactClassification{
			NameConfidence: 0.05, StructuralConfidence: 0.0,
		},
	}
	got := s.ScoreBatch([]model.CandidateInput{in}, 0)[0]
	if got.Decision.Action != model.ActionKeep {
		t.Fatalf("want Keep for a fresh, tiny, low-confidence path, got %s", got.Decision.Action)
	}
}

func TestScoringEvidenceLedgerSumsToTotalScore(t *testing.T) {
	s := NewScoringEngine(DefaultScoringConfig())
	in := model.CandidateInput{
		Path: "/home/u/proj/node_modules", AgeHours: 500, SizeBytes: 1 << 30,
		Classification: model.ArtifactClassification{NameConfidence: 0.7, StructuralConfidence: 0.6},
	}
	got := s.ScoreBatch([]model.CandidateInput{in}, 0.3)[0]
	sum := got.Ledger.Total()
	if diff := sum - got.TotalScore; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("evidence ledger must sum exactly to total_score: ledger=%v total=%v", sum, got.TotalScore)
	}
	wantOrder := []string{"location", "name", "age", "size", "structure"}
	for i, term := range got.Ledger.Terms {
		if term.Name != wantOrder[i] {
			t.Fatalf("ledger term %d: got %q, want %q (canonical order)", i, term.Name, wantOrder[i])
		}
	}
}

func TestScoringPressureMultiplierClamped(t *testing.T) {
	s := NewScoringEngine(DefaultScoringConfig())
	in := model.CandidateInput{Path: "/x", AgeHours: 10, SizeBytes: 1024}

	low := s.ScoreBatch([]model.CandidateInput{in}, -10)[0]
	if low.Factors.PressureMultiplier != 0.5 {
		t.Fatalf("want pressure multiplier floored at 0.5, got %v", low.Factors.PressureMultiplier)
	}
	high := s.ScoreBatch([]model.CandidateInput{in}, 10)[0]
	if high.Factors.PressureMultiplier != 2.0 {
		t.Fatalf("want pressure multiplier capped at 2.0, got %v", high.Factors.PressureMultiplier)
	}
}

func TestScoringPreferredRootsRaisesLocationFactor(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.PreferredRoots = []string{"/home/u/proj"}
	s := NewScoringEngine(cfg)

	inside := s.ScoreBatch([]model.CandidateInput{{Path: "/home/u/proj/target", AgeHours: 10}}, 0)[0]
	outside := s.ScoreBatch([]model.CandidateInput{{Path: "/var/tmp/target", AgeHours: 10}}, 0)[0]
	if inside.Factors.Location != 0.9 {
		t.Fatalf("want location factor 0.9 under a preferred root, got %v", inside.Factors.Location)
	}
	if outside.Factors.Location != 0.3 {
		t.Fatalf("want location factor 0.3 outside preferred roots, got %v", outside.Factors.Location)
	}
}

func TestScoreBatchIsOrderIndependent(t *testing.T) {
	s := NewScoringEngine(DefaultScoringConfig())
	a := model.CandidateInput{Path: "/a", AgeHours: 100, SizeBytes: 1 << 20}
	b := model.CandidateInput{Path: "/b", AgeHours: 5, SizeBytes: 1 << 10, IsOpen: true}

	first := s.ScoreBatch([]model.CandidateInput{a, b}, 0.4)
	second := s.ScoreBatch([]model.CandidateInput{b, a}, 0.4)

	byPath := func(scores []model.CandidacyScore) map[string]model.CandidacyScore {
		m := make(map[string]model.CandidacyScore)
		for _, sc := range scores {
			m[sc.Path] = sc
		}
		return m
	}
	m1, m2 := byPath(first), byPath(second)
	for path := range m1 {
		if m1[path].TotalScore != m2[path].TotalScore {
			t.Fatalf("scoring must be independent of batch order for %q", path)
		}
	}
}

func TestSortByScoreDescTieBreaksByPath(t *testing.T) {
	scores := []model.CandidacyScore{
		{Path: "z", TotalScore: 0.5},
		{Path: "a", TotalScore: 0.5},
		{Path: "m", TotalScore: 0.9},
	}
	idx := sortByScoreDesc(scores)
	got := []string{scores[idx[0]].Path, scores[idx[1]].Path, scores[idx[2]].Path}
	want := []string{"m", "a", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sort order = %v, want %v", got, want)
		}
	}
}
