package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/joyshmitz/sbh/model"
)

// ScoringConfig configures the deterministic weighted Bayesian scorer (C4).
type ScoringConfig struct {
	LocationWeight   float64
	NameWeight       float64
	AgeWeight        float64
	SizeWeight       float64
	StructureWeight  float64

	FalsePositiveLoss float64
	FalseNegativeLoss float64
	KeepCost          float64
	CalibrationFloor  float64 // observation count that saturates calibration_score to 1.0

	MinAgeHours float64
	MinScore    float64 // total_score floor to qualify for Delete
	GreyBandLo  float64 // expected-loss delta band that resolves to Review
	GreyBandHi  float64

	SizeReferenceGiB float64 // size factor saturates near this reference

	// PreferredRoots, if non-empty, raises the location factor for
	// candidates whose path is under one of these prefixes.
	PreferredRoots []string
}

// DefaultScoringConfig returns weights summing to 1.0 with a conservative
// false-negative (missed cleanup) loss three times the false-positive
// (wrongful delete) loss, biasing the engine toward caution.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		LocationWeight:    0.20,
		NameWeight:        0.20,
		AgeWeight:         0.15,
		SizeWeight:        0.15,
		StructureWeight:   0.30,
		FalsePositiveLoss: 1.0,
		FalseNegativeLoss: 3.0,
		KeepCost:          0.05,
		CalibrationFloor:  30,
		MinAgeHours:       1.0,
		MinScore:          0.35,
		GreyBandLo:        -0.05,
		GreyBandHi:        0.05,
		SizeReferenceGiB:  2.0,
	}
}

// ScoringEngine scores candidates deterministically given an urgency
// level derived from C2.
type ScoringEngine struct {
	cfg ScoringConfig
	// observationCount feeds calibration_score; advanced externally
	// (typically mirrored from the guardrail's observation count).
	observationCount int
}

// NewScoringEngine constructs a scorer from config.
func NewScoringEngine(cfg ScoringConfig) *ScoringEngine {
	return &ScoringEngine{cfg: cfg}
}

// SetObservationCount updates the calibration sample count used to derive
// calibration_score.
func (s *ScoringEngine) SetObservationCount(n int) { s.observationCount = n }

// ScoreBatch implements C4's score_batch: scores every input independent
// of order, deterministically.
func (s *ScoringEngine) ScoreBatch(inputs []model.CandidateInput, urgency float64) []model.CandidacyScore {
	out := make([]model.CandidacyScore, len(inputs))
	for i, in := range inputs {
		out[i] = s.scoreOne(in, urgency)
	}
	return out
}

func (s *ScoringEngine) scoreOne(in model.CandidateInput, urgency float64) model.CandidacyScore {
	cs := model.CandidacyScore{
		Path:           in.Path,
		Classification: in.Classification,
		SizeBytes:      in.SizeBytes,
		AgeHours:       in.AgeHours,
	}

	// 1. Veto checks, in priority order.
	vetoed, reason := s.veto(in)
	cs.Vetoed = vetoed
	cs.VetoReason = reason

	// 2. Factors.
	factors := model.ScoreFactors{
		Location:           s.locationFactor(in.Path),
		Name:               clamp01(in.Classification.NameConfidence),
		Age:                ageFactor(in.AgeHours),
		Size:               sizeFactor(in.SizeBytes, s.cfg.SizeReferenceGiB),
		Structure:          clamp01(in.Classification.StructuralConfidence),
		PressureMultiplier: clampRange(0.5+1.5*urgency, 0.5, 2.0),
	}
	cs.Factors = factors

	// 3. Total score + evidence ledger, in canonical order.
	ledger := model.EvidenceLedger{}
	addTerm := func(name string, weight, value float64) {
		contribution := weight * value * factors.PressureMultiplier
		ledger.Terms = append(ledger.Terms, model.EvidenceTerm{
			Name: name, Weight: weight, Value: value, Contribution: contribution,
		})
	}
	addTerm("location", s.cfg.LocationWeight, factors.Location)
	addTerm("name", s.cfg.NameWeight, factors.Name)
	addTerm("age", s.cfg.AgeWeight, factors.Age)
	addTerm("size", s.cfg.SizeWeight, factors.Size)
	addTerm("structure", s.cfg.StructureWeight, factors.Structure)

	total := ledger.Total()
	cs.TotalScore = total
	ledger.Summary = fmt.Sprintf("total=%.4f vetoed=%v category=%s", total, vetoed, in.Classification.Category)
	cs.Ledger = ledger

	// 4. Bayesian decision.
	prior := priorAbandoned(total)
	posterior := bayesianUpdate(prior, factors.Structure, factors.Name)
	lossKeep := (1-posterior)*s.cfg.KeepCost + posterior*s.cfg.FalseNegativeLoss
	lossDelete := posterior*0 + (1-posterior)*s.cfg.FalsePositiveLoss

	calib := 1.0
	if s.cfg.CalibrationFloor > 0 {
		calib = float64(s.observationCount) / s.cfg.CalibrationFloor
		if calib > 1 {
			calib = 1
		}
	}

	action := model.ActionKeep
	switch {
	case vetoed:
		action = model.ActionKeep
	case lossDelete < lossKeep && total >= s.cfg.MinScore:
		delta := lossDelete - lossKeep
		if delta >= s.cfg.GreyBandLo && delta <= s.cfg.GreyBandHi {
			action = model.ActionReview
		} else {
			action = model.ActionDelete
		}
	case lossDelete < lossKeep:
		action = model.ActionReview
	default:
		action = model.ActionKeep
	}
	if vetoed && action == model.ActionDelete {
		action = model.ActionKeep // never happens given the switch above, kept as a belt-and-braces guard
	}

	cs.Decision = model.DecisionOutcome{
		Action:             action,
		PosteriorAbandoned: posterior,
		ExpectedLossKeep:   lossKeep,
		ExpectedLossDelete: lossDelete,
		CalibrationScore:   calib,
	}
	return cs
}

// veto applies the three veto predicates in order, returning the first
// that fires.
func (s *ScoringEngine) veto(in model.CandidateInput) (bool, string) {
	if in.IsOpen {
		return true, "open-file"
	}
	if in.Excluded || in.Signals.HasGit || in.Signals.HasCargoToml {
		return true, "source-or-excluded"
	}
	if in.AgeHours < s.cfg.MinAgeHours {
		return true, "too-young"
	}
	return false, ""
}

func (s *ScoringEngine) locationFactor(path string) float64 {
	if len(s.cfg.PreferredRoots) == 0 {
		return 0.5
	}
	for _, root := range s.cfg.PreferredRoots {
		if strings.HasPrefix(path, root) {
			return 0.9
		}
	}
	return 0.3
}

// ageFactor is a logistic curve in hours-since-modified, saturating near
// 1.0 after a few weeks of inactivity.
func ageFactor(ageHours float64) float64 {
	if ageHours < 0 {
		ageHours = 0
	}
	const midpointHours = 7 * 24.0 // one week
	const steepness = 1.0 / (2 * 24.0)
	return logistic(ageHours, midpointHours, steepness)
}

// sizeFactor is a logistic curve in byte size, saturating beyond
// referenceGiB.
func sizeFactor(sizeBytes uint64, referenceGiB float64) float64 {
	if referenceGiB <= 0 {
		referenceGiB = 1
	}
	gib := float64(sizeBytes) / (1 << 30)
	midpoint := referenceGiB / 2
	steepness := 4.0 / referenceGiB
	return logistic(gib, midpoint, steepness)
}

func logistic(x, midpoint, steepness float64) float64 {
	v := 1.0 / (1.0 + math.Exp(-steepness*(x-midpoint)))
	return clamp01(v)
}

// priorAbandoned is a monotone map of total_score to a prior probability
// of abandonment, used as the Bayesian starting point.
func priorAbandoned(totalScore float64) float64 {
	return clamp01(totalScore)
}

// bayesianUpdate folds structural + name evidence into the prior via a
// log-odds update, a closed-form Bayesian combiner monotone in both
// inputs (mirrors the teacher's domainConfidence clamp pattern, §4.4).
func bayesianUpdate(prior, structuralConfidence, nameConfidence float64) float64 {
	prior = clampRange(prior, 1e-6, 1-1e-6)
	logOdds := math.Log(prior / (1 - prior))
	evidence := 2.0*structuralConfidence + 1.0*nameConfidence
	logOdds += evidence
	posterior := 1.0 / (1.0 + math.Exp(-logOdds))
	return clamp01(posterior)
}

func clamp01(v float64) float64 { return clampRange(v, 0, 1) }

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sortByScoreDesc returns a deterministic score-descending order with a
// lexicographic-path tiebreak, used by the policy engine's Canary budget
// allocation.
func sortByScoreDesc(scores []model.CandidacyScore) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := scores[idx[a]], scores[idx[b]]
		if sa.TotalScore != sb.TotalScore {
			return sa.TotalScore > sb.TotalScore
		}
		return sa.Path < sb.Path
	})
	return idx
}
