package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/joyshmitz/sbh/model"
)

// DecisionRecordBuilder assigns monotonic decision_ids and converts
// CandidacyScores into DecisionRecords (C9). A single instance is
// process-wide; RestoreHighWaterMark must be called once on crash
// recovery before any Build call.
type DecisionRecordBuilder struct {
	nextID uint64
}

// NewDecisionRecordBuilder constructs a builder starting at id 1.
func NewDecisionRecordBuilder() *DecisionRecordBuilder {
	return &DecisionRecordBuilder{}
}

// RestoreHighWaterMark fast-forwards the counter past the last persisted
// decision_id after a crash.
func (b *DecisionRecordBuilder) RestoreHighWaterMark(lastPersisted uint64) {
	if lastPersisted > b.nextID {
		b.nextID = lastPersisted
	}
}

// Build converts one CandidacyScore into a DecisionRecord, capturing
// timestamp at the call site and assigning the next decision_id.
func (b *DecisionRecordBuilder) Build(
	score model.CandidacyScore,
	mode model.PolicyMode,
	guard *model.GuardDiagnostics,
	effectiveAction *model.DecisionAction,
	now time.Time,
) model.DecisionRecord {
	b.nextID++
	rec := model.DecisionRecord{
		DecisionID:         b.nextID,
		Timestamp:          now,
		Path:                score.Path,
		SizeBytes:           score.SizeBytes,
		AgeSecs:             score.AgeHours * 3600,
		Factors:             score.Factors,
		TotalScore:          score.TotalScore,
		PosteriorAbandoned:  score.Decision.PosteriorAbandoned,
		ExpectedLossKeep:    score.Decision.ExpectedLossKeep,
		ExpectedLossDelete:  score.Decision.ExpectedLossDelete,
		CalibrationScore:    score.Decision.CalibrationScore,
		Vetoed:              score.Vetoed,
		VetoReason:          score.VetoReason,
		PolicyMode:          mode,
		Ledger:              score.Ledger,
		Action:              model.ActionRecord{Suggested: score.Decision.Action, Effective: score.Decision.Action},
	}
	if effectiveAction != nil {
		rec.Action.Effective = *effectiveAction
		rec.EffectiveAction = effectiveAction
	}
	if guard != nil {
		gs := guard.Status
		rec.GuardStatus = &gs
	}
	rec.Summary = effectiveSummary(score, rec.Action.Effective)
	return rec
}

// ExplainLevel is the verbosity of a human-facing decision explanation.
type ExplainLevel int

const (
	ExplainL0 ExplainLevel = iota
	ExplainL1
	ExplainL2
	ExplainL3
)

// Explain renders a DecisionRecord at the requested level. Output is a
// deterministic function of the record and level alone.
func Explain(rec model.DecisionRecord, level ExplainLevel) string {
	action := rec.Action.Effective
	if rec.EffectiveAction != nil {
		action = *rec.EffectiveAction
	}
	out := fmt.Sprintf("%s: %s", action, rec.Summary)
	if level == ExplainL0 {
		return out
	}

	out += fmt.Sprintf("\ntotal_score=%.4f", rec.TotalScore)
	if level >= ExplainL1 {
		top := topFactors(rec.Ledger, 3)
		out += "\ntop factors:"
		for _, t := range top {
			out += fmt.Sprintf("\n  %s: contribution=%.4f", t.Name, t.Contribution)
		}
	}
	if level == ExplainL1 {
		return out
	}

	out += fmt.Sprintf("\nfactors: location=%.4f name=%.4f age=%.4f size=%.4f structure=%.4f pressure_multiplier=%.4f",
		rec.Factors.Location, rec.Factors.Name, rec.Factors.Age, rec.Factors.Size, rec.Factors.Structure, rec.Factors.PressureMultiplier)
	out += fmt.Sprintf("\nposterior_abandoned=%.4f expected_loss_keep=%.4f expected_loss_delete=%.4f",
		rec.PosteriorAbandoned, rec.ExpectedLossKeep, rec.ExpectedLossDelete)
	if level == ExplainL2 {
		return out
	}

	out += "\nledger:"
	for _, t := range rec.Ledger.Terms {
		out += fmt.Sprintf("\n  %s: weight=%.4f value=%.4f contribution=%.4f", t.Name, t.Weight, t.Value, t.Contribution)
	}
	if rec.GuardStatus != nil {
		out += fmt.Sprintf("\nguard_status=%s", *rec.GuardStatus)
	}
	out += fmt.Sprintf("\ndecision_id=%d policy_mode=%s vetoed=%t", rec.DecisionID, rec.PolicyMode, rec.Vetoed)
	return out
}

// topFactors returns the n highest-contribution ledger terms in
// descending order, ties broken by name for determinism.
func topFactors(ledger model.EvidenceLedger, n int) []model.EvidenceTerm {
	terms := append([]model.EvidenceTerm(nil), ledger.Terms...)
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Contribution != terms[j].Contribution {
			return terms[i].Contribution > terms[j].Contribution
		}
		return terms[i].Name < terms[j].Name
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
