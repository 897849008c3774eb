package engine

import (
	"testing"
	"time"

	"github.com/joyshmitz/sbh/model"
)

func scoredDelete(path string, totalScore float64) model.CandidacyScore {
	return model.CandidacyScore{
		Path:       path,
		TotalScore: totalScore,
		Decision:   model.DecisionOutcome{Action: model.ActionDelete},
	}
}

func goodGuardDiag() model.GuardDiagnostics {
	return model.GuardDiagnostics{Status: model.GuardPass, EProcessAlarm: false}
}

func TestPolicyPromoteDemoteSequence(t *testing.T) {
	now := time.Unix(0, 0)
	p := NewPolicy(DefaultPolicyConfig(), now)
	if p.Mode() != model.ModeObserve {
		t.Fatalf("want initial Observe, got %s", p.Mode())
	}
	p.Promote(now)
	if p.Mode() != model.ModeCanary {
		t.Fatalf("want Canary after one promote, got %s", p.Mode())
	}
	p.Promote(now)
	if p.Mode() != model.ModeEnforce {
		t.Fatalf("want Enforce after two promotes, got %s", p.Mode())
	}
	p.Demote(now)
	if p.Mode() != model.ModeCanary {
		t.Fatalf("want Canary after one demote from Enforce, got %s", p.Mode())
	}
}

func TestPolicyKillSwitchForcesFallbackAtConstruction(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.KillSwitch = true
	cfg.InitialMode = model.ModeEnforce
	p := NewPolicy(cfg, time.Unix(0, 0))
	if p.Mode() != model.ModeFallbackSafe {
		t.Fatalf("kill-switch must override initial_mode, got %s", p.Mode())
	}
}

func TestPolicyCanaryBudgetExhaustionCapsButStaysInCanary(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := DefaultPolicyConfig()
	cfg.MaxCanaryDeletesPerHour = 2
	cfg.StartupGraceSecs = 0
	p := NewPolicy(cfg, now)
	p.Promote(now) // Canary

	candidates := []model.CandidacyScore{
		scoredDelete("a", 0.8), scoredDelete("b", 0.7), scoredDelete("c", 0.6), scoredDelete("d", 0.5),
	}
	guard := goodGuardDiag()
	decision := p.Evaluate(candidates, &guard, now)

	if len(decision.ApprovedForDeletion) != 2 {
		t.Fatalf("want exactly 2 approved deletes under the budget cap, got %d", len(decision.ApprovedForDeletion))
	}
	if p.Mode() != model.ModeCanary {
		t.Fatalf("canary budget exhaustion must cap deletes but stay in Canary, got %s", p.Mode())
	}
}

func TestPolicyGuardrailDriftForcesFallbackOnlyAbovegreen(t *testing.T) {
	now := time.Unix(0, 0)
	p := NewPolicy(DefaultPolicyConfig(), now)
	p.Promote(now) // Canary
	p.SetPressureAboveGreen(true)

	alarming := model.GuardDiagnostics{Status: model.GuardFail, EProcessAlarm: true}
	p.ObserveWindow(alarming, now)

	if p.Mode() != model.ModeFallbackSafe {
		t.Fatalf("e-process alarm under elevated pressure must force fallback, got %s", p.Mode())
	}
}

func TestPolicyCalibrationBreachIsAdvisoryOnly(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := DefaultPolicyConfig()
	cfg.CalibrationBreachWindows = 3
	p := NewPolicy(cfg, now)
	p.BypassStartupGrace()
	p.Promote(now) // Canary

	bad := model.GuardDiagnostics{Status: model.GuardFail, EProcessAlarm: false}
	p.ObserveWindow(bad, now)
	p.ObserveWindow(bad, now)
	p.ObserveWindow(bad, now)

	if p.Mode() != model.ModeCanary {
		t.Fatalf("calibration breach must be advisory-only, got mode %s", p.Mode())
	}
	if p.FallbackReasonValue() != nil {
		t.Fatalf("advisory calibration breach must not set a fallback reason")
	}
	if !p.CalibrationBreached() {
		t.Fatalf("expected CalibrationBreached() true after 3 consecutive failing windows")
	}
}

func TestPolicyExplicitCalibrationBreachForcesFallback(t *testing.T) {
	now := time.Unix(0, 0)
	p := NewPolicy(DefaultPolicyConfig(), now)
	p.Promote(now)
	p.Promote(now) // Enforce

	p.EnterFallback(model.FallbackReason{Kind: model.ReasonCalibrationBreach, ConsecutiveWindows: 3}, now)

	if p.Mode() != model.ModeFallbackSafe {
		t.Fatalf("explicit EnterFallback(CalibrationBreach) must force fallback like any other reason, got %s", p.Mode())
	}
}

func TestPolicyRecoveryLandsInCanaryNeverEnforce(t *testing.T) {
	start := time.Unix(0, 0)
	cfg := DefaultPolicyConfig()
	cfg.RecoveryCleanWindows = 2
	cfg.MinFallbackSecs = 0
	p := NewPolicy(cfg, start)
	p.Promote(start)
	p.Promote(start) // Enforce
	p.EnterFallback(model.FallbackReason{Kind: model.ReasonGuardrailDrift}, start)

	good := goodGuardDiag()
	p.ObserveWindow(good, start.Add(time.Second))
	if p.Mode() != model.ModeFallbackSafe {
		t.Fatalf("one clean window must not be enough to recover, got %s", p.Mode())
	}
	p.ObserveWindow(good, start.Add(2*time.Second))
	if p.Mode() != model.ModeCanary {
		t.Fatalf("recovery must land in Canary (mandatory re-canary gate), got %s", p.Mode())
	}
	if p.FallbackReasonValue() != nil {
		t.Fatalf("recovered policy must clear its fallback reason")
	}
}

func TestPolicyFallbackSafeKeepsEverything(t *testing.T) {
	now := time.Unix(0, 0)
	p := NewPolicy(DefaultPolicyConfig(), now)
	p.Promote(now)
	p.Promote(now)
	p.EnterFallback(model.FallbackReason{Kind: model.ReasonSerializationFailure}, now)

	guard := goodGuardDiag()
	decision := p.Evaluate([]model.CandidacyScore{scoredDelete("a", 0.9)}, &guard, now)
	if len(decision.ApprovedForDeletion) != 0 {
		t.Fatalf("FallbackSafe must approve nothing for deletion")
	}
}

func TestPolicyGuardPenaltyDropsDeletesToKeepWithoutChangingMode(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := DefaultPolicyConfig()
	cfg.StartupGraceSecs = 0
	p := NewPolicy(cfg, now)
	p.Promote(now)
	p.Promote(now) // Enforce
	p.SetPressureAboveGreen(true)

	failing := model.GuardDiagnostics{Status: model.GuardFail}
	decision := p.Evaluate([]model.CandidacyScore{
		scoredDelete("a", 0.9), scoredDelete("b", 0.8),
	}, &failing, now)

	if len(decision.ApprovedForDeletion) != 0 {
		t.Fatalf("guard penalty must approve zero deletes under a failing guard, got %d", len(decision.ApprovedForDeletion))
	}
	if decision.HypotheticalDeletes != 2 {
		t.Fatalf("want both suggested deletes counted as hypothetical, got %d", decision.HypotheticalDeletes)
	}
	if p.Mode() != model.ModeEnforce {
		t.Fatalf("guard penalty must not change mode, got %s", p.Mode())
	}

	// A nil guard (no diagnostics at all) must be treated the same as a
	// non-passing one while pressure is elevated.
	decision = p.Evaluate([]model.CandidacyScore{scoredDelete("c", 0.9)}, nil, now)
	if len(decision.ApprovedForDeletion) != 0 {
		t.Fatalf("guard penalty must apply when guard is nil, got %d approvals", len(decision.ApprovedForDeletion))
	}
}

func TestPolicyDecisionIDsAreConsecutiveWithinABatch(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := DefaultPolicyConfig()
	cfg.StartupGraceSecs = 0
	p := NewPolicy(cfg, now)
	p.Promote(now)
	p.Promote(now) // Enforce

	guard := goodGuardDiag()
	decision := p.Evaluate([]model.CandidacyScore{
		scoredDelete("a", 0.9), scoredDelete("b", 0.8), scoredDelete("c", 0.7),
	}, &guard, now)

	for i := 1; i < len(decision.Records); i++ {
		if decision.Records[i].DecisionID != decision.Records[i-1].DecisionID+1 {
			t.Fatalf("decision ids must be consecutive within a batch: %d then %d",
				decision.Records[i-1].DecisionID, decision.Records[i].DecisionID)
		}
	}
}
