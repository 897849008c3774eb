package engine

import (
	"sync"
	"time"

	"github.com/joyshmitz/sbh/model"
)

// PolicyConfig configures the fallback-safe state machine (C6).
type PolicyConfig struct {
	InitialMode            model.ActiveMode
	MaxCanaryDeletesPerHour int
	RecoveryCleanWindows    int
	CalibrationBreachWindows int
	MinFallbackSecs         float64
	KillSwitch              bool
	StartupGraceSecs        float64
	MinScoreToDelete        float64
}

// DefaultPolicyConfig matches the original's conservative defaults:
// start observing, require a canary gate before live deletes, and hold
// every fallback for at least a few minutes before recovery is even
// considered.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		InitialMode:              model.ModeObserve,
		MaxCanaryDeletesPerHour:  10,
		RecoveryCleanWindows:     3,
		CalibrationBreachWindows: 3,
		MinFallbackSecs:          300,
		StartupGraceSecs:         60,
		MinScoreToDelete:         0.35,
	}
}

// Policy implements the five-state FSM: Observe -> Canary -> Enforce,
// with any state able to fall to FallbackSafe, and FallbackSafe
// recovering only as far as Canary (a mandatory re-canary gate).
type Policy struct {
	mu sync.Mutex

	cfg PolicyConfig

	mode           model.ActiveMode
	fallbackReason *model.FallbackReason
	fallbackSince  time.Time
	startedAt      time.Time
	graceBypassed  bool

	canaryDeletesThisHour int
	canaryHourStart       time.Time

	consecutiveCleanWindows   int
	consecutiveBreachWindows  int

	nextDecisionID uint64

	transitions []model.TransitionLogEntry

	pressureAboveGreen bool
}

// NewPolicy constructs a Policy. now is supplied by the caller (typically
// the supervisor's monitor clock) so the FSM never calls time.Now itself,
// keeping it deterministic and replayable.
func NewPolicy(cfg PolicyConfig, now time.Time) *Policy {
	p := &Policy{
		cfg:             cfg,
		mode:            cfg.InitialMode,
		startedAt:       now,
		canaryHourStart: now,
	}
	if cfg.KillSwitch {
		p.forceFallback(model.FallbackReason{Kind: model.ReasonKillSwitch}, now)
	}
	return p
}

// Mode returns the current active mode.
func (p *Policy) Mode() model.ActiveMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// FallbackReasonValue returns the reason the engine is in FallbackSafe, or
// nil if it is not.
func (p *Policy) FallbackReasonValue() *model.FallbackReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fallbackReason
}

// BypassStartupGrace disables the startup grace window immediately,
// used by tests and by CLI-driven manual promotion.
func (p *Policy) BypassStartupGrace() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graceBypassed = true
}

// SetPressureAboveGreen records whether the current pressure level is
// above Green; guardrail drift only forces fallback while pressure is
// elevated; under Green pressure, drift is logged but not acted on,
// since there is no urgency to protect against.
func (p *Policy) SetPressureAboveGreen(above bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressureAboveGreen = above
}

// Promote advances Observe -> Canary -> Enforce. It is a no-op from
// FallbackSafe; recovery must go through observe_window.
func (p *Policy) Promote(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	from := p.mode
	switch p.mode {
	case model.ModeObserve:
		p.mode = model.ModeCanary
	case model.ModeCanary:
		p.mode = model.ModeEnforce
	}
	if p.mode != from {
		p.logTransition(from, p.mode, "promote", "", now)
	}
}

// Demote steps back Enforce -> Canary -> Observe. No-op from
// FallbackSafe or Observe.
func (p *Policy) Demote(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	from := p.mode
	switch p.mode {
	case model.ModeEnforce:
		p.mode = model.ModeCanary
	case model.ModeCanary:
		p.mode = model.ModeObserve
	}
	if p.mode != from {
		p.logTransition(from, p.mode, "demote", "", now)
	}
}

// EnterFallback forces an immediate transition to FallbackSafe for any
// reason kind, including an explicitly-invoked CalibrationBreach —
// unlike the automatic observe_window accumulation path, an explicit
// call always forces the transition.
func (p *Policy) EnterFallback(reason model.FallbackReason, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forceFallback(reason, now)
}

func (p *Policy) forceFallback(reason model.FallbackReason, now time.Time) {
	from := p.mode
	p.mode = model.ModeFallbackSafe
	p.fallbackReason = &reason
	p.fallbackSince = now
	p.consecutiveCleanWindows = 0
	p.logTransition(from, p.mode, "fallback", string(reason.Kind), now)
}

// ObserveWindow folds in one guardrail diagnostics window. A
// calibration failure only ever accrues toward CalibrationBreachWindows
// and is advisory: it never forces FallbackSafe on its own. An
// e-process alarm always forces FallbackSafe immediately provided
// pressure is above Green.
func (p *Policy) ObserveWindow(diag model.GuardDiagnostics, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode == model.ModeFallbackSafe {
		p.observeDuringFallback(diag, now)
		return
	}

	if diag.EProcessAlarm && p.pressureAboveGreen {
		p.forceFallback(model.FallbackReason{Kind: model.ReasonGuardrailDrift}, now)
		return
	}

	if diag.Status == model.GuardFail {
		p.consecutiveBreachWindows++
	} else {
		p.consecutiveBreachWindows = 0
	}
	// Calibration breach is advisory-only through this path: the counter
	// is tracked and visible via CalibrationBreached, but the mode never
	// changes here.
}

// CalibrationBreached reports whether ObserveWindow has now seen enough
// consecutive failing windows to justify (but not force) an operator- or
// supervisor-initiated EnterFallback(CalibrationBreach).
func (p *Policy) CalibrationBreached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveBreachWindows >= p.cfg.CalibrationBreachWindows
}

// observeDuringFallback accumulates clean windows toward recovery. After
// MinFallbackSecs has elapsed and RecoveryCleanWindows consecutive clean
// windows are observed, the engine recovers to Canary — never directly
// to Enforce; the mandatory re-canary gate means a later Promote is
// always required to reach Enforce again.
func (p *Policy) observeDuringFallback(diag model.GuardDiagnostics, now time.Time) {
	if now.Sub(p.fallbackSince).Seconds() < p.cfg.MinFallbackSecs {
		return
	}
	if diag.Status != model.GuardPass {
		p.consecutiveCleanWindows = 0
		return
	}
	p.consecutiveCleanWindows++
	if p.consecutiveCleanWindows < p.cfg.RecoveryCleanWindows {
		return
	}
	from := p.mode
	p.mode = model.ModeCanary
	p.fallbackReason = nil
	p.consecutiveCleanWindows = 0
	p.consecutiveBreachWindows = 0
	p.logTransition(from, p.mode, "recover", "", now)
}

// inStartupGrace reports whether deletions should be suppressed because
// the daemon has not yet run long enough to trust its own estimates.
func (p *Policy) inStartupGrace(now time.Time) bool {
	if p.graceBypassed {
		return false
	}
	return now.Sub(p.startedAt).Seconds() < p.cfg.StartupGraceSecs
}

// Evaluate applies the current mode's gating to a batch of candidate
// scores, producing decision records and the subset actually approved
// for deletion. It also enforces the Canary per-hour delete budget,
// capping (not faulting) on exhaustion.
func (p *Policy) Evaluate(scores []model.CandidacyScore, guard *model.GuardDiagnostics, now time.Time) model.PolicyDecision {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollCanaryWindow(now)

	decision := model.PolicyDecision{Mode: p.mode}
	order := sortByScoreDesc(scores)

	for _, i := range order {
		sc := scores[i]
		record := model.DecisionRecord{
			DecisionID:         p.allocateDecisionID(),
			Timestamp:          now,
			Path:               sc.Path,
			SizeBytes:          sc.SizeBytes,
			AgeSecs:            sc.AgeHours * 3600,
			Factors:            sc.Factors,
			TotalScore:         sc.TotalScore,
			PosteriorAbandoned: sc.Decision.PosteriorAbandoned,
			ExpectedLossKeep:   sc.Decision.ExpectedLossKeep,
			ExpectedLossDelete: sc.Decision.ExpectedLossDelete,
			CalibrationScore:   sc.Decision.CalibrationScore,
			Vetoed:             sc.Vetoed,
			VetoReason:         sc.VetoReason,
			Action:             model.ActionRecord{Suggested: sc.Decision.Action},
			PolicyMode:         p.policyModeTag(),
		}
		if guard != nil {
			gs := guard.Status
			record.GuardStatus = &gs
		}

		effective := p.gate(sc, guard, now, &decision)
		record.Action.Effective = effective
		record.EffectiveAction = &effective
		record.Summary = effectiveSummary(sc, effective)

		decision.Records = append(decision.Records, record)
		if effective == model.ActionDelete {
			decision.ApprovedForDeletion = append(decision.ApprovedForDeletion, sc)
		} else if sc.Decision.Action == model.ActionDelete {
			decision.HypotheticalDeletes++
		}
	}

	return decision
}

// gate resolves one candidate's effective action under the current mode.
func (p *Policy) gate(sc model.CandidacyScore, guard *model.GuardDiagnostics, now time.Time, decision *model.PolicyDecision) model.DecisionAction {
	if sc.Vetoed || sc.Decision.Action != model.ActionDelete {
		return sc.Decision.Action
	}
	if sc.TotalScore < p.cfg.MinScoreToDelete {
		return model.ActionReview
	}

	// Guard penalty: once pressure has climbed above Green, a guard that
	// is not passing (or that produced no diagnostics at all) drops every
	// delete to Keep regardless of mode. This never touches p.mode; it is
	// a per-decision penalty, not a fallback trigger.
	if p.pressureAboveGreen && (guard == nil || guard.Status != model.GuardPass) {
		return model.ActionKeep
	}

	switch p.mode {
	case model.ModeFallbackSafe:
		return model.ActionKeep
	case model.ModeObserve:
		return model.ActionReview
	case model.ModeCanary:
		if p.inStartupGrace(now) {
			return model.ActionReview
		}
		if p.cfg.MaxCanaryDeletesPerHour > 0 && p.canaryDeletesThisHour >= p.cfg.MaxCanaryDeletesPerHour {
			decision.BudgetExhausted = true
			return model.ActionReview
		}
		p.canaryDeletesThisHour++
		return model.ActionDelete
	case model.ModeEnforce:
		if p.inStartupGrace(now) {
			return model.ActionReview
		}
		return model.ActionDelete
	default:
		return model.ActionKeep
	}
}

func (p *Policy) rollCanaryWindow(now time.Time) {
	if now.Sub(p.canaryHourStart) >= time.Hour {
		p.canaryHourStart = now
		p.canaryDeletesThisHour = 0
	}
}

func (p *Policy) policyModeTag() model.PolicyMode {
	switch p.mode {
	case model.ModeEnforce:
		return model.PolicyLive
	case model.ModeCanary:
		return model.PolicyCanary
	case model.ModeFallbackSafe:
		return model.PolicyDryRun
	default:
		return model.PolicyShadow
	}
}

func (p *Policy) allocateDecisionID() uint64 {
	p.nextDecisionID++
	return p.nextDecisionID
}

// RestoreDecisionID fast-forwards the monotonic counter after a crash
// recovery reads the last persisted high-water mark.
func (p *Policy) RestoreDecisionID(highWaterMark uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if highWaterMark > p.nextDecisionID {
		p.nextDecisionID = highWaterMark
	}
}

func (p *Policy) logTransition(from, to model.ActiveMode, transition, reason string, now time.Time) {
	p.transitions = append(p.transitions, model.TransitionLogEntry{
		From: from, To: to, Transition: transition, Reason: reason, Timestamp: now,
	})
}

// Transitions returns the append-only transition log.
func (p *Policy) Transitions() []model.TransitionLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.TransitionLogEntry, len(p.transitions))
	copy(out, p.transitions)
	return out
}

func effectiveSummary(sc model.CandidacyScore, effective model.DecisionAction) string {
	if sc.Vetoed {
		return "vetoed: " + sc.VetoReason
	}
	if effective != sc.Decision.Action {
		return string(sc.Decision.Action) + " gated to " + string(effective)
	}
	return string(effective)
}
