package engine

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/joyshmitz/sbh/model"
)

// TickResult is the full per-cycle output of Engine.Tick: the refreshed
// per-mount rate estimates, the worst mount's pressure response, the
// guard's current diagnostics, and the policy decision for the supplied
// candidate batch.
type TickResult struct {
	Rates    map[string]model.RateEstimate
	Worst    model.PressureResponse
	WorstMount string
	Guard    model.GuardDiagnostics
	Decision model.PolicyDecision
}

// EngineConfig bundles every component's configuration.
type EngineConfig struct {
	RateEstimator RateEstimatorConfig
	PID           PIDConfig
	Guard         GuardConfig
	Scoring       ScoringConfig
	Policy        PolicyConfig
}

// DefaultEngineConfig returns sensible defaults for every component.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RateEstimator: DefaultRateEstimatorConfig(),
		PID:           DefaultPIDConfig(),
		Guard:         DefaultGuardConfig(),
		Scoring:       DefaultScoringConfig(),
		Policy:        DefaultPolicyConfig(),
	}
}

// Engine orchestrates one synchronous tick across C1-C9: rate estimation
// per mount, pressure control on the worst mount, the adaptive guard, scoring and
// policy-gating of a candidate batch, and decision-record construction.
// It mirrors the teacher's single-mutex-guarded Tick() entry point so
// overlapping ticks serialize rather than race.
type Engine struct {
	cfg EngineConfig

	tickMu sync.Mutex

	estimators map[string]*RateEstimator
	pid        *PIDController
	guard      *Guard
	scorer     *ScoringEngine
	policy     *Policy
	records    *DecisionRecordBuilder
}

// NewEngine constructs an Engine with all components wired from cfg.
// now seeds the policy's startup-grace clock.
func NewEngine(cfg EngineConfig, now time.Time) *Engine {
	return &Engine{
		cfg:        cfg,
		estimators: map[string]*RateEstimator{},
		pid:        NewPIDController(cfg.PID),
		guard:      NewGuard(cfg.Guard),
		scorer:     NewScoringEngine(cfg.Scoring),
		policy:     NewPolicy(cfg.Policy, now),
		records:    NewDecisionRecordBuilder(),
	}
}

// Policy exposes the underlying FSM for CLI-driven promote/demote/
// fallback commands and status queries.
func (e *Engine) Policy() *Policy { return e.policy }

// Guard exposes the adaptive guardrail for calibration-observation feeds
// driven by the monitor thread.
func (e *Engine) Guard() *Guard { return e.guard }

// RestoreDecisionHighWaterMark fast-forwards the monotonic decision-id
// counter after crash recovery reloads the last persisted id.
func (e *Engine) RestoreDecisionHighWaterMark(lastPersisted uint64) {
	e.records.RestoreHighWaterMark(lastPersisted)
	e.policy.RestoreDecisionID(lastPersisted)
}

// Tick performs one collection-independent analysis cycle: it ingests
// the latest pressure readings for every mount, derives the worst
// mount's pressure response to drive urgency, scores the supplied
// candidate batch at that urgency, and gates the result through the
// policy FSM.
func (e *Engine) Tick(
	readings []model.PressureReading,
	thresholds map[string]uint64,
	candidates []model.CandidateInput,
	now time.Time,
) TickResult {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	nowSec := float64(now.UnixNano()) / 1e9

	rates := make(map[string]model.RateEstimate, len(readings))
	for _, r := range readings {
		est, ok := e.estimators[r.Mount]
		if !ok {
			cfg := e.cfg.RateEstimator
			est = NewRateEstimator(cfg)
			e.estimators[r.Mount] = est
		}
		threshold := thresholds[r.Mount]
		rates[r.Mount] = est.Update(r.Mount, r.FreeBytes, nowSec, threshold)
	}

	worstMount, worstReading, worstRate := worstOf(readings, rates)
	worst := e.pid.Update(worstReading.FreePct(), worstRate.SecondsToExhaustion, nowSec)
	e.policy.SetPressureAboveGreen(worst.Level > model.Green)

	guardDiag := e.guard.Diagnostics()

	scores := e.scorer.ScoreBatch(candidates, worst.Urgency)
	decision := e.policy.Evaluate(scores, &guardDiag, now)

	return TickResult{
		Rates:      rates,
		Worst:      worst,
		WorstMount: worstMount,
		Guard:      guardDiag,
		Decision:   decision,
	}
}

// worstOf returns the mount with the lowest free percentage, the severest
// of several equally-informative signals the monitor thread tracks.
// Ties broken by mount name for determinism.
func worstOf(readings []model.PressureReading, rates map[string]model.RateEstimate) (string, model.PressureReading, model.RateEstimate) {
	if len(readings) == 0 {
		return "", model.PressureReading{}, model.RateEstimate{SecondsToExhaustion: math.Inf(1)}
	}
	sorted := append([]model.PressureReading(nil), readings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		fi, fj := sorted[i].FreePct(), sorted[j].FreePct()
		if fi != fj {
			return fi < fj
		}
		return sorted[i].Mount < sorted[j].Mount
	})
	w := sorted[0]
	return w.Mount, w, rates[w.Mount]
}
