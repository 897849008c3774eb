package engine

import (
	"math"
	"sort"

	"github.com/joyshmitz/sbh/model"
)

// GuardConfig configures the adaptive guardrail (C5): an anytime-valid
// e-process martingale test over realized-vs-predicted calibration
// observations, plus a simple rolling median-error/conservative-fraction
// diagnostic pair mirroring the teacher's watchdog-style dual checks.
type GuardConfig struct {
	WindowSize            int
	AlarmThreshold        float64 // e-process value that trips EProcessAlarm
	Lambda                float64 // e-process step size
	ConservativeTolerance float64 // actual >= predicted*(1-tol) counts as conservative
	MinObservationsForFail int
	BreachWindows          int // consecutive failing windows before CalibrationBreach

	RateErrorThreshold        float64 // MedianRateError at or above this fails the window
	ConservativeFractionFloor float64 // ConservativeFraction below this fails the window
}

// DefaultGuardConfig mirrors proof_harness.rs's literal fixtures
// (threshold 25.0, lambda-equivalent growth rate implied by its
// 2.0/5.0 step fixtures).
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		WindowSize:                20,
		AlarmThreshold:            25.0,
		Lambda:                    0.5,
		ConservativeTolerance:     0.10,
		MinObservationsForFail:    5,
		BreachWindows:             3,
		RateErrorThreshold:        0.50,
		ConservativeFractionFloor: 0.60,
	}
}

// Guard implements the adaptive guardrail. It accumulates calibration
// observations, maintains an e-process value that never resets except on
// an explicit Reset, and reports GuardDiagnostics on demand.
type Guard struct {
	cfg GuardConfig

	observations []model.CalibrationObservation
	eProcess     float64
	consecutiveFailingWindows int
	consecutiveClean          int
}

// NewGuard constructs a guardrail from config.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{cfg: cfg, eProcess: 1.0}
}

// Observe folds in one calibration sample (C5's observe_window entry
// point for a single realized/predicted pair) and updates the running
// e-process value. The e-process is a nonnegative martingale under the
// null hypothesis of well-calibrated predictions: each observation
// multiplies it by a likelihood-ratio factor, so sustained miscalibration
// drives it up monotonically in expectation while well-calibrated runs
// keep it near 1.
func (g *Guard) Observe(obs model.CalibrationObservation) {
	g.observations = append(g.observations, obs)
	if len(g.observations) > g.cfg.WindowSize*10 {
		g.observations = g.observations[len(g.observations)-g.cfg.WindowSize*10:]
	}

	const eProcessCap = 1e12 // clip against float overflow
	factor := g.likelihoodRatio(obs)
	g.eProcess *= factor
	if g.eProcess < 1 {
		g.eProcess = 1
	}
	if g.eProcess > eProcessCap {
		g.eProcess = eProcessCap
	}
}

// likelihoodRatio scores one observation's surprise under a miscalibration
// alternative versus the well-calibrated null. A conservative prediction
// (actual <= predicted, within tolerance) contributes a factor at or below
// 1; an underestimate contributes a factor above 1 scaled by the relative
// error, so the e-process climbs fastest exactly when the estimator is
// dangerously optimistic about remaining time.
func (g *Guard) likelihoodRatio(obs model.CalibrationObservation) float64 {
	if obs.PredictedRate <= 0 {
		return 1.0
	}
	relErr := (obs.ActualRate - obs.PredictedRate) / obs.PredictedRate
	if relErr <= g.cfg.ConservativeTolerance {
		return math.Exp(-g.cfg.Lambda * 0.25)
	}
	return math.Exp(g.cfg.Lambda * relErr)
}

// Reset clears the e-process and observation window, used after an
// operator-acknowledged recalibration.
func (g *Guard) Reset() {
	g.eProcess = 1.0
	g.observations = nil
	g.consecutiveFailingWindows = 0
	g.consecutiveClean = 0
}

// Diagnostics computes the current GuardStatus and supporting metrics over
// the retained observation window.
func (g *Guard) Diagnostics() model.GuardDiagnostics {
	n := len(g.observations)
	diag := model.GuardDiagnostics{
		ObservationCount: n,
		EProcessValue:    g.eProcess,
	}

	if n < g.cfg.MinObservationsForFail {
		diag.Status = model.GuardUnknown
		diag.Reason = "insufficient observations"
		return diag
	}

	window := g.observations
	if len(window) > g.cfg.WindowSize {
		window = window[len(window)-g.cfg.WindowSize:]
	}

	errs := make([]float64, 0, len(window))
	conservative := 0
	for _, o := range window {
		if o.PredictedRate > 0 {
			errs = append(errs, math.Abs(o.ActualRate-o.PredictedRate)/o.PredictedRate)
		}
		if o.ActualTTE >= o.PredictedTTE*(1-g.cfg.ConservativeTolerance) {
			conservative++
		}
	}
	diag.MedianRateError = median(errs)
	if len(window) > 0 {
		diag.ConservativeFraction = float64(conservative) / float64(len(window))
	}

	diag.EProcessAlarm = g.eProcess >= g.cfg.AlarmThreshold
	rateErrorBreach := diag.MedianRateError >= g.cfg.RateErrorThreshold
	conservativeBreach := diag.ConservativeFraction < g.cfg.ConservativeFractionFloor

	if diag.EProcessAlarm || rateErrorBreach || conservativeBreach {
		diag.Status = model.GuardFail
		switch {
		case diag.EProcessAlarm:
			diag.Reason = "e-process alarm tripped"
		case rateErrorBreach:
			diag.Reason = "median rate error over threshold"
		default:
			diag.Reason = "conservative fraction below floor"
		}
		g.consecutiveFailingWindows++
		g.consecutiveClean = 0
	} else {
		diag.Status = model.GuardPass
		g.consecutiveFailingWindows = 0
		g.consecutiveClean++
	}
	diag.ConsecutiveClean = g.consecutiveClean

	return diag
}

// CalibrationBreached reports whether the guardrail has failed for
// BreachWindows consecutive evaluations, the threshold at which
// automatic observe_window accumulation treats the condition as an
// advisory CalibrationBreach fallback reason rather than an immediate
// fault. It does not itself force FallbackSafe; only an explicit
// enter_fallback(CalibrationBreach) call does that (the automatic path
// is advisory-only).
func (g *Guard) CalibrationBreached() bool {
	return g.consecutiveFailingWindows >= g.cfg.BreachWindows
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
