package engine

import (
	"math"

	"github.com/joyshmitz/sbh/model"
)

// RateEstimatorConfig configures the EWMA rate/acceleration estimator (C1).
type RateEstimatorConfig struct {
	AlphaRate          float64
	AlphaAccel         float64
	ClipQuantile       float64 // e.g. 0.95 — clip instantaneous rate outliers
	MinSamplesForAccel int
	EpsAccel           float64 // acceleration noise floor
	EpsIdle            float64 // |rate| noise floor
}

// DefaultRateEstimatorConfig returns sensible defaults grounded in the
// teacher's MountGrowthTracker (alpha=0.3, 1KB/s growth-start floor).
func DefaultRateEstimatorConfig() RateEstimatorConfig {
	return RateEstimatorConfig{
		AlphaRate:          0.3,
		AlphaAccel:         0.3,
		ClipQuantile:       0.95,
		MinSamplesForAccel: 3,
		EpsAccel:           1.0,
		EpsIdle:            1024, // bytes/sec, matches teacher's 1KB/s growth floor
	}
}

// RateEstimator smooths noisy free-space samples into a rate/acceleration
// forecast, one instance per mount. It is the C1 component.
type RateEstimator struct {
	cfg RateEstimatorConfig

	hasPrev   bool
	prevFree  uint64
	prevT     float64 // seconds, monotonic
	rate      float64 // R
	rateSet   bool
	prevRate  float64 // R_prev, used for acceleration
	accel     float64 // A
	samples   int

	lastEstimate model.RateEstimate

	// Clipping: running bound on |instantaneous rate| via exponential
	// tracking of the ClipQuantile-th percentile, approximated with an
	// EWMA of the absolute rate (cheap, streaming, no sort needed).
	absRateEWMA float64
}

// NewRateEstimator constructs an estimator with the given config.
func NewRateEstimator(cfg RateEstimatorConfig) *RateEstimator {
	return &RateEstimator{cfg: cfg}
}

// clipBound returns the current outlier-clip bound derived from the
// smoothed absolute rate. Values are clipped to
// [-bound*scale, +bound*scale] where scale grows with ClipQuantile so a
// higher quantile allows more headroom before clipping.
func (e *RateEstimator) clipBound() float64 {
	if e.absRateEWMA <= 0 {
		return math.Inf(1)
	}
	q := e.cfg.ClipQuantile
	if q <= 0 {
		q = 0.95
	}
	// scale in about (3.9, 61] for q in (0, 1]: q=0.95 -> 31x the running average magnitude.
	scale := 1 + 3/(1-q+0.05)
	return e.absRateEWMA * scale
}

// Update ingests one sample and returns the refreshed RateEstimate.
// nowSec and Δt are monotonic seconds. thresholdBytes is the low-water
// mark used to compute time-to-exhaustion.
func (e *RateEstimator) Update(mount string, freeBytes uint64, nowSec float64, thresholdBytes uint64) model.RateEstimate {
	defer func() { e.samples++ }()

	if !e.hasPrev {
		e.hasPrev = true
		e.prevFree = freeBytes
		e.prevT = nowSec
		est := model.RateEstimate{
			Mount:               mount,
			BytesPerSecond:      0,
			Acceleration:        0,
			SecondsToExhaustion: math.Inf(1),
			Trend:               model.TrendIdle,
			SampleCount:         e.samples + 1,
		}
		e.lastEstimate = est
		return est
	}

	dt := nowSec - e.prevT
	if dt <= 0 {
		return e.lastEstimate
	}

	deltaBytes := float64(e.prevFree) - float64(freeBytes)
	instRate := deltaBytes / dt

	bound := e.clipBound()
	if instRate > bound {
		instRate = bound
	} else if instRate < -bound {
		instRate = -bound
	}

	// Update the clip tracker itself (on the unclipped magnitude so the
	// bound can still grow to track a genuine regime change).
	absInst := math.Abs(deltaBytes / dt)
	if e.absRateEWMA == 0 {
		e.absRateEWMA = absInst
	} else {
		e.absRateEWMA = 0.2*absInst + 0.8*e.absRateEWMA
	}

	if !e.rateSet {
		e.rate = instRate
		e.rateSet = true
	} else {
		e.prevRate = e.rate
		e.rate = e.cfg.AlphaRate*instRate + (1-e.cfg.AlphaRate)*e.rate
	}

	if e.samples+1 >= e.cfg.MinSamplesForAccel {
		deltaR := e.rate - e.prevRate
		e.accel = e.cfg.AlphaAccel*deltaR + (1-e.cfg.AlphaAccel)*e.accel
	}

	e.prevFree = freeBytes
	e.prevT = nowSec

	var tte float64
	if e.rate <= 0 {
		tte = math.Inf(1)
	} else {
		tte = (float64(freeBytes) - float64(thresholdBytes)) / e.rate
		if tte < 0 {
			tte = 0
		}
	}

	trend := classifyTrend(e.rate, e.accel, e.cfg.EpsAccel, e.cfg.EpsIdle)

	est := model.RateEstimate{
		Mount:               mount,
		BytesPerSecond:      e.rate,
		Acceleration:        e.accel,
		SecondsToExhaustion: tte,
		Trend:               trend,
		SampleCount:         e.samples + 1,
	}
	est.Sanitize()
	e.lastEstimate = est
	return est
}

func classifyTrend(rate, accel, epsAccel, epsIdle float64) model.Trend {
	switch {
	case accel > epsAccel && rate > 0:
		return model.TrendAccelerating
	case rate < 0:
		return model.TrendRecovering
	case accel < -epsAccel && rate > 0:
		return model.TrendDecelerating
	case math.Abs(rate) < epsIdle:
		return model.TrendIdle
	default:
		return model.TrendStable
	}
}
