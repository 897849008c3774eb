package model

import "math"

// PressureReading is a single sample of free/total space on one mount.
type PressureReading struct {
	Mount      string
	FreeBytes  uint64
	TotalBytes uint64
	Timestamp  int64 // monotonic nanoseconds
}

// FreePct returns the fraction of the mount that is free, in percent.
func (p PressureReading) FreePct() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.FreeBytes) / float64(p.TotalBytes) * 100
}

// Trend labels the shape of a smoothed free-space rate.
type Trend string

const (
	TrendAccelerating Trend = "Accelerating"
	TrendStable       Trend = "Stable"
	TrendDecelerating Trend = "Decelerating"
	TrendRecovering   Trend = "Recovering"
	TrendIdle         Trend = "Idle"
)

// RateEstimate is the output of the EWMA rate estimator (C1).
type RateEstimate struct {
	Mount               string
	BytesPerSecond      float64 // positive = shrinking free space
	Acceleration        float64
	SecondsToExhaustion float64 // +Inf when BytesPerSecond <= 0
	Trend               Trend
	SampleCount         int
}

// Sanitize clamps any NaN/Inf in the numeric fields to safe sentinels,
// enforcing invariant I5.
func (r *RateEstimate) Sanitize() {
	if math.IsNaN(r.BytesPerSecond) || math.IsInf(r.BytesPerSecond, 0) {
		r.BytesPerSecond = 0
	}
	if math.IsNaN(r.Acceleration) || math.IsInf(r.Acceleration, 0) {
		r.Acceleration = 0
	}
	if math.IsNaN(r.SecondsToExhaustion) {
		r.SecondsToExhaustion = math.Inf(1)
	}
	if r.SecondsToExhaustion < 0 {
		r.SecondsToExhaustion = 0
	}
}

// PressureLevel is an ordered severity enum. Larger values are more severe.
type PressureLevel int

const (
	Green PressureLevel = iota
	Yellow
	Orange
	Red
	Critical
)

func (l PressureLevel) String() string {
	switch l {
	case Green:
		return "Green"
	case Yellow:
		return "Yellow"
	case Orange:
		return "Orange"
	case Red:
		return "Red"
	case Critical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// PressureResponse is the output of the PID pressure controller (C2).
type PressureResponse struct {
	Level     PressureLevel
	Urgency   float64 // clamp(u/u_scale, 0, 1)
	PIDOutput float64
}
