package engine

import (
	"math"

	"github.com/joyshmitz/sbh/model"
)

// PressureThresholds are the free-% bands (descending) that separate
// pressure levels.
type PressureThresholds struct {
	Green  float64
	Yellow float64
	Orange float64
	Red    float64
}

// PIDConfig configures the pressure controller (C2).
type PIDConfig struct {
	Kp, Ki, Kd     float64
	IntegralCap    float64
	TargetFreePct  float64
	HysteresisPct  float64
	Thresholds     PressureThresholds
	UScale         float64 // normalizes PID output into urgency
	RedTTESeconds  float64 // tte at/below which urgency forces to 1.0
	AccelBoostGain float64 // gain applied to 1/tte boost term
}

// DefaultPIDConfig mirrors the teacher's disk-guard bands
// (CRIT below 5%, WARN below 15%) generalized to five levels.
func DefaultPIDConfig() PIDConfig {
	return PIDConfig{
		Kp:            1.0,
		Ki:            0.1,
		Kd:            0.05,
		IntegralCap:   50,
		TargetFreePct: 20,
		HysteresisPct: 2,
		Thresholds: PressureThresholds{
			Green:  20,
			Yellow: 14,
			Orange: 10,
			Red:    6,
		},
		UScale:         20,
		RedTTESeconds:  1800,
		AccelBoostGain: 10,
	}
}

// PIDController maps (free_pct, tte) to a discrete pressure level and a
// continuous urgency scalar, with hysteresis on level transitions.
type PIDController struct {
	cfg PIDConfig

	hasPrev bool
	prevE   float64
	prevT   float64
	integral float64

	level PressureLevel2
}

// PressureLevel2 tracks the controller's own notion of the current
// level so hysteresis has a baseline to compare against.
type PressureLevel2 = model.PressureLevel

// NewPIDController constructs a controller with the given config.
func NewPIDController(cfg PIDConfig) *PIDController {
	return &PIDController{cfg: cfg, level: model.Green}
}

// Update ingests one (free_pct, tte) sample and returns the pressure
// response. nowSec is monotonic seconds; tteSeconds may be +Inf.
func (c *PIDController) Update(freePct float64, tteSeconds float64, nowSec float64) model.PressureResponse {
	e := c.cfg.TargetFreePct - freePct

	var dt float64
	if c.hasPrev {
		dt = nowSec - c.prevT
	}
	if dt <= 0 {
		dt = 1
	}

	c.integral += e * dt
	if c.integral > c.cfg.IntegralCap {
		c.integral = c.cfg.IntegralCap
	} else if c.integral < -c.cfg.IntegralCap {
		c.integral = -c.cfg.IntegralCap
	}

	var d float64
	if c.hasPrev {
		d = (e - c.prevE) / dt
	}

	u := c.cfg.Kp*e + c.cfg.Ki*c.integral + c.cfg.Kd*d

	if !math.IsInf(tteSeconds, 1) && tteSeconds >= 0 && tteSeconds < c.cfg.RedTTESeconds {
		denom := tteSeconds
		if denom < 1 {
			denom = 1
		}
		u += c.cfg.AccelBoostGain / denom
	}

	scale := c.cfg.UScale
	if scale <= 0 {
		scale = 1
	}
	urgency := u / scale
	if urgency < 0 {
		urgency = 0
	} else if urgency > 1 {
		urgency = 1
	}

	if !math.IsInf(tteSeconds, 1) && tteSeconds >= 0 && tteSeconds <= c.cfg.RedTTESeconds {
		urgency = 1.0
	}

	level := c.nextLevel(freePct)

	c.hasPrev = true
	c.prevE = e
	c.prevT = nowSec
	c.level = level

	return model.PressureResponse{
		Level:     level,
		Urgency:   urgency,
		PIDOutput: u,
	}
}

// nextLevel applies hysteresis: escalation fires as soon as free_pct
// crosses a threshold; de-escalation requires crossing back by at least
// HysteresisPct to avoid oscillation at the boundary.
func (c *PIDController) nextLevel(freePct float64) model.PressureLevel {
	th := c.cfg.Thresholds
	h := c.cfg.HysteresisPct

	severityOf := func(pct float64) model.PressureLevel {
		switch {
		case pct < th.Red:
			return model.Critical
		case pct < th.Orange:
			return model.Red
		case pct < th.Yellow:
			return model.Orange
		case pct < th.Green:
			return model.Yellow
		default:
			return model.Green
		}
	}

	candidate := severityOf(freePct)
	if candidate >= c.level {
		// Escalation (or no change): fires immediately on crossing.
		return candidate
	}

	// De-escalation: require the relevant threshold to be cleared by the
	// hysteresis margin before accepting the less severe level.
	boundary := thresholdFor(th, c.level)
	if freePct >= boundary+h {
		return candidate
	}
	return c.level
}

// thresholdFor returns the free_pct boundary that must be exceeded to
// leave the given level.
func thresholdFor(th PressureThresholds, level model.PressureLevel) float64 {
	switch level {
	case model.Critical:
		return th.Red
	case model.Red:
		return th.Orange
	case model.Orange:
		return th.Yellow
	case model.Yellow:
		return th.Green
	default:
		return th.Green
	}
}
