package model

import "time"

// StateSnapshot is the daemon's atomically-written status file (spec §6),
// read by `sbh daemon status` and any external monitoring without
// needing to talk to the running process.
type StateSnapshot struct {
	Timestamp            time.Time
	Mode                 ActiveMode
	WorstMount           string
	FreePct              float64
	Level                PressureLevel
	Urgency              float64
	SecondsToExhaustion  float64
	GuardStatus          GuardStatus
	FallbackReason       *FallbackReasonKind
	LastDecisionID       uint64
	ApprovedDeletesTotal int
}
