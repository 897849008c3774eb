package model

// GuardStatus is the Pass/Fail/Unknown health signal emitted by the
// adaptive guardrail (C5).
type GuardStatus string

const (
	GuardUnknown GuardStatus = "Unknown"
	GuardPass    GuardStatus = "Pass"
	GuardFail    GuardStatus = "Fail"
)

// CalibrationObservation is one realized-vs-predicted sample fed to the
// guardrail.
type CalibrationObservation struct {
	PredictedRate float64
	ActualRate    float64
	PredictedTTE  float64
	ActualTTE     float64
}

// GuardDiagnostics is the full diagnostic snapshot of the guardrail.
type GuardDiagnostics struct {
	Status               GuardStatus
	ObservationCount      int
	MedianRateError       float64
	ConservativeFraction  float64
	EProcessValue         float64
	EProcessAlarm         bool
	ConsecutiveClean      int
	Reason                string
}
