package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joyshmitz/sbh/model"
)

func TestObserveSnapshotSetsWorstMountGauges(t *testing.T) {
	r := New()
	r.ObserveSnapshot(model.StateSnapshot{
		WorstMount:          "/data",
		FreePct:             3.5,
		SecondsToExhaustion: 120,
		Urgency:             0.9,
		GuardStatus:         model.GuardFail,
	})

	if got := testutil.ToFloat64(r.freePct.WithLabelValues("/data")); got != 3.5 {
		t.Errorf("freePct = %v, want 3.5", got)
	}
	if got := testutil.ToFloat64(r.guardStatus); got != -1 {
		t.Errorf("guardStatus = %v, want -1 for GuardFail", got)
	}
}

func TestRecordDecisionsCountsByEffectiveAction(t *testing.T) {
	r := New()
	del := model.ActionDelete
	r.RecordDecisions([]model.DecisionRecord{
		{Action: model.ActionRecord{Effective: model.ActionKeep}},
		{Action: model.ActionRecord{Effective: model.ActionReview}, EffectiveAction: &del},
	})

	if got := testutil.ToFloat64(r.decisionsTotal.WithLabelValues(string(model.ActionKeep))); got != 1 {
		t.Errorf("Keep count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.decisionsTotal.WithLabelValues(string(model.ActionDelete))); got != 1 {
		t.Errorf("Delete count = %v, want 1 (from overridden EffectiveAction)", got)
	}
	if got := testutil.ToFloat64(r.approvedDeletes); got != 1 {
		t.Errorf("approvedDeletes = %v, want 1", got)
	}
}

func TestObserveTickDurationRecordsIntoHistogram(t *testing.T) {
	r := New()
	r.ObserveTickDuration(50 * time.Millisecond)
	if got := testutil.CollectAndCount(r.tickDuration); got != 1 {
		t.Errorf("want 1 observation recorded, got %d", got)
	}
}

func TestNilRegistryMethodsAreNoops(t *testing.T) {
	var r *Registry
	r.ObserveSnapshot(model.StateSnapshot{})
	r.ObserveReading(model.PressureReading{})
	r.RecordDecisions(nil)
	r.ObserveTickDuration(time.Second)
}
