// Package metrics exposes the daemon's running state as Prometheus
// metrics, generalizing the teacher's summary-line status reporting
// (engine/daemon.go) into a scrapeable /metrics endpoint instead of a
// log line.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joyshmitz/sbh/model"
)

// Registry owns every metric this daemon exports and the HTTP server
// that serves them. A nil *Registry is valid everywhere it is used as a
// receiver below except Serve, so callers that never enable Prometheus
// can leave the field unset instead of branching on a feature flag at
// every call site.
type Registry struct {
	reg *prometheus.Registry

	freePct             *prometheus.GaugeVec
	secondsToExhaustion *prometheus.GaugeVec
	urgency             *prometheus.GaugeVec
	guardStatus         prometheus.Gauge
	approvedDeletes     prometheus.Counter
	decisionsTotal      *prometheus.CounterVec
	tickDuration        prometheus.Histogram

	server *http.Server
}

// New builds a Registry with all metrics registered against a fresh
// Prometheus registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		freePct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sbh",
			Name:      "mount_free_percent",
			Help:      "Free space percentage observed on the most recent scan, by mount.",
		}, []string{"mount"}),
		secondsToExhaustion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sbh",
			Name:      "mount_seconds_to_exhaustion",
			Help:      "Forecast seconds until a mount runs out of free space, by mount.",
		}, []string{"mount"}),
		urgency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sbh",
			Name:      "mount_urgency",
			Help:      "Composite urgency score [0,1] for a mount's pressure state.",
		}, []string{"mount"}),
		guardStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sbh",
			Name:      "guard_status",
			Help:      "Adaptive guardrail status: 1=Pass, 0=Unknown, -1=Fail.",
		}),
		approvedDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbh",
			Name:      "approved_deletes_total",
			Help:      "Total candidates the policy FSM has approved for deletion.",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sbh",
			Name:      "decisions_total",
			Help:      "Total decision records produced, by effective action.",
		}, []string{"action"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sbh",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock time spent in one engine Tick call.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		r.freePct,
		r.secondsToExhaustion,
		r.urgency,
		r.guardStatus,
		r.approvedDeletes,
		r.decisionsTotal,
		r.tickDuration,
	)
	return r
}

// ObserveSnapshot folds one StateSnapshot into the gauges. The monitor
// and scan threads see per-mount readings before the decision thread
// reduces them to a single "worst mount" snapshot, so only the worst
// mount's series is updated here; per-mount detail is exported by
// ObserveReading as each mount is sampled.
func (r *Registry) ObserveSnapshot(snap model.StateSnapshot) {
	if r == nil {
		return
	}
	if snap.WorstMount != "" {
		r.freePct.WithLabelValues(snap.WorstMount).Set(snap.FreePct)
		r.secondsToExhaustion.WithLabelValues(snap.WorstMount).Set(snap.SecondsToExhaustion)
		r.urgency.WithLabelValues(snap.WorstMount).Set(snap.Urgency)
	}
	r.guardStatus.Set(guardStatusValue(snap.GuardStatus))
	r.approvedDeletes.Add(0) // ensure the series exists even before the first approval
}

// ObserveReading exports one mount's free-space percentage as soon as a
// scan cycle produces it, independent of which mount ends up "worst".
func (r *Registry) ObserveReading(reading model.PressureReading) {
	if r == nil {
		return
	}
	r.freePct.WithLabelValues(reading.Mount).Set(reading.FreePct())
}

// RecordDecisions increments the per-action decision counter and the
// approved-deletes counter for one tick's batch of decision records.
func (r *Registry) RecordDecisions(records []model.DecisionRecord) {
	if r == nil {
		return
	}
	for _, rec := range records {
		action := rec.Action.Effective
		if rec.EffectiveAction != nil {
			action = *rec.EffectiveAction
		}
		r.decisionsTotal.WithLabelValues(string(action)).Inc()
		if action == model.ActionDelete {
			r.approvedDeletes.Inc()
		}
	}
}

// ObserveTickDuration records how long one engine Tick call took.
func (r *Registry) ObserveTickDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.tickDuration.Observe(d.Seconds())
}

func guardStatusValue(s model.GuardStatus) float64 {
	switch s {
	case model.GuardPass:
		return 1
	case model.GuardFail:
		return -1
	default:
		return 0
	}
}

// Serve starts the /metrics HTTP endpoint on addr and returns
// immediately; the server runs until ctx is cancelled, at which point
// it is shut down with a bounded grace period.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	r.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.server.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
