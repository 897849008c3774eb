// Package supervisor runs the daemon's five cooperating goroutines —
// monitor, scan/scheduler, decision, logger, self-monitor — wired
// together with bounded channels, generalizing the teacher's single
// RunDaemon loop (engine/daemon.go) into the multi-thread ownership
// model described for this system: blocking filesystem I/O stays on the
// thread that owns it, and the decision thread only ever does bounded
// CPU work.
package supervisor

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joyshmitz/sbh/collector"
	"github.com/joyshmitz/sbh/config"
	"github.com/joyshmitz/sbh/engine"
	"github.com/joyshmitz/sbh/metrics"
	"github.com/joyshmitz/sbh/model"
	"github.com/joyshmitz/sbh/telemetry"
)

const (
	readingsChCap    = 2
	candidatesChCap  = 2
	decisionChCap    = 4
	heartbeatTimeout = 45 * time.Second
)

// candidateBatch pairs one scan cycle's discovered candidates with the
// wall-clock time the scan completed, so the decision thread's Tick call
// uses a consistent timestamp for both scoring and policy gating.
type candidateBatch struct {
	candidates []model.CandidateInput
	now        time.Time
}

// Supervisor owns every goroutine, channel, and long-lived resource
// handle for one running daemon instance.
type Supervisor struct {
	prefs     config.Preferences
	statePath string
	runID     string

	eng       *engine.Engine
	mounts    collector.MountReader
	walker    *collector.Walker
	scanIndex *engine.ScanIndex
	scheduler *engine.Scheduler
	notifier  *engine.Notifier
	sinks     []telemetry.TelemetrySink
	metrics   *metrics.Registry

	readingsCh   chan []model.PressureReading
	candidatesCh chan candidateBatch
	decisionCh   chan engine.TickResult

	heartbeats map[string]*atomic.Int64

	approvedDeletesTotal atomic.Int64

	wg sync.WaitGroup
}

// New constructs a Supervisor from loaded preferences and the telemetry
// sinks the caller wants decision records fanned out to.
func New(prefs config.Preferences, statePath string, sinks []telemetry.TelemetrySink) *Supervisor {
	scheduler := engine.NewScheduler(prefs.Scheduler)
	for _, root := range prefs.Roots {
		scheduler.RegisterRoot(root, time.Now())
	}

	walkerCfg := collector.DefaultWalkerConfig()
	walkerCfg.ExcludePaths = append(walkerCfg.ExcludePaths, prefs.ExcludePaths...)

	s := &Supervisor{
		prefs:        prefs,
		statePath:    statePath,
		runID:        uuid.NewString(),
		eng:          engine.NewEngine(prefs.EngineConfig(), time.Now()),
		mounts:       collector.MountReader{},
		walker:       collector.NewWalker(walkerCfg),
		scanIndex:    engine.NewScanIndex(),
		scheduler:    scheduler,
		notifier: engine.NewNotifier(engine.AlertConfig{
			Webhook:          prefs.Alerts.Webhook,
			Command:          prefs.Alerts.Command,
			Email:            prefs.Alerts.Email,
			SlackWebhook:     prefs.Alerts.SlackWebhook,
			TelegramBotToken: prefs.Alerts.TelegramBotToken,
			TelegramChatID:   prefs.Alerts.TelegramChatID,
		}),
		sinks:        sinks,
		readingsCh:   make(chan []model.PressureReading, readingsChCap),
		candidatesCh: make(chan candidateBatch, candidatesChCap),
		decisionCh:   make(chan engine.TickResult, decisionChCap),
		heartbeats: map[string]*atomic.Int64{
			"monitor": new(atomic.Int64),
			"scan":    new(atomic.Int64),
			"decision": new(atomic.Int64),
			"logger":  new(atomic.Int64),
		},
	}
	return s
}

// Engine exposes the underlying engine for CLI-driven promote/demote/
// fallback/status commands that attach to an already-running daemon's
// in-process state (e.g. from a REPL embedding, or tests).
func (s *Supervisor) Engine() *engine.Engine { return s.eng }

// SetMetrics attaches a Prometheus registry the daemon threads report
// into. Optional: a Supervisor with no registry attached runs exactly
// as before, just without a /metrics endpoint to scrape.
func (s *Supervisor) SetMetrics(m *metrics.Registry) { s.metrics = m }

func (s *Supervisor) heartbeat(thread string) {
	s.heartbeats[thread].Store(time.Now().UnixNano())
}

// Run starts all five goroutines and blocks until ctx is cancelled,
// draining in-flight work cooperatively and shutting the logger thread
// down last so no in-flight decision record is lost.
func (s *Supervisor) Run(ctx context.Context) {
	interval := time.Duration(s.prefs.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.runWithInterval(ctx, interval)
}

// runWithInterval is Run with an explicit tick interval, split out so
// tests can drive a fast cadence without waiting out a real-world
// IntervalSec.
func (s *Supervisor) runWithInterval(ctx context.Context, interval time.Duration) {
	s.wg.Add(4)
	go s.monitorLoop(ctx, interval)
	go s.scanLoop(ctx, interval)
	go s.decisionLoop(ctx)
	go s.loggerLoop(ctx)

	s.wg.Add(1)
	go s.selfMonitorLoop(ctx)

	s.wg.Wait()
}

// monitorLoop owns the blocking statvfs-family I/O: it samples every
// mount's free space on each tick and forwards the batch to the decision
// thread. A full channel means the decision thread has fallen behind;
// the sample is dropped rather than blocking the monitor, preserving the
// monitor's own tick cadence.
func (s *Supervisor) monitorLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	defer close(s.readingsCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			readings, err := s.mounts.Read()
			if err != nil {
				log.Printf("sbh: monitor: read mounts: %v", err)
				continue
			}
			s.heartbeat("monitor")
			for _, reading := range readings {
				s.metrics.ObserveReading(reading)
			}
			select {
			case s.readingsCh <- readings:
			default:
				log.Printf("sbh: monitor: decision thread backlogged, dropping a sample")
			}
		}
	}
}

// scanLoop owns the blocking directory-walk I/O: each tick it asks the
// scheduler which roots are due, walks them, updates the Merkle scan
// index, and forwards the discovered candidates to the decision thread.
// Unlike the monitor thread, a full candidatesCh blocks the scan thread —
// candidate batches must not be dropped, since every batch corresponds
// to scan work the scheduler already budgeted and recorded.
func (s *Supervisor) scanLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	defer close(s.candidatesCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			plan := s.scheduler.Schedule(now)
			if len(plan.Paths) == 0 {
				continue
			}

			roots := make([]string, len(plan.Paths))
			for i, p := range plan.Paths {
				roots[i] = p.Path
			}

			budget := &model.ScanBudget{
				EntriesRemaining: plan.BudgetTotal,
				BytesRemaining:   1 << 40,
			}
			entries, candidates := s.walker.Walk(roots, budget)
			diff := s.scanIndex.Diff(entries, budget)
			if diff.Health == model.Corrupt {
				s.scanIndex.BuildFromEntries(entries, roots)
			}

			perRoot := map[string]uint64{}
			for _, c := range candidates {
				for _, root := range roots {
					if pathUnderRoot(c.Path, root) {
						perRoot[root] += c.SizeBytes
						break
					}
				}
			}
			cost := float64(len(entries))
			if len(roots) > 0 {
				cost /= float64(len(roots))
			}
			for _, root := range roots {
				s.scheduler.RecordScanResult(root, float64(perRoot[root]), cost, now)
			}
			s.scheduler.EndWindow()

			s.heartbeat("scan")
			select {
			case s.candidatesCh <- candidateBatch{candidates: candidates, now: now}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func pathUnderRoot(path, root string) bool {
	if path == root {
		return true
	}
	if len(path) <= len(root) {
		return false
	}
	return path[:len(root)+1] == root+"/"
}

// decisionLoop owns the CPU-only Tick call: it folds the latest pressure
// readings and the next candidate batch into one Engine.Tick invocation,
// feeds the realized-vs-predicted calibration sample back into the
// guard, and forwards the result to the logger thread. A full logger
// channel is treated as SerializationFailure per the concurrency model,
// forcing FallbackSafe rather than blocking.
func (s *Supervisor) decisionLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.decisionCh)

	var latestReadings []model.PressureReading
	var prevReadings map[string]model.PressureReading
	var prevRates map[string]model.RateEstimate
	var prevTime time.Time
	havePrev := false

	readingsOpen, candidatesOpen := true, true
	for readingsOpen || candidatesOpen {
		select {
		case <-ctx.Done():
			return
		case readings, ok := <-s.readingsCh:
			if !ok {
				readingsOpen = false
				s.readingsCh = nil
				continue
			}
			latestReadings = readings
		case batch, ok := <-s.candidatesCh:
			if !ok {
				candidatesOpen = false
				s.candidatesCh = nil
				continue
			}
			s.heartbeat("decision")

			thresholds := lowWaterThresholds(latestReadings, s.prefs.LowWaterFraction)
			tickStart := time.Now()
			result := s.eng.Tick(latestReadings, thresholds, batch.candidates, batch.now)
			s.metrics.ObserveTickDuration(time.Since(tickStart))
			s.metrics.RecordDecisions(result.Decision.Records)

			if havePrev {
				s.feedCalibration(latestReadings, prevReadings, prevRates, prevTime, batch.now)
			}
			prevReadings = indexByMount(latestReadings)
			prevRates = result.Rates
			prevTime = batch.now
			havePrev = true

			s.approvedDeletesTotal.Add(int64(len(result.Decision.ApprovedForDeletion)))

			select {
			case s.decisionCh <- result:
			default:
				s.eng.Policy().EnterFallback(model.FallbackReason{
					Kind: model.ReasonSerializationFailure,
				}, batch.now)
				log.Printf("sbh: decision: logger channel full, forcing FallbackSafe")
			}
		}
	}
}

func indexByMount(readings []model.PressureReading) map[string]model.PressureReading {
	out := make(map[string]model.PressureReading, len(readings))
	for _, r := range readings {
		out[r.Mount] = r
	}
	return out
}

// feedCalibration compares the previous tick's rate forecast for each
// mount against the realized change in free bytes this tick, and folds
// the resulting observation into the guard (C5).
func (s *Supervisor) feedCalibration(currentReadings []model.PressureReading, prevReadings map[string]model.PressureReading, prevRates map[string]model.RateEstimate, prevTime, now time.Time) {
	dt := now.Sub(prevTime).Seconds()
	if dt <= 0 {
		return
	}
	for _, cur := range currentReadings {
		prevReading, ok := prevReadings[cur.Mount]
		if !ok {
			continue
		}
		prevRate, ok := prevRates[cur.Mount]
		if !ok || prevRate.BytesPerSecond <= 0 {
			continue
		}
		actualRate := float64(prevReading.FreeBytes-cur.FreeBytes) / dt
		s.eng.Guard().Observe(model.CalibrationObservation{
			PredictedRate: prevRate.BytesPerSecond,
			ActualRate:    actualRate,
			PredictedTTE:  prevRate.SecondsToExhaustion,
			ActualTTE:     prevRate.SecondsToExhaustion - dt,
		})
	}
}

func lowWaterThresholds(readings []model.PressureReading, fraction float64) map[string]uint64 {
	if fraction <= 0 {
		fraction = 0.02
	}
	out := make(map[string]uint64, len(readings))
	for _, r := range readings {
		out[r.Mount] = uint64(float64(r.TotalBytes) * fraction)
	}
	return out
}

// loggerLoop owns the SQLite write connection and JSONL append handle:
// it is the only thread that writes telemetry, and it is the last
// goroutine Run waits on so every decision record reaches a sink before
// shutdown completes.
func (s *Supervisor) loggerLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		result, ok := <-s.decisionCh
		if !ok {
			return
		}
		s.heartbeat("logger")
		for _, rec := range result.Decision.Records {
			rec.RunID = s.runID
			for _, sink := range s.sinks {
				if err := sink.Write(rec); err != nil {
					log.Printf("sbh: logger: write decision record: %v", err)
				}
			}
		}

		snap := model.StateSnapshot{
			Timestamp:            time.Now(),
			Mode:                 result.Decision.Mode,
			WorstMount:           result.WorstMount,
			Level:                result.Worst.Level,
			Urgency:              result.Worst.Urgency,
			GuardStatus:          result.Guard.Status,
			FallbackReason:       fallbackKind(s.eng.Policy().FallbackReasonValue()),
			ApprovedDeletesTotal: int(s.approvedDeletesTotal.Load()),
		}
		if len(result.Decision.Records) > 0 {
			snap.LastDecisionID = result.Decision.Records[len(result.Decision.Records)-1].DecisionID
		}
		if s.statePath != "" {
			if err := telemetry.WriteStateSnapshot(s.statePath, snap); err != nil {
				log.Printf("sbh: logger: write state snapshot: %v", err)
			}
		}
		s.metrics.ObserveSnapshot(snap)
		_ = ctx
	}
}

func fallbackKind(r *model.FallbackReason) *model.FallbackReasonKind {
	if r == nil {
		return nil
	}
	k := r.Kind
	return &k
}

// selfMonitorLoop polls the other threads' heartbeats and logs a warning
// on a stall. It never force-kills a thread, matching the concurrency
// model's cooperative-shutdown-only guarantee.
func (s *Supervisor) selfMonitorLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(heartbeatTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			for name, hb := range s.heartbeats {
				last := hb.Load()
				if last == 0 {
					continue
				}
				if time.Duration(now-last) > heartbeatTimeout {
					log.Printf("sbh: self-monitor: thread %q has not reported in %s", name, heartbeatTimeout)
				}
			}
		}
	}
}
