package engine

import (
	"sort"
	"time"

	"github.com/joyshmitz/sbh/model"
)

// SchedulerConfig configures the value-of-information bandit scheduler (C8).
type SchedulerConfig struct {
	ScanBudgetPerInterval   int64
	ExplorationQuotaFraction float64
	FallbackTriggerWindows  int
	ForecastErrorThreshold  float64
	SmoothingAlpha          float64
}

// DefaultSchedulerConfig gives exploration a fifth of the budget and
// tolerates three consecutive bad-forecast windows before round-robin
// fallback.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ScanBudgetPerInterval:    10000,
		ExplorationQuotaFraction: 0.2,
		FallbackTriggerWindows:   3,
		ForecastErrorThreshold:   0.5,
		SmoothingAlpha:           0.3,
	}
}

// rootState is the scheduler's per-root bandit state.
type rootState struct {
	path                string
	expectedReclaimBytes float64
	scanCostEstimate     float64
	lastSeenAt           time.Time
	observationCount     int
	lastForecastErr      float64
}

// Scheduler implements C8.
type Scheduler struct {
	cfg SchedulerConfig

	roots map[string]*rootState
	order []string // registration order, used for deterministic round-robin

	badForecastWindows int
	fallbackActive     bool
	rrCursor           int
}

// NewScheduler constructs a scheduler from config.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	return &Scheduler{cfg: cfg, roots: map[string]*rootState{}}
}

// RegisterRoot adds a root to the bandit population if not already
// present.
func (s *Scheduler) RegisterRoot(path string, now time.Time) {
	if _, ok := s.roots[path]; ok {
		return
	}
	s.roots[path] = &rootState{path: path, lastSeenAt: now}
	s.order = append(s.order, path)
}

// RecordScanResult folds one root's actual reclaim and cost back into the
// bandit's smoothed estimates and forecast-error tracking.
func (s *Scheduler) RecordScanResult(path string, actualReclaimBytes float64, actualCost float64, now time.Time) {
	r, ok := s.roots[path]
	if !ok {
		return
	}
	alpha := s.cfg.SmoothingAlpha

	if r.observationCount == 0 {
		r.expectedReclaimBytes = actualReclaimBytes
		r.scanCostEstimate = actualCost
	} else {
		forecastErr := 0.0
		if r.expectedReclaimBytes > 0 {
			forecastErr = absFloat(actualReclaimBytes-r.expectedReclaimBytes) / r.expectedReclaimBytes
		}
		r.lastForecastErr = forecastErr
		r.expectedReclaimBytes = alpha*actualReclaimBytes + (1-alpha)*r.expectedReclaimBytes
		r.scanCostEstimate = alpha*actualCost + (1-alpha)*r.scanCostEstimate
	}
	r.observationCount++
	r.lastSeenAt = now
}

// EndWindow closes the scheduling window: rolls the fallback-trigger
// counter based on whether the worst of the roots' most recent forecast
// errors exceeded the configured threshold. A root's error is kept until
// its next RecordScanResult, so it counts again in later windows.
func (s *Scheduler) EndWindow() {
	worst := 0.0
	for _, r := range s.roots {
		if r.lastForecastErr > worst {
			worst = r.lastForecastErr
		}
	}
	if worst > s.cfg.ForecastErrorThreshold {
		s.badForecastWindows++
	} else {
		s.badForecastWindows = 0
	}
	s.fallbackActive = s.badForecastWindows >= s.cfg.FallbackTriggerWindows
}

// Schedule produces a ScanPlan allocating the interval budget across
// registered roots.
func (s *Scheduler) Schedule(now time.Time) model.ScanPlan {
	plan := model.ScanPlan{BudgetTotal: s.cfg.ScanBudgetPerInterval, FallbackActive: s.fallbackActive}

	if s.fallbackActive || len(s.roots) == 0 {
		return s.scheduleRoundRobin(plan)
	}

	exploreFraction := clampRange(s.cfg.ExplorationQuotaFraction, 0, 1)
	exploitBudget := int64(float64(s.cfg.ScanBudgetPerInterval) * (1 - exploreFraction))
	exploreBudget := s.cfg.ScanBudgetPerInterval - exploitBudget

	exploit := s.rankByValue()
	explore := s.rankByUndersampled()

	perRootCost := int64(1)
	if len(s.roots) > 0 {
		perRootCost = s.cfg.ScanBudgetPerInterval / int64(len(s.roots))
		if perRootCost < 1 {
			perRootCost = 1
		}
	}

	used := int64(0)
	for _, p := range exploit {
		if used+perRootCost > exploitBudget {
			break
		}
		plan.Paths = append(plan.Paths, model.ScanRootSelection{Path: p, IsExploration: false})
		used += perRootCost
	}

	exploreUsed := int64(0)
	for _, p := range explore {
		if alreadySelected(plan.Paths, p) {
			continue
		}
		if exploreUsed+perRootCost > exploreBudget {
			break
		}
		plan.Paths = append(plan.Paths, model.ScanRootSelection{Path: p, IsExploration: true})
		exploreUsed += perRootCost
	}

	plan.BudgetUsed = used + exploreUsed
	return plan
}

func alreadySelected(paths []model.ScanRootSelection, p string) bool {
	for _, s := range paths {
		if s.Path == p {
			return true
		}
	}
	return false
}

// rankByValue orders roots by descending expected_reclaim / (cost + eps),
// breaking ties by oldest last_seen_at then lexicographic path for
// determinism.
func (s *Scheduler) rankByValue() []string {
	const eps = 1.0
	paths := append([]string(nil), s.order...)
	sort.SliceStable(paths, func(i, j int) bool {
		a, b := s.roots[paths[i]], s.roots[paths[j]]
		va := a.expectedReclaimBytes / (a.scanCostEstimate + eps)
		vb := b.expectedReclaimBytes / (b.scanCostEstimate + eps)
		if va != vb {
			return va > vb
		}
		if !a.lastSeenAt.Equal(b.lastSeenAt) {
			return a.lastSeenAt.Before(b.lastSeenAt)
		}
		return a.path < b.path
	})
	return paths
}

// rankByUndersampled orders roots by ascending observation count, then
// oldest last_seen_at, then lexicographic path.
func (s *Scheduler) rankByUndersampled() []string {
	paths := append([]string(nil), s.order...)
	sort.SliceStable(paths, func(i, j int) bool {
		a, b := s.roots[paths[i]], s.roots[paths[j]]
		if a.observationCount != b.observationCount {
			return a.observationCount < b.observationCount
		}
		if !a.lastSeenAt.Equal(b.lastSeenAt) {
			return a.lastSeenAt.Before(b.lastSeenAt)
		}
		return a.path < b.path
	})
	return paths
}

// scheduleRoundRobin implements the strict round-robin fallback: every
// registered root is visited at least once every ceil(N/budget) windows.
func (s *Scheduler) scheduleRoundRobin(plan model.ScanPlan) model.ScanPlan {
	n := len(s.order)
	if n == 0 {
		return plan
	}
	perWindow := int(s.cfg.ScanBudgetPerInterval)
	if perWindow < 1 {
		perWindow = 1
	}
	if perWindow > n {
		perWindow = n
	}
	for i := 0; i < perWindow; i++ {
		p := s.order[(s.rrCursor+i)%n]
		plan.Paths = append(plan.Paths, model.ScanRootSelection{Path: p, IsExploration: false})
	}
	s.rrCursor = (s.rrCursor + perWindow) % n
	plan.BudgetUsed = int64(perWindow)
	return plan
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
