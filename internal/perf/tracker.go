// Package perf records per-agent outcome statistics. The tracker is purely
// observational: it feeds agent selection ordering in the registry and vote
// weighting in the consensus synthesizer, and is idempotent per recorded
// event.
package perf

import (
	"sync"
	"time"

	"github.com/echiweshe/convoke/pkg/models"
)

// DefaultAlpha is the smoothing factor for the exponential moving averages.
const DefaultAlpha = 0.2

// DefaultMinObservations is how many outcomes a critic needs before its
// quality score weights votes. Below this, critics weigh uniformly.
const DefaultMinObservations = 5

// TaskEvent records one task outcome for an agent.
type TaskEvent struct {
	// EventID deduplicates redelivered outcome reports.
	EventID string
	// AgentID is the agent the outcome belongs to.
	AgentID string
	// Success is whether the task completed successfully.
	Success bool
	// Latency is the time from assignment to result.
	Latency time.Duration
}

// SurvivalEvent records whether an agent's contribution survived consensus
// review unmodified. This drives the quality score.
type SurvivalEvent struct {
	// EventID deduplicates redelivered outcome reports.
	EventID string
	// AgentID is the agent the outcome belongs to.
	AgentID string
	// Survived is whether the contribution was committed without revision.
	Survived bool
}

// agentStats holds one agent's running statistics. Each agent has its own
// lock so updates to different agents never contend.
type agentStats struct {
	mu      sync.Mutex
	summary models.PerformanceSummary
}

// Tracker maintains performance summaries keyed by agent ID.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*agentStats
	seen  map[string]struct{}

	alpha  float64
	minObs int

	// onUpdate, when set, receives each new summary. The orchestrator uses
	// it to mirror summaries into the registry.
	onUpdate func(agentID string, s models.PerformanceSummary)
}

// New creates a tracker with default smoothing.
func New() *Tracker {
	return &Tracker{
		stats:  make(map[string]*agentStats),
		seen:   make(map[string]struct{}),
		alpha:  DefaultAlpha,
		minObs: DefaultMinObservations,
	}
}

// NewWithOptions creates a tracker with explicit smoothing parameters.
// Out-of-range values fall back to the defaults.
func NewWithOptions(alpha float64, minObs int) *Tracker {
	t := New()
	if alpha > 0 && alpha <= 1 {
		t.alpha = alpha
	}
	if minObs > 0 {
		t.minObs = minObs
	}
	return t
}

// OnUpdate registers a callback invoked with each updated summary.
func (t *Tracker) OnUpdate(fn func(agentID string, s models.PerformanceSummary)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = fn
}

// markSeen returns false if the event ID was already recorded.
func (t *Tracker) markSeen(eventID string) bool {
	if eventID == "" {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.seen[eventID]; dup {
		return false
	}
	t.seen[eventID] = struct{}{}
	return true
}

// statsFor returns the per-agent stats bucket, creating it if needed.
func (t *Tracker) statsFor(agentID string) *agentStats {
	t.mu.RLock()
	s, ok := t.stats[agentID]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[agentID]; ok {
		return s
	}
	s = &agentStats{}
	t.stats[agentID] = s
	return s
}

// RecordTask folds a task outcome into the agent's summary. Duplicate event
// IDs are ignored.
func (t *Tracker) RecordTask(ev TaskEvent) {
	if !t.markSeen(ev.EventID) {
		return
	}

	s := t.statsFor(ev.AgentID)
	s.mu.Lock()
	sum := &s.summary

	outcome := 0.0
	if ev.Success {
		outcome = 1.0
	}
	if sum.Observations == 0 {
		sum.SuccessRate = outcome
		sum.MeanLatency = ev.Latency
	} else {
		sum.SuccessRate = t.alpha*outcome + (1-t.alpha)*sum.SuccessRate
		sum.MeanLatency = time.Duration(t.alpha*float64(ev.Latency) + (1-t.alpha)*float64(sum.MeanLatency))
	}
	sum.Observations++
	updated := *sum
	s.mu.Unlock()

	t.notify(ev.AgentID, updated)
}

// RecordSurvival folds a consensus survival outcome into the agent's
// quality score. Duplicate event IDs are ignored.
func (t *Tracker) RecordSurvival(ev SurvivalEvent) {
	if !t.markSeen(ev.EventID) {
		return
	}

	s := t.statsFor(ev.AgentID)
	s.mu.Lock()
	sum := &s.summary

	outcome := 0.0
	if ev.Survived {
		outcome = 1.0
	}
	if sum.Observations == 0 {
		sum.QualityScore = outcome
	} else {
		sum.QualityScore = t.alpha*outcome + (1-t.alpha)*sum.QualityScore
	}
	sum.Observations++
	updated := *sum
	s.mu.Unlock()

	t.notify(ev.AgentID, updated)
}

func (t *Tracker) notify(agentID string, s models.PerformanceSummary) {
	t.mu.RLock()
	fn := t.onUpdate
	t.mu.RUnlock()
	if fn != nil {
		fn(agentID, s)
	}
}

// Summary returns the agent's current performance summary.
func (t *Tracker) Summary(agentID string) models.PerformanceSummary {
	s := t.statsFor(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Weight returns the vote weight for a critic. Critics below the minimum
// observation count weigh uniformly at 1.0; established critics weigh by
// quality score, floored so an established critic never drops to zero.
func (t *Tracker) Weight(agentID string) float64 {
	s := t.statsFor(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.summary.Observations < t.minObs {
		return 1.0
	}
	if s.summary.QualityScore < 0.05 {
		return 0.05
	}
	return s.summary.QualityScore
}
