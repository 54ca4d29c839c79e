// Package registry tracks known agents, their declared capabilities, and
// their live status. It is the only shared view of the agent pool; the
// orchestrator and protocol runs consult it for assignment decisions.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echiweshe/convoke/pkg/models"
)

// ErrDuplicateCapabilitySignature is returned by Register when the policy
// forbids duplicates and another agent declared the same capability set.
var ErrDuplicateCapabilitySignature = errors.New("duplicate capability signature")

// ErrUnknownAgent is returned for operations on an unregistered agent ID.
var ErrUnknownAgent = errors.New("unknown agent")

// StateChange is emitted whenever an agent transitions between states.
// The orchestrator consumes these for reassignment decisions.
type StateChange struct {
	// AgentID is the agent that changed state.
	AgentID string
	// From is the previous state.
	From models.AgentState
	// To is the new state.
	To models.AgentState
	// At is when the transition was observed.
	At time.Time
}

// Options configures registry policy.
type Options struct {
	// AllowDuplicateSignatures permits multiple agents with identical
	// capability sets. When true (the default policy), duplicates are
	// load-balanced by performance ordering.
	AllowDuplicateSignatures bool
	// HeartbeatWindow is how long an agent may go without a heartbeat
	// before being marked unreachable.
	HeartbeatWindow time.Duration
	// EventBuffer sizes the state-change event channel.
	EventBuffer int
}

// Registry is the shared agent pool. All mutations are serialized per
// agent; reads take a shared lock. It is an explicit instance passed by
// reference, so multiple isolated engines can run in one process.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
	opts   Options
	events chan StateChange
	// now is swappable for tests.
	now func() time.Time
}

// New creates a registry with the given options.
func New(opts Options) *Registry {
	if opts.HeartbeatWindow <= 0 {
		opts.HeartbeatWindow = 30 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return &Registry{
		agents: make(map[string]*models.Agent),
		opts:   opts,
		events: make(chan StateChange, opts.EventBuffer),
		now:    time.Now,
	}
}

// Events returns the state-change event stream.
func (r *Registry) Events() <-chan StateChange {
	return r.events
}

// Register adds an agent to the pool and returns its ID. If the agent has
// no ID one is generated. Fails only when the duplicate-signature policy
// forbids an identical capability set.
func (r *Registry) Register(a *models.Agent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.opts.AllowDuplicateSignatures {
		sig := a.CapabilitySignature()
		for _, existing := range r.agents {
			if existing.CapabilitySignature() == sig {
				return "", ErrDuplicateCapabilitySignature
			}
		}
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := r.now()
	a.State = models.AgentStateIdle
	a.RegisteredAt = now
	a.LastHeartbeat = now
	r.agents[a.ID] = a
	return a.ID, nil
}

// Deregister removes an agent from the pool.
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// Heartbeat records a liveness signal. An unreachable agent that
// heartbeats again returns to idle.
func (r *Registry) Heartbeat(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return ErrUnknownAgent
	}
	a.LastHeartbeat = r.now()
	if a.State == models.AgentStateUnreachable {
		r.setStateLocked(a, models.AgentStateIdle)
	}
	return nil
}

// SetState transitions an agent to the given state and emits a StateChange.
func (r *Registry) SetState(agentID string, state models.AgentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return ErrUnknownAgent
	}
	r.setStateLocked(a, state)
	return nil
}

// setStateLocked emits the transition event. Caller must hold r.mu.
func (r *Registry) setStateLocked(a *models.Agent, state models.AgentState) {
	if a.State == state {
		return
	}
	change := StateChange{AgentID: a.ID, From: a.State, To: state, At: r.now()}
	a.State = state

	// Non-blocking: a slow consumer must not stall registry updates.
	select {
	case r.events <- change:
	default:
	}
}

// Get returns a copy of the agent, or false if unknown.
func (r *Registry) Get(agentID string) (models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return models.Agent{}, false
	}
	return *a, true
}

// UpdatePerformance replaces an agent's performance summary. Called by the
// performance tracker after each recorded outcome.
func (r *Registry) UpdatePerformance(agentID string, perf models.PerformanceSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return ErrUnknownAgent
	}
	a.Perf = perf
	return nil
}

// FindCapable returns the IDs of reachable agents declaring the capability,
// idle agents first, then by quality score descending.
func (r *Registry) FindCapable(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Agent
	for _, a := range r.agents {
		if a.State == models.AgentStateUnreachable {
			continue
		}
		if a.HasCapability(capability) {
			matched = append(matched, a)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		ai, aj := matched[i], matched[j]
		if ai.Available() != aj.Available() {
			return ai.Available()
		}
		if ai.Perf.QualityScore != aj.Perf.QualityScore {
			return ai.Perf.QualityScore > aj.Perf.QualityScore
		}
		return ai.ID < aj.ID
	})

	ids := make([]string, len(matched))
	for i, a := range matched {
		ids[i] = a.ID
	}
	return ids
}

// Reachable reports whether the agent is registered and not unreachable.
func (r *Registry) Reachable(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return ok && a.State != models.AgentStateUnreachable
}

// ReapStale marks agents that missed the heartbeat window as unreachable
// and returns their IDs. Called periodically by Start, or directly in tests.
func (r *Registry) ReapStale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.opts.HeartbeatWindow)
	var reaped []string
	for _, a := range r.agents {
		if a.State == models.AgentStateUnreachable {
			continue
		}
		if a.LastHeartbeat.Before(cutoff) {
			r.setStateLocked(a, models.AgentStateUnreachable)
			reaped = append(reaped, a.ID)
		}
	}
	return reaped
}

// All returns copies of all registered agents, ordered by ID.
func (r *Registry) All() []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, *a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
