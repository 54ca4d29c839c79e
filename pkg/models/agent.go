package models

import (
	"sort"
	"strings"
	"time"
)

// AgentState represents the current state of an agent.
type AgentState string

const (
	// AgentStateIdle indicates the agent is registered and available.
	AgentStateIdle AgentState = "idle"
	// AgentStateThinking indicates the agent is evaluating a proposal or bid.
	AgentStateThinking AgentState = "thinking"
	// AgentStateExecuting indicates the agent is working on an assigned task.
	AgentStateExecuting AgentState = "executing"
	// AgentStateCollaborating indicates the agent is in a multi-party exchange.
	AgentStateCollaborating AgentState = "collaborating"
	// AgentStateUnreachable indicates the agent missed its heartbeat window.
	AgentStateUnreachable AgentState = "unreachable"
)

// Valid returns true if the state is a known value.
func (s AgentState) Valid() bool {
	switch s {
	case AgentStateIdle, AgentStateThinking, AgentStateExecuting,
		AgentStateCollaborating, AgentStateUnreachable:
		return true
	default:
		return false
	}
}

// PerformanceSummary holds the observed statistics for an agent.
// All values are maintained by the performance tracker; they are read-only
// from everywhere else.
type PerformanceSummary struct {
	// SuccessRate is an exponential moving average of task success.
	SuccessRate float64 `json:"success_rate"`
	// MeanLatency is the moving mean time from assignment to result.
	MeanLatency time.Duration `json:"mean_latency"`
	// QualityScore tracks how often the agent's contributions survived
	// consensus review unmodified.
	QualityScore float64 `json:"quality_score"`
	// Observations is the number of recorded outcome events.
	Observations int `json:"observations"`
}

// Agent represents an independent worker with declared capabilities.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Capabilities lists the capability tags this agent declared at registration.
	Capabilities []string `json:"capabilities"`
	// State is the current lifecycle state of the agent.
	State AgentState `json:"state"`
	// Perf is the agent's observed performance summary.
	Perf PerformanceSummary `json:"perf"`
	// RegisteredAt is when the agent registered.
	RegisteredAt time.Time `json:"registered_at"`
	// LastHeartbeat is the time of the most recent heartbeat.
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// HasCapability returns true if the agent declared the given capability.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// CapabilitySignature returns a stable signature of the capability set,
// used by the registry's duplicate policy. Order of declaration is ignored.
func (a *Agent) CapabilitySignature() string {
	caps := make([]string, len(a.Capabilities))
	copy(caps, a.Capabilities)
	sort.Strings(caps)
	return strings.Join(caps, ",")
}

// Available returns true if the agent can accept new work.
func (a *Agent) Available() bool {
	return a.State == AgentStateIdle
}
