package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	// JobStatusQueued indicates the job has been accepted but not started.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates the job's protocol run is in flight.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates consensus was reached and a validated
	// result produced.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusEscalated indicates the iteration budget was exhausted
	// without convergence.
	JobStatusEscalated JobStatus = "escalated"
	// JobStatusFailed indicates the job failed before producing a candidate.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted,
		JobStatusEscalated, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal outcome.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusEscalated || s == JobStatusFailed
}

// JobTraits declares the coordination characteristics of a job.
// Protocol selection is a pure function of these fields.
type JobTraits struct {
	// Decomposable indicates the job has clear sub-task boundaries.
	Decomposable bool `json:"decomposable" yaml:"decomposable"`
	// EqualContribution indicates all agents should contribute equally.
	EqualContribution bool `json:"equal_contribution" yaml:"equal_contribution"`
	// DynamicAllocation indicates agent load varies and work should be bid on.
	DynamicAllocation bool `json:"dynamic_allocation" yaml:"dynamic_allocation"`
	// Exploratory indicates the solution path is unknown.
	Exploratory bool `json:"exploratory" yaml:"exploratory"`
	// Optimization indicates a search-style task converging on a best result.
	Optimization bool `json:"optimization" yaml:"optimization"`
	// Validation indicates a quality-assurance task over an existing artifact.
	Validation bool `json:"validation" yaml:"validation"`
}

// Job is the unit of work submitted to the engine. The payload is opaque;
// the engine coordinates and validates but never interprets it.
// A job is immutable once accepted.
type Job struct {
	// ID is the unique identifier for this job.
	ID string `json:"id" yaml:"id"`
	// Capability is the capability tag agents must declare to work on it.
	Capability string `json:"capability" yaml:"capability"`
	// Payload is the opaque work description handed to agents.
	Payload []byte `json:"payload" yaml:"payload"`
	// Priority orders jobs when agents are contended. Higher wins.
	Priority int `json:"priority" yaml:"priority"`
	// Deadline bounds the whole run. Zero means no deadline.
	Deadline time.Time `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	// QualityThreshold is the aggregate score required to commit, in [0,1].
	QualityThreshold float64 `json:"quality_threshold" yaml:"quality_threshold"`
	// MaxIterations caps the number of consensus rounds.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// StrategyID names the decomposition strategy registered with the
	// orchestrator. Empty selects the default single-task strategy.
	StrategyID string `json:"decomposition_strategy_id,omitempty" yaml:"decomposition_strategy_id,omitempty"`
	// Traits drive protocol selection.
	Traits JobTraits `json:"traits" yaml:"traits"`
	// Status is the current lifecycle state.
	Status JobStatus `json:"status" yaml:"-"`
	// SubmittedAt is when the job was accepted.
	SubmittedAt time.Time `json:"submitted_at" yaml:"-"`
}

// ErrInvalidJob indicates a job failed submission validation.
var ErrInvalidJob = errors.New("invalid job")

// Validate checks the submission fields. It does not consult the registry;
// capability matching happens at submit time.
func (j *Job) Validate() error {
	if j.Capability == "" {
		return fmt.Errorf("%w: capability is required", ErrInvalidJob)
	}
	if j.QualityThreshold < 0 || j.QualityThreshold > 1 {
		return fmt.Errorf("%w: quality threshold %.2f outside [0,1]", ErrInvalidJob, j.QualityThreshold)
	}
	if j.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be at least 1", ErrInvalidJob)
	}
	return nil
}

// Fingerprint returns a stable hash of the submission fields, used to
// detect duplicate submissions of the same work.
func (j *Job) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%.4f|%d|%s|", j.Capability, j.Priority, j.QualityThreshold, j.MaxIterations, j.StrategyID)
	h.Write(j.Payload)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
