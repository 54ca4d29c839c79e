// Package protocol implements the engine's coordination strategies. Each
// protocol is a state machine over the shared message vocabulary; a
// protocol run owns its task set and terminates in Done, TimedOut, or
// Aborted. Selection is a pure function of the job's declared traits.
package protocol

import (
	"context"
	"errors"

	"github.com/echiweshe/convoke/pkg/models"
)

// Outcome is the terminal state of a protocol run.
type Outcome string

const (
	// OutcomeDone indicates the run aggregated a candidate artifact.
	OutcomeDone Outcome = "done"
	// OutcomeTimedOut indicates a state deadline expired after exhausting
	// task retries.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeAborted indicates the run was cancelled or hit a fatal error.
	OutcomeAborted Outcome = "aborted"
)

// ErrStaleTaskResult is returned when an agent submits a result for a task
// it no longer owns. Stale results are logged and discarded, never
// propagated as job failure.
var ErrStaleTaskResult = errors.New("stale task result")

// ErrTaskAlreadyClaimed is returned when a claim loses the first-claim-wins
// race on task ownership.
var ErrTaskAlreadyClaimed = errors.New("task already claimed")

// ErrProtocolAborted indicates the run failed after exhausting reassignment
// retries.
var ErrProtocolAborted = errors.New("protocol aborted")

// Result is the output of a protocol run.
type Result struct {
	// Outcome is the run's terminal state.
	Outcome Outcome
	// Artifact is the candidate handed to the consensus synthesizer.
	// Valid only when Outcome is OutcomeDone.
	Artifact models.Artifact
	// Tasks is the run's final task set, for diagnostics and persistence.
	Tasks []*models.Task
}

// Protocol is one coordination strategy. Implementations share the Run
// primitives for ownership, assignment, and result collection.
type Protocol interface {
	// Name identifies the protocol in logs and events.
	Name() string
	// Execute drives the run to a terminal state.
	Execute(ctx context.Context, run *Run) (*Result, error)
}

// Select picks the protocol for a job from its declared traits. Validation
// jobs take the consensus protocol; the checks below it mirror the
// remaining selection criteria in priority order. Jobs with no traits set
// default to hierarchical delegation.
func Select(job models.Job) Protocol {
	switch {
	case job.Traits.Validation:
		return &Consensus{}
	case job.Traits.Optimization:
		return &Swarm{}
	case job.Traits.Exploratory:
		return &Blackboard{}
	case job.Traits.DynamicAllocation:
		return &ContractNet{}
	case job.Traits.EqualContribution:
		return &Peer{}
	default:
		return &Hierarchical{}
	}
}
