package protocol

import (
	"context"

	"github.com/echiweshe/convoke/pkg/models"
)

// Consensus handles validation jobs: the job payload is itself the
// candidate artifact, so there is nothing to produce before review. The
// protocol's Propose, Evaluate, Revise, Commit cycle is the consensus
// synthesizer's loop; this run only designates the reviser that fields
// revision requests.
type Consensus struct{}

// Name implements Protocol.
func (c *Consensus) Name() string { return "consensus" }

// Execute wraps the payload as artifact version 1, produced by the
// best-ranked capable agent.
func (c *Consensus) Execute(ctx context.Context, run *Run) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return &Result{Outcome: OutcomeAborted, Tasks: run.Tasks()}, err
	}

	job := run.Job()
	capable := run.deps.Registry.FindCapable(job.Capability)
	if len(capable) == 0 {
		return &Result{Outcome: OutcomeAborted, Tasks: run.Tasks()}, ErrProtocolAborted
	}

	return &Result{
		Outcome:  OutcomeDone,
		Artifact: models.Artifact{Version: 1, ProducerID: capable[0], Content: job.Payload},
		Tasks:    run.Tasks(),
	}, nil
}
