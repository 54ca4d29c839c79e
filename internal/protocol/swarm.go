package protocol

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/echiweshe/convoke/internal/consensus"
	"github.com/echiweshe/convoke/pkg/models"
)

// Swarm runs search-style jobs in two waves: Explore, Deposit-Signal,
// Follow-Signal, Converge. Wave one explores from the raw job payload;
// each result's score is its deposited signal. Wave two re-explores from
// the strongest signal's content, and the best result overall wins.
type Swarm struct{}

// Name implements Protocol.
func (s *Swarm) Name() string { return "swarm" }

// Execute fans work out to up to SwarmWidth agents per wave and converges
// on the best result. Every contribution competes as a candidate: score
// ties prefer fewer blocking findings, then the earlier wave.
func (s *Swarm) Execute(ctx context.Context, run *Run) (*Result, error) {
	job := run.Job()

	// Explore from the raw payload.
	first, err := s.wave(ctx, run, "explore", job.Payload)
	if err != nil {
		if ctx.Err() != nil {
			return &Result{Outcome: OutcomeAborted, Tasks: run.Tasks()}, ctx.Err()
		}
		return &Result{Outcome: OutcomeTimedOut, Tasks: run.Tasks()}, err
	}

	candidates := swarmCandidates(first, 1)
	best, _ := consensus.PickBest(candidates)

	// Follow-Signal: a second wave seeded with the strongest result. If
	// the first wave already cleared the threshold there is nothing left
	// to search for.
	if best.Aggregate < job.QualityThreshold {
		second, err := s.wave(ctx, run, "follow", best.Artifact.Content)
		if err == nil {
			candidates = append(candidates, swarmCandidates(second, 2)...)
			best, _ = consensus.PickBest(candidates)
		} else if ctx.Err() != nil {
			return &Result{Outcome: OutcomeAborted, Tasks: run.Tasks()}, ctx.Err()
		} else {
			run.deps.Logf("[run %s] swarm follow wave failed, converging on first wave: %v", run.ID(), err)
		}
	}

	return &Result{
		Outcome:  OutcomeDone,
		Artifact: best.Artifact,
		Tasks:    run.Tasks(),
	}, nil
}

// wave sends one exploration round to up to SwarmWidth capable agents and
// collects their scored results. A wave succeeds if anyone answers.
func (s *Swarm) wave(ctx context.Context, run *Run, name string, seed []byte) ([]models.TaskResult, error) {
	job := run.Job()
	agents := run.deps.Registry.FindCapable(job.Capability)
	if len(agents) > run.cfg.SwarmWidth {
		agents = agents[:run.cfg.SwarmWidth]
	}
	if len(agents) == 0 {
		return nil, ErrProtocolAborted
	}

	var (
		mu      sync.Mutex
		results []models.TaskResult
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, agentID := range agents {
		task := &models.Task{
			ID:         run.conversation(name, agentID),
			JobID:      job.ID,
			Capability: job.Capability,
			Payload:    seed,
			Status:     models.TaskStatusPending,
			CreatedAt:  time.Now(),
		}
		run.addTask(task)
		g.Go(func() error {
			res, err := run.executeWithAgent(gctx, task, agentID)
			if err != nil {
				// One quiet scout doesn't fail the wave.
				run.deps.Logf("[run %s] swarm %s: agent %s did not report: %v", run.ID(), name, agentID, err)
				return nil
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(results) == 0 {
		return nil, ErrProtocolAborted
	}
	return results, nil
}

// swarmCandidates turns one wave's contributions into consensus candidates.
// The wave number stands in for iterations so earlier waves win ties.
func swarmCandidates(results []models.TaskResult, wave int) []consensus.Candidate {
	out := make([]consensus.Candidate, 0, len(results))
	for _, r := range results {
		out = append(out, consensus.Candidate{
			Artifact:   models.Artifact{Version: 1, ProducerID: r.AgentID, Content: r.Content},
			Aggregate:  r.Score,
			Iterations: wave,
		})
	}
	return out
}
