package protocol

import (
	"context"
	"time"

	"github.com/echiweshe/convoke/internal/consensus"
	"github.com/echiweshe/convoke/pkg/models"
)

// Blackboard coordinates exploratory work with no known solution path:
// Post-Problem, then an Opportunistic-Contribute loop with an
// Evaluate-Progress step per cycle, until a contribution is good enough or
// the cycle budget runs out.
type Blackboard struct{}

// Name implements Protocol.
func (b *Blackboard) Name() string { return "blackboard" }

// Execute posts the problem, invites contributions for a bounded number of
// cycles, and keeps the best contribution seen. Each cycle re-posts the
// current best so agents build on each other's partial solutions.
func (b *Blackboard) Execute(ctx context.Context, run *Run) (*Result, error) {
	job := run.Job()
	conv := run.conversation("board")
	sub := run.deps.Mailbox.Subscribe(conv)
	defer run.deps.Mailbox.Unsubscribe(conv)

	board := job.Payload
	var best *consensus.Candidate

	for cycle := 1; cycle <= run.cfg.BlackboardCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return &Result{Outcome: OutcomeAborted, Tasks: run.Tasks()}, err
		}

		// Post-Problem: the current board state goes to every capable
		// agent; contributions come back on the board conversation.
		post := models.NewMessage(models.MsgQuery, run.deps.Mailbox.ID(), models.BroadcastReceiver, conv, board)
		post.ReplyBy = time.Now().Add(run.cfg.StateTimeout)
		failures := run.deps.Channel.Broadcast(ctx, post, job.Capability)
		if len(failures) > 0 {
			run.deps.Logf("[run %s] blackboard cycle %d: %d agents unreachable", run.ID(), cycle, len(failures))
		}

		// Opportunistic-Contribute: collect whatever arrives within the
		// window. Agents that stay silent this cycle simply don't
		// contribute.
		contributions := b.collect(ctx, run, sub)

		// Evaluate-Progress: each contribution competes as a candidate;
		// the winner becomes the new board state. Score ties prefer the
		// earlier cycle.
		for _, c := range contributions {
			cand := consensus.Candidate{
				Artifact:   models.Artifact{Version: 1, ProducerID: c.AgentID, Content: c.Content},
				Aggregate:  c.Score,
				Iterations: cycle,
			}
			if best == nil || consensus.Better(cand, *best) {
				best = &cand
				board = c.Content
			}
		}

		run.deps.Logf("[run %s] blackboard cycle %d: %d contributions, best score %.3f",
			run.ID(), cycle, len(contributions), bestScore(best))

		// Solved? A contribution at or above the job threshold ends the
		// loop early.
		if best != nil && best.Aggregate >= job.QualityThreshold {
			break
		}
	}

	if best == nil {
		return &Result{Outcome: OutcomeTimedOut, Tasks: run.Tasks()}, ErrProtocolAborted
	}

	return &Result{
		Outcome:  OutcomeDone,
		Artifact: best.Artifact,
		Tasks:    run.Tasks(),
	}, nil
}

// collect drains contributions until the state timeout.
func (b *Blackboard) collect(ctx context.Context, run *Run, sub <-chan models.Message) []models.TaskResult {
	var contributions []models.TaskResult
	timeout := time.NewTimer(run.cfg.StateTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return contributions
		case <-timeout.C:
			return contributions
		case msg := <-sub:
			if msg.Type != models.MsgPropose && msg.Type != models.MsgResponse {
				continue
			}
			var c models.TaskResult
			if err := models.DecodePayload(msg.Payload, &c); err != nil {
				continue
			}
			if c.AgentID == "" {
				c.AgentID = msg.Sender
			}
			contributions = append(contributions, c)
		}
	}
}

func bestScore(c *consensus.Candidate) float64 {
	if c == nil {
		return 0
	}
	return c.Aggregate
}
