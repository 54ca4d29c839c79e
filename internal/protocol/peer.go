package protocol

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/echiweshe/convoke/pkg/models"
)

// Peer coordinates equal-contribution work: Share-Context, Parallel-Work,
// Merge. Every task carries the full job payload so each peer works from
// the same context; the merge concatenates contributions in stable order.
type Peer struct{}

// Name implements Protocol.
func (p *Peer) Name() string { return "peer" }

// Execute shares context with all capable agents, runs the tasks in
// parallel, and merges the contributions.
func (p *Peer) Execute(ctx context.Context, run *Run) (*Result, error) {
	job := run.Job()

	// Share-Context: everyone sees the full problem before work starts.
	// Delivery failures here are tolerable; the work request repeats the
	// payload.
	inform := models.NewMessage(models.MsgInform, run.deps.Mailbox.ID(), models.BroadcastReceiver,
		run.conversation("context"), job.Payload)
	if failures := run.deps.Channel.Broadcast(ctx, inform, job.Capability); len(failures) > 0 {
		run.deps.Logf("[run %s] context share reached all but %d agents", run.ID(), len(failures))
	}

	tasks := run.Tasks()
	sort.Slice(tasks, func(i, j int) bool { return taskLess(tasks[i].ID, tasks[j].ID) })

	var (
		mu      sync.Mutex
		results = make(map[string]models.TaskResult, len(tasks))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			res, err := run.executeTask(gctx, task)
			if err != nil {
				return err
			}
			mu.Lock()
			results[task.ID] = res
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return &Result{Outcome: OutcomeAborted, Tasks: run.Tasks()}, ctx.Err()
		}
		return &Result{Outcome: OutcomeTimedOut, Tasks: run.Tasks()}, err
	}

	// Merge: contributions joined in task order; the highest-scoring
	// contributor fields revisions.
	var buf bytes.Buffer
	producer := ""
	bestScore := -1.0
	for _, task := range tasks {
		res := results[task.ID]
		buf.Write(res.Content)
		if res.Score > bestScore {
			bestScore = res.Score
			producer = res.AgentID
		}
	}

	return &Result{
		Outcome:  OutcomeDone,
		Artifact: models.Artifact{Version: 1, ProducerID: producer, Content: buf.Bytes()},
		Tasks:    run.Tasks(),
	}, nil
}
