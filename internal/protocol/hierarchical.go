package protocol

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/echiweshe/convoke/pkg/models"
)

// Hierarchical delegates decomposed tasks to capable agents in parallel
// and aggregates their results: Decompose, Delegate, Await-All, Aggregate.
// Decomposition happens before the run; this protocol picks up at Delegate.
type Hierarchical struct{}

// Name implements Protocol.
func (h *Hierarchical) Name() string { return "hierarchical" }

// Execute delegates every task, waits for all of them, and aggregates the
// results in task-ID order so the artifact is deterministic.
func (h *Hierarchical) Execute(ctx context.Context, run *Run) (*Result, error) {
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

	// Aggregate in stable task order. The producer recorded on the
	// artifact is the agent that contributed the first part; it fields
	// revision requests during consensus.
	var buf bytes.Buffer
	producer := ""
	for _, task := range tasks {
		res := results[task.ID]
		if producer == "" {
			producer = res.AgentID
		}
		buf.Write(res.Content)
	}

	return &Result{
		Outcome:  OutcomeDone,
		Artifact: models.Artifact{Version: 1, ProducerID: producer, Content: buf.Bytes()},
		Tasks:    run.Tasks(),
	}, nil
}
