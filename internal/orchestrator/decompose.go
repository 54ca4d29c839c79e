package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/echiweshe/convoke/pkg/models"
)

// ErrUnknownStrategy indicates a job named a decomposition strategy that
// was never registered.
var ErrUnknownStrategy = errors.New("unknown decomposition strategy")

// Strategy splits a job into the task set a protocol run executes. The
// payload is opaque to the engine, so strategies are the only place
// payload structure is ever interpreted, and they are supplied by the
// caller.
type Strategy interface {
	// Name identifies the strategy for job StrategyID lookup.
	Name() string
	// Decompose produces the job's task set. It must return at least one
	// task.
	Decompose(job models.Job) ([]*models.Task, error)
}

// StrategySet is a registry of decomposition strategies. The empty
// strategy ID maps to single-task decomposition.
type StrategySet struct {
	mu   sync.RWMutex
	byID map[string]Strategy
}

// NewStrategySet creates a set with the default strategies registered.
func NewStrategySet() *StrategySet {
	s := &StrategySet{byID: make(map[string]Strategy)}
	s.Register(singleTask{})
	s.Register(lineSplit{})
	return s
}

// Register adds a strategy, replacing any previous one with the same name.
func (s *StrategySet) Register(strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[strategy.Name()] = strategy
}

// Decompose runs the job's named strategy. An empty StrategyID selects
// single-task decomposition.
func (s *StrategySet) Decompose(job models.Job) ([]*models.Task, error) {
	id := job.StrategyID
	if id == "" {
		id = "single"
	}

	s.mu.RLock()
	strategy, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}

	tasks, err := strategy.Decompose(job)
	if err != nil {
		return nil, fmt.Errorf("decompose job %s with %s: %w", job.ID, id, err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("strategy %s produced no tasks for job %s", id, job.ID)
	}
	return tasks, nil
}

// singleTask wraps the whole job in one task.
type singleTask struct{}

func (singleTask) Name() string { return "single" }

func (singleTask) Decompose(job models.Job) ([]*models.Task, error) {
	return []*models.Task{{
		ID:         job.ID + ":t1",
		JobID:      job.ID,
		Capability: job.Capability,
		Payload:    job.Payload,
		Status:     models.TaskStatusPending,
		CreatedAt:  time.Now(),
	}}, nil
}

// lineSplit makes one task per non-empty payload line. It suits
// decomposable jobs whose payload is a list of independent work items.
type lineSplit struct{}

func (lineSplit) Name() string { return "lines" }

func (lineSplit) Decompose(job models.Job) ([]*models.Task, error) {
	var tasks []*models.Task
	n := 0
	for _, line := range bytes.Split(job.Payload, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		n++
		tasks = append(tasks, &models.Task{
			ID:         fmt.Sprintf("%s:t%d", job.ID, n),
			JobID:      job.ID,
			Capability: job.Capability,
			Payload:    line,
			Status:     models.TaskStatusPending,
			CreatedAt:  time.Now(),
		})
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("payload has no work items")
	}
	return tasks, nil
}
