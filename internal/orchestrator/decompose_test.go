package orchestrator

import (
	"errors"
	"testing"

	"github.com/echiweshe/convoke/pkg/models"
)

func TestDecomposeDefaultsToSingleTask(t *testing.T) {
	set := NewStrategySet()
	job := models.Job{ID: "j1", Capability: "code", Payload: []byte("work")}

	tasks, err := set.Decompose(job)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	if tasks[0].JobID != "j1" || string(tasks[0].Payload) != "work" {
		t.Errorf("task fields wrong: %+v", tasks[0])
	}
}

func TestDecomposeLines(t *testing.T) {
	set := NewStrategySet()
	job := models.Job{ID: "j1", Capability: "code", StrategyID: "lines",
		Payload: []byte("alpha\n\n  beta  \ngamma\n")}

	tasks, err := set.Decompose(job)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(tasks))
	}
	if string(tasks[1].Payload) != "beta" {
		t.Errorf("second task payload = %q, want trimmed line", tasks[1].Payload)
	}
}

func TestDecomposeUnknownStrategy(t *testing.T) {
	set := NewStrategySet()
	job := models.Job{ID: "j1", Capability: "code", StrategyID: "bogus"}

	if _, err := set.Decompose(job); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("error = %v, want ErrUnknownStrategy", err)
	}
}

func TestRegisterReplacesStrategy(t *testing.T) {
	set := NewStrategySet()
	set.Register(pairSplit{})

	job := models.Job{ID: "j1", Capability: "code", StrategyID: "pair", Payload: []byte("work")}
	tasks, err := set.Decompose(job)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
}

// pairSplit duplicates the payload into two tasks.
type pairSplit struct{}

func (pairSplit) Name() string { return "pair" }

func (pairSplit) Decompose(job models.Job) ([]*models.Task, error) {
	return []*models.Task{
		{ID: job.ID + ":t1", JobID: job.ID, Capability: job.Capability, Payload: job.Payload, Status: models.TaskStatusPending},
		{ID: job.ID + ":t2", JobID: job.ID, Capability: job.Capability, Payload: job.Payload, Status: models.TaskStatusPending},
	}, nil
}
