package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/echiweshe/convoke/pkg/models"
)

// Memory is an in-process Store for tests and ephemeral runs. It mirrors
// the SQLite implementation's semantics: same not-found errors, same
// ordering, same duplicate-round rejection.
type Memory struct {
	mu          sync.RWMutex
	jobs        map[string]models.Job
	tasks       map[string]map[string]models.Task
	rounds      map[string][]models.ConsensusRound
	escalations map[string]models.EscalationRequest
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:        make(map[string]models.Job),
		tasks:       make(map[string]map[string]models.Task),
		rounds:      make(map[string][]models.ConsensusRound),
		escalations: make(map[string]models.EscalationRequest),
	}
}

// Migrate implements Migrator. There is no schema to migrate.
func (m *Memory) Migrate() error { return nil }

// Close implements io.Closer.
func (m *Memory) Close() error { return nil }

// CreateJob persists a newly accepted job.
func (m *Memory) CreateJob(j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[j.ID]; exists {
		return fmt.Errorf("create job: job %s already exists", j.ID)
	}
	m.jobs[j.ID] = *j
	return nil
}

// UpdateJobStatus records a job lifecycle transition.
func (m *Memory) UpdateJobStatus(jobID string, status models.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job status: %w: job %s", ErrNotFound, jobID)
	}
	j.Status = status
	m.jobs[jobID] = j
	return nil
}

// GetJob loads one job by ID.
func (m *Memory) GetJob(jobID string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("get job: %w: job %s", ErrNotFound, jobID)
	}
	return &j, nil
}

// ListJobs returns all jobs with the given status, newest first. An empty
// status returns every job.
func (m *Memory) ListJobs(status models.JobStatus) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var jobs []models.Job
	for _, j := range m.jobs {
		if status != "" && j.Status != status {
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].SubmittedAt.After(jobs[k].SubmittedAt) })
	return jobs, nil
}

// SaveTasks upserts a run's tasks.
func (m *Memory) SaveTasks(tasks []*models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		byID, ok := m.tasks[t.JobID]
		if !ok {
			byID = make(map[string]models.Task)
			m.tasks[t.JobID] = byID
		}
		byID[t.ID] = *t
	}
	return nil
}

// ListTasksByJob returns a job's tasks in creation order.
func (m *Memory) ListTasksByJob(jobID string) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tasks []models.Task
	for _, t := range m.tasks[jobID] {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, k int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[k].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[k].CreatedAt)
		}
		return tasks[i].ID < tasks[k].ID
	})
	return tasks, nil
}

// AppendRound records one closed consensus round. Round history is
// append-only; re-recording a round number is rejected.
func (m *Memory) AppendRound(jobID string, round models.ConsensusRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rounds[jobID] {
		if r.Number == round.Number {
			return fmt.Errorf("append round: round %d already recorded for job %s", round.Number, jobID)
		}
	}
	m.rounds[jobID] = append(m.rounds[jobID], round)
	return nil
}

// ListRounds returns a job's round history in order.
func (m *Memory) ListRounds(jobID string) ([]models.ConsensusRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rounds := append([]models.ConsensusRound(nil), m.rounds[jobID]...)
	sort.Slice(rounds, func(i, k int) bool { return rounds[i].Number < rounds[k].Number })
	return rounds, nil
}

// SaveEscalation records or replaces a job's escalation.
func (m *Memory) SaveEscalation(esc models.EscalationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations[esc.JobID] = esc
	return nil
}

// GetEscalation loads the escalation recorded for a job, if any.
func (m *Memory) GetEscalation(jobID string) (*models.EscalationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	esc, ok := m.escalations[jobID]
	if !ok {
		return nil, fmt.Errorf("get escalation: %w: job %s", ErrNotFound, jobID)
	}
	return &esc, nil
}

var _ Store = (*Memory)(nil)
