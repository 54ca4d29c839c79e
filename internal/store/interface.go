// Package store provides SQLite-based persistence for the engine.
package store

import (
	"io"

	"github.com/echiweshe/convoke/pkg/models"
)

// JobStore handles job and task persistence.
type JobStore interface {
	CreateJob(j *models.Job) error
	UpdateJobStatus(jobID string, status models.JobStatus) error
	GetJob(jobID string) (*models.Job, error)
	ListJobs(status models.JobStatus) ([]models.Job, error)
	SaveTasks(tasks []*models.Task) error
	ListTasksByJob(jobID string) ([]models.Task, error)
}

// RoundStore handles consensus history persistence.
type RoundStore interface {
	AppendRound(jobID string, round models.ConsensusRound) error
	ListRounds(jobID string) ([]models.ConsensusRound, error)
	SaveEscalation(esc models.EscalationRequest) error
	GetEscalation(jobID string) (*models.EscalationRequest, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the persistence surface the orchestrator depends on,
// without binding it to the concrete SQLite implementation.
type Store interface {
	io.Closer
	Migrator
	JobStore
	RoundStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store      = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ JobStore   = (*DB)(nil)
	_ RoundStore = (*DB)(nil)
)
