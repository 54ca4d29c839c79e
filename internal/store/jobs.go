package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/echiweshe/convoke/pkg/models"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateJob persists a newly accepted job.
func (db *DB) CreateJob(j *models.Job) error {
	_, err := db.Exec(`
		INSERT INTO jobs (id, capability, payload, priority, quality_threshold,
			max_iterations, strategy_id, traits, fingerprint, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Capability, j.Payload, j.Priority, j.QualityThreshold,
		j.MaxIterations, j.StrategyID, marshalJSON(j.Traits), j.Fingerprint(),
		string(j.Status), formatTime(j.SubmittedAt))
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// UpdateJobStatus records a job lifecycle transition.
func (db *DB) UpdateJobStatus(jobID string, status models.JobStatus) error {
	res, err := db.Exec("UPDATE jobs SET status = ? WHERE id = ?", string(status), jobID)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update job status: %w: job %s", ErrNotFound, jobID)
	}
	return nil
}

// GetJob loads one job by ID.
func (db *DB) GetJob(jobID string) (*models.Job, error) {
	row := db.QueryRow(`
		SELECT id, capability, payload, priority, quality_threshold,
			max_iterations, strategy_id, traits, status, submitted_at
		FROM jobs WHERE id = ?
	`, jobID)

	var (
		j           models.Job
		strategyID  sql.NullString
		traits      sql.NullString
		status      string
		submittedAt string
	)
	err := row.Scan(&j.ID, &j.Capability, &j.Payload, &j.Priority, &j.QualityThreshold,
		&j.MaxIterations, &strategyID, &traits, &status, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get job: %w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	j.StrategyID = strategyID.String
	j.Status = models.JobStatus(status)
	if traits.Valid && traits.String != "" {
		if err := json.Unmarshal([]byte(traits.String), &j.Traits); err != nil {
			return nil, fmt.Errorf("get job: decode traits: %w", err)
		}
	}
	if t, err := parseTime(submittedAt); err == nil {
		j.SubmittedAt = t
	}
	return &j, nil
}

// ListJobs returns all jobs with the given status, newest first. An empty
// status returns every job.
func (db *DB) ListJobs(status models.JobStatus) ([]models.Job, error) {
	query := `
		SELECT id, capability, priority, quality_threshold, max_iterations,
			status, submitted_at
		FROM jobs
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY submitted_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var (
			j           models.Job
			st          string
			submittedAt string
		)
		if err := rows.Scan(&j.ID, &j.Capability, &j.Priority, &j.QualityThreshold,
			&j.MaxIterations, &st, &submittedAt); err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		j.Status = models.JobStatus(st)
		if t, err := parseTime(submittedAt); err == nil {
			j.SubmittedAt = t
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// SaveTasks upserts a run's task set for a job.
func (db *DB) SaveTasks(tasks []*models.Task) error {
	for _, t := range tasks {
		var completedAt any
		if t.CompletedAt != nil {
			completedAt = formatTime(*t.CompletedAt)
		}
		_, err := db.Exec(`
			INSERT INTO tasks (id, job_id, run_id, capability, status,
				assigned_to, retry_count, error, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				run_id = excluded.run_id,
				status = excluded.status,
				assigned_to = excluded.assigned_to,
				retry_count = excluded.retry_count,
				error = excluded.error,
				completed_at = excluded.completed_at
		`, t.ID, t.JobID, t.RunID, t.Capability, string(t.Status),
			t.AssignedTo, t.RetryCount, t.Error, formatTime(t.CreatedAt), completedAt)
		if err != nil {
			return fmt.Errorf("save task %s: %w", t.ID, err)
		}
	}
	return nil
}

// ListTasksByJob returns a job's tasks, oldest first.
func (db *DB) ListTasksByJob(jobID string) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT id, job_id, run_id, capability, status, assigned_to,
			retry_count, error, created_at, completed_at
		FROM tasks WHERE job_id = ? ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var (
			t           models.Task
			runID       sql.NullString
			assignedTo  sql.NullString
			taskErr     sql.NullString
			st          string
			createdAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.JobID, &runID, &t.Capability, &st,
			&assignedTo, &t.RetryCount, &taskErr, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		t.RunID = runID.String
		t.AssignedTo = assignedTo.String
		t.Error = taskErr.String
		t.Status = models.TaskStatus(st)
		if ts, err := parseTime(createdAt); err == nil {
			t.CreatedAt = ts
		}
		t.CompletedAt = parseNullableTime(completedAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
