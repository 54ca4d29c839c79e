package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been assigned.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusAssigned indicates an agent has been given the task.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress indicates the owning agent acknowledged the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusTimedOut indicates the owning agent missed the state deadline.
	TaskStatusTimedOut TaskStatus = "timed_out"
	// TaskStatusFailed indicates the task failed after exhausting retries.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusInProgress,
		TaskStatusDone, TaskStatusTimedOut, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status ends the task's lifecycle.
// TimedOut is not terminal: a timed-out task may be reassigned.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// Task is a decomposed unit of a job, owned by exactly one agent at a time.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// JobID is the job this task was decomposed from.
	JobID string `json:"job_id"`
	// RunID identifies the owning protocol run.
	RunID string `json:"run_id"`
	// Payload is the opaque sub-work description.
	Payload []byte `json:"payload"`
	// Capability is the capability required to execute this task.
	Capability string `json:"capability"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedTo is the ID of the agent currently holding the task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// RetryCount is the number of reassignments after timeouts or failures.
	RetryCount int `json:"retry_count,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Error contains the failure message if the task failed.
	Error string `json:"error,omitempty"`
}
