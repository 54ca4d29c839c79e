// Package orchestrator manages job intake, protocol execution, and the
// consensus stage that gates every result.
package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventJobQueued indicates a job passed validation and was accepted.
	EventJobQueued EventType = "job_queued"
	// EventJobStarted indicates a job's protocol run began.
	EventJobStarted EventType = "job_started"
	// EventProtocolSelected reports which coordination protocol a job's
	// traits selected.
	EventProtocolSelected EventType = "protocol_selected"
	// EventConsensusStarted indicates the candidate artifact entered
	// critic review.
	EventConsensusStarted EventType = "consensus_started"
	// EventJobCompleted indicates consensus committed a validated result.
	EventJobCompleted EventType = "job_completed"
	// EventJobEscalated indicates consensus was not reached and the job
	// was handed off with its full round history.
	EventJobEscalated EventType = "job_escalated"
	// EventJobFailed indicates the job failed before producing a
	// candidate artifact.
	EventJobFailed EventType = "job_failed"
	// EventJobCancelled indicates the job was cancelled by the caller.
	EventJobCancelled EventType = "job_cancelled"
)

// Event represents an event emitted by the orchestrator. Events feed the
// watch TUI and the debug log.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// JobID is the ID of the related job.
	JobID string
	// Protocol names the selected protocol, for protocol events.
	Protocol string
	// Rounds is the number of consensus rounds used, for terminal events.
	Rounds int
	// Aggregate is the final weighted mean score, for terminal events.
	Aggregate float64
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
