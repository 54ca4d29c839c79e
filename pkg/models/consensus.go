package models

import (
	"fmt"
	"time"
)

// Severity classifies a critic finding.
type Severity string

const (
	// SeverityInfo is an observation with no bearing on commit eligibility.
	SeverityInfo Severity = "info"
	// SeverityWarning should be addressed but does not block a commit.
	SeverityWarning Severity = "warning"
	// SeverityBlocking vetoes a commit regardless of the aggregate score.
	SeverityBlocking Severity = "blocking"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityBlocking:
		return true
	default:
		return false
	}
}

// Finding is a structured issue reported by a critic, independent of the
// scalar score.
type Finding struct {
	// Category groups related findings for deduplication.
	Category string `json:"category"`
	// Severity is the finding's impact classification.
	Severity Severity `json:"severity"`
	// Detail is the human-readable description.
	Detail string `json:"detail"`
}

// Artifact is a versioned candidate result produced by an agent.
// Content is opaque to the engine.
type Artifact struct {
	// Version increments on every revision within a job.
	Version int `json:"version"`
	// ProducerID is the agent that produced this version.
	ProducerID string `json:"producer_id"`
	// Content is the opaque artifact body.
	Content []byte `json:"content"`
}

// Vote is one critic's judgement of a specific artifact version.
// Votes are keyed by (artifact version, critic ID) to prevent double counting.
type Vote struct {
	// ArtifactVersion is the version this vote applies to.
	ArtifactVersion int `json:"artifact_version"`
	// CriticID is the voting critic.
	CriticID string `json:"critic_id"`
	// Score is the critic's scalar quality judgement in [0,1].
	Score float64 `json:"score"`
	// Findings lists structured issues found in the artifact.
	Findings []Finding `json:"findings,omitempty"`
	// Abstained is true when the critic did not respond before the round
	// timeout. Abstains carry no score and are excluded from aggregation.
	Abstained bool `json:"abstained,omitempty"`
}

// Key returns the (artifact version, critic) identity of this vote.
func (v Vote) Key() string {
	return fmt.Sprintf("%d:%s", v.ArtifactVersion, v.CriticID)
}

// BlockingCount returns the number of blocking findings in this vote.
func (v Vote) BlockingCount() int {
	n := 0
	for _, f := range v.Findings {
		if f.Severity == SeverityBlocking {
			n++
		}
	}
	return n
}

// ConsensusRound records one propose-critique-aggregate iteration.
// Rounds are append-only history for a job; never mutated after closing.
type ConsensusRound struct {
	// Number is the 1-based iteration number.
	Number int `json:"number"`
	// ArtifactVersion is the candidate version evaluated in this round.
	ArtifactVersion int `json:"artifact_version"`
	// Critics lists the critics asked to vote.
	Critics []string `json:"critics"`
	// Votes are the collected votes, including abstains.
	Votes []Vote `json:"votes"`
	// Aggregate is the weighted mean score over non-abstaining votes.
	Aggregate float64 `json:"aggregate"`
	// Improvement lists the deduplicated revision instructions sent to the
	// producer after this round, empty on the final round.
	Improvement []string `json:"improvement,omitempty"`
	// ClosedAt is when the round closed.
	ClosedAt time.Time `json:"closed_at"`
}

// BlockingCount returns the total blocking findings across all votes.
func (r ConsensusRound) BlockingCount() int {
	n := 0
	for _, v := range r.Votes {
		n += v.BlockingCount()
	}
	return n
}

// ValidatedResult is the success outcome of a job: an artifact that met the
// quality threshold with no blocking findings.
type ValidatedResult struct {
	// JobID is the validated job.
	JobID string `json:"job_id"`
	// Artifact is the committed artifact.
	Artifact Artifact `json:"artifact"`
	// Aggregate is the final round's weighted mean score.
	Aggregate float64 `json:"aggregate"`
	// RoundsUsed is the number of consensus rounds consumed.
	RoundsUsed int `json:"rounds_used"`
}

// EscalationReason codes why a job escalated.
type EscalationReason string

const (
	// EscalateIterationCap means the iteration budget ran out without
	// convergence.
	EscalateIterationCap EscalationReason = "iteration_cap"
	// EscalateBlockingPersistent means blocking findings were still open
	// when the iteration budget ran out.
	EscalateBlockingPersistent EscalationReason = "blocking_persistent"
	// EscalateNoCritics means no critic produced a countable vote.
	EscalateNoCritics EscalationReason = "no_critics"
	// EscalateProducerFailed means the producer could not deliver a revision.
	EscalateProducerFailed EscalationReason = "producer_failed"
)

// EscalationRequest is the terminal outcome when consensus is not reached.
// It carries the full round history for a human or downstream collaborator.
type EscalationRequest struct {
	// JobID is the escalated job.
	JobID string `json:"job_id"`
	// Artifact is the last candidate evaluated.
	Artifact Artifact `json:"artifact"`
	// Rounds is the complete, ordered round history.
	Rounds []ConsensusRound `json:"rounds"`
	// Reason codes why the job escalated.
	Reason EscalationReason `json:"reason"`
}
