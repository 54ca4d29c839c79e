package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/echiweshe/convoke/pkg/models"
)

// AppendRound records one closed consensus round. Round numbers are unique
// per job, so replaying the same round is rejected by the primary key.
func (db *DB) AppendRound(jobID string, round models.ConsensusRound) error {
	_, err := db.Exec(`
		INSERT INTO rounds (job_id, number, artifact_version, aggregate,
			votes, improvement, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, jobID, round.Number, round.ArtifactVersion, round.Aggregate,
		marshalJSON(round.Votes), marshalJSON(round.Improvement), formatTime(round.ClosedAt))
	if err != nil {
		return fmt.Errorf("append round %d for job %s: %w", round.Number, jobID, err)
	}
	return nil
}

// ListRounds returns a job's round history in iteration order.
func (db *DB) ListRounds(jobID string) ([]models.ConsensusRound, error) {
	rows, err := db.Query(`
		SELECT number, artifact_version, aggregate, votes, improvement, closed_at
		FROM rounds WHERE job_id = ? ORDER BY number
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.ConsensusRound
	for rows.Next() {
		var (
			r           models.ConsensusRound
			votes       sql.NullString
			improvement sql.NullString
			closedAt    string
		)
		if err := rows.Scan(&r.Number, &r.ArtifactVersion, &r.Aggregate,
			&votes, &improvement, &closedAt); err != nil {
			return nil, fmt.Errorf("list rounds: %w", err)
		}
		if votes.Valid && votes.String != "" {
			if err := json.Unmarshal([]byte(votes.String), &r.Votes); err != nil {
				return nil, fmt.Errorf("list rounds: decode votes: %w", err)
			}
		}
		if improvement.Valid && improvement.String != "" {
			if err := json.Unmarshal([]byte(improvement.String), &r.Improvement); err != nil {
				return nil, fmt.Errorf("list rounds: decode improvement: %w", err)
			}
		}
		if t, err := parseTime(closedAt); err == nil {
			r.ClosedAt = t
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// SaveEscalation records why a job escalated. One escalation per job.
func (db *DB) SaveEscalation(esc models.EscalationRequest) error {
	_, err := db.Exec(`
		INSERT INTO escalations (job_id, reason, artifact_version, rounds_used, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			reason = excluded.reason,
			artifact_version = excluded.artifact_version,
			rounds_used = excluded.rounds_used
	`, esc.JobID, string(esc.Reason), esc.Artifact.Version, len(esc.Rounds), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save escalation for job %s: %w", esc.JobID, err)
	}
	return nil
}

// GetEscalation loads the escalation recorded for a job, if any.
func (db *DB) GetEscalation(jobID string) (*models.EscalationRequest, error) {
	row := db.QueryRow(`
		SELECT reason, artifact_version FROM escalations WHERE job_id = ?
	`, jobID)

	var (
		reason  string
		version int
	)
	err := row.Scan(&reason, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get escalation: %w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get escalation: %w", err)
	}

	return &models.EscalationRequest{
		JobID:    jobID,
		Artifact: models.Artifact{Version: version},
		Reason:   models.EscalationReason(reason),
	}, nil
}
