// Package consensus runs the iterative multi-critic validation loop over a
// candidate artifact. The loop always terminates: either the aggregate
// score clears the job's quality threshold with no blocking findings, or
// the iteration budget runs out and the job escalates with its full round
// history.
package consensus

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/echiweshe/convoke/internal/channel"
	"github.com/echiweshe/convoke/pkg/models"
)

// WeightFunc returns the vote weight for a critic. Weights are normalized
// over the critics that actually voted, so any positive scale works.
type WeightFunc func(criticID string) float64

// Config holds synthesizer timing.
type Config struct {
	// RoundTimeout bounds the wait for votes in one round. Critics that
	// miss it abstain; they are never counted as rejections.
	RoundTimeout time.Duration
	// RevisionTimeout bounds the wait for a producer's revision.
	RevisionTimeout time.Duration
}

// Outcome is the synthesizer's terminal result: exactly one of Result and
// Escalation is set.
type Outcome struct {
	// Result is set when the artifact was committed.
	Result *models.ValidatedResult
	// Escalation is set when consensus was not reached.
	Escalation *models.EscalationRequest
	// Rounds is the complete round history, also embedded in Escalation.
	Rounds []models.ConsensusRound
}

// Synthesizer drives consensus rounds over the message channel.
type Synthesizer struct {
	ch     *channel.Channel
	mail   *channel.Mailbox
	weight WeightFunc
	cfg    Config
	logf   func(format string, args ...interface{})
}

// New creates a synthesizer. The weight function typically comes from the
// performance tracker.
func New(ch *channel.Channel, mail *channel.Mailbox, weight WeightFunc, cfg Config) *Synthesizer {
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = 15 * time.Second
	}
	if cfg.RevisionTimeout <= 0 {
		cfg.RevisionTimeout = cfg.RoundTimeout
	}
	return &Synthesizer{
		ch:     ch,
		mail:   mail,
		weight: weight,
		cfg:    cfg,
		logf:   func(string, ...interface{}) {},
	}
}

// SetLogf installs a debug log hook.
func (s *Synthesizer) SetLogf(logf func(format string, args ...interface{})) {
	if logf != nil {
		s.logf = logf
	}
}

// Run validates the artifact against the critic set. It returns an error
// only on context cancellation; convergence failure is not an error but a
// first-class escalation outcome.
func (s *Synthesizer) Run(ctx context.Context, job models.Job, artifact models.Artifact, critics []string) (*Outcome, error) {
	var rounds []models.ConsensusRound

	escalate := func(reason models.EscalationReason) *Outcome {
		s.logf("[consensus] job %s escalating after %d rounds: %s", job.ID, len(rounds), reason)
		return &Outcome{
			Escalation: &models.EscalationRequest{
				JobID:    job.ID,
				Artifact: artifact,
				Rounds:   rounds,
				Reason:   reason,
			},
			Rounds: rounds,
		}
	}

	for iter := 1; iter <= job.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		round, err := s.runRound(ctx, job, artifact, critics, iter)
		if err != nil {
			return nil, err
		}

		counted := 0
		for _, v := range round.Votes {
			if !v.Abstained {
				counted++
			}
		}
		if counted == 0 {
			round.ClosedAt = time.Now()
			rounds = append(rounds, round)
			return escalate(models.EscalateNoCritics), nil
		}

		s.logf("[consensus] job %s round %d: aggregate=%.3f threshold=%.3f blocking=%d votes=%d/%d",
			job.ID, iter, round.Aggregate, job.QualityThreshold, round.BlockingCount(), counted, len(critics))

		if round.Aggregate >= job.QualityThreshold && round.BlockingCount() == 0 {
			round.ClosedAt = time.Now()
			rounds = append(rounds, round)
			return &Outcome{
				Result: &models.ValidatedResult{
					JobID:      job.ID,
					Artifact:   artifact,
					Aggregate:  round.Aggregate,
					RoundsUsed: len(rounds),
				},
				Rounds: rounds,
			}, nil
		}

		if iter == job.MaxIterations {
			round.ClosedAt = time.Now()
			rounds = append(rounds, round)
			break
		}

		round.Improvement = synthesizeImprovement(round.Votes)
		round.ClosedAt = time.Now()
		rounds = append(rounds, round)

		revised, err := s.requestRevision(ctx, job, artifact, round.Improvement)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return escalate(models.EscalateProducerFailed), nil
		}
		artifact = revised
	}

	// Distinguish a run that stalled below the threshold from one still
	// carrying an open veto at the cap.
	reason := models.EscalateIterationCap
	if len(rounds) > 0 && rounds[len(rounds)-1].BlockingCount() > 0 {
		reason = models.EscalateBlockingPersistent
	}
	return escalate(reason), nil
}

// runRound broadcasts the candidate and collects one vote per critic,
// bounded by the round timeout. Missing votes become abstains; duplicate
// votes for the same (version, critic) key are silently discarded.
func (s *Synthesizer) runRound(ctx context.Context, job models.Job, artifact models.Artifact, critics []string, iter int) (models.ConsensusRound, error) {
	round := models.ConsensusRound{
		Number:          iter,
		ArtifactVersion: artifact.Version,
		Critics:         append([]string(nil), critics...),
	}

	conv := fmt.Sprintf("consensus:%s:r%d", job.ID, iter)
	sub := s.mail.Subscribe(conv)
	defer s.mail.Unsubscribe(conv)

	payload := models.EncodePayload(models.ProposeReview{JobID: job.ID, Artifact: artifact})
	expected := make(map[string]bool, len(critics))
	for _, critic := range critics {
		expected[critic] = true
		msg := models.NewMessage(models.MsgPropose, s.mail.ID(), critic, conv, payload)
		msg.ReplyBy = time.Now().Add(s.cfg.RoundTimeout)
		if err := s.ch.Send(ctx, msg); err != nil {
			// An undeliverable critic abstains for this round.
			s.logf("[consensus] job %s round %d: critic %s unreachable: %v", job.ID, iter, critic, err)
			delete(expected, critic)
		}
	}

	votes := make(map[string]models.Vote, len(critics))
	timeout := time.NewTimer(s.cfg.RoundTimeout)
	defer timeout.Stop()

collect:
	for len(votes) < len(expected) {
		select {
		case <-ctx.Done():
			return round, ctx.Err()
		case <-timeout.C:
			break collect
		case msg := <-sub:
			if msg.Type != models.MsgResponse {
				continue
			}
			var vote models.Vote
			if err := models.DecodePayload(msg.Payload, &vote); err != nil {
				s.logf("[consensus] job %s round %d: bad vote payload from %s: %v", job.ID, iter, msg.Sender, err)
				continue
			}
			if vote.CriticID == "" {
				vote.CriticID = msg.Sender
			}
			if !expected[vote.CriticID] {
				continue
			}
			if vote.ArtifactVersion != artifact.Version {
				// Vote for a superseded version; stale, discard.
				continue
			}
			if _, dup := votes[vote.Key()]; dup {
				s.logf("[consensus] job %s round %d: duplicate vote %s discarded", job.ID, iter, vote.Key())
				continue
			}
			votes[vote.Key()] = vote
		}
	}

	for _, critic := range critics {
		key := models.Vote{ArtifactVersion: artifact.Version, CriticID: critic}.Key()
		if v, ok := votes[key]; ok {
			round.Votes = append(round.Votes, v)
		} else {
			round.Votes = append(round.Votes, models.Vote{
				ArtifactVersion: artifact.Version,
				CriticID:        critic,
				Abstained:       true,
			})
		}
	}

	round.Aggregate = s.aggregate(round.Votes)
	return round, nil
}

// aggregate computes the weighted mean score over non-abstaining votes,
// weights normalized to sum to 1. Abstains are excluded from both numerator
// and denominator, so they never change the direction of a decision.
func (s *Synthesizer) aggregate(votes []models.Vote) float64 {
	var num, den float64
	for _, v := range votes {
		if v.Abstained {
			continue
		}
		w := s.weight(v.CriticID)
		num += w * v.Score
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// synthesizeImprovement builds the revision instruction set from the union
// of findings, deduplicated by concern category and ordered for stable
// output.
func synthesizeImprovement(votes []models.Vote) []string {
	byCategory := make(map[string]models.Finding)
	for _, v := range votes {
		for _, f := range v.Findings {
			current, seen := byCategory[f.Category]
			// Keep the most severe finding per category.
			if !seen || severityRank(f.Severity) > severityRank(current.Severity) {
				byCategory[f.Category] = f
			}
		}
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	instructions := make([]string, 0, len(categories))
	for _, c := range categories {
		f := byCategory[c]
		instructions = append(instructions, fmt.Sprintf("[%s] %s: %s", f.Severity, f.Category, f.Detail))
	}
	return instructions
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityBlocking:
		return 2
	case models.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// requestRevision asks the producer for a new artifact version and waits
// for the reply, bounded by the revision timeout.
func (s *Synthesizer) requestRevision(ctx context.Context, job models.Job, artifact models.Artifact, instructions []string) (models.Artifact, error) {
	conv := fmt.Sprintf("revise:%s:v%d", job.ID, artifact.Version)
	sub := s.mail.Subscribe(conv)
	defer s.mail.Unsubscribe(conv)

	payload := models.EncodePayload(models.ReviseRequest{
		JobID:        job.ID,
		Artifact:     artifact,
		Instructions: instructions,
	})
	msg := models.NewMessage(models.MsgRequest, s.mail.ID(), artifact.ProducerID, conv, payload)
	msg.ReplyBy = time.Now().Add(s.cfg.RevisionTimeout)
	if err := s.ch.Send(ctx, msg); err != nil {
		return models.Artifact{}, fmt.Errorf("request revision: %w", err)
	}

	timeout := time.NewTimer(s.cfg.RevisionTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.Artifact{}, ctx.Err()
		case <-timeout.C:
			return models.Artifact{}, fmt.Errorf("producer %s did not revise within %v", artifact.ProducerID, s.cfg.RevisionTimeout)
		case reply := <-sub:
			if reply.Type != models.MsgResponse {
				continue
			}
			var revised models.Artifact
			if err := models.DecodePayload(reply.Payload, &revised); err != nil {
				return models.Artifact{}, fmt.Errorf("decode revision: %w", err)
			}
			if revised.Version <= artifact.Version {
				revised.Version = artifact.Version + 1
			}
			if revised.ProducerID == "" {
				revised.ProducerID = artifact.ProducerID
			}
			return revised, nil
		}
	}
}
