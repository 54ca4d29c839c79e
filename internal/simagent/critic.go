package simagent

import (
	"context"
	"sync"

	"github.com/echiweshe/convoke/internal/channel"
	"github.com/echiweshe/convoke/pkg/models"
)

// Critic is a scripted reviewer. Scores are consumed one per review round;
// when the script runs out the last score repeats, so long validations stay
// deterministic.
type Critic struct {
	// ID is the agent ID this endpoint answers as.
	ID string
	// Capabilities declared at registration.
	Capabilities []string
	// Scores is the per-round score script.
	Scores []float64
	// Findings are attached to every vote until Clean rounds are reached.
	Findings []models.Finding
	// Clean is the round number from which the critic stops reporting
	// findings. Zero means findings are attached on every round.
	Clean int
	// Mute drops all messages.
	Mute bool

	ch *channel.Channel

	mu    sync.Mutex
	round int
}

// Bind attaches the critic to a channel.
func (c *Critic) Bind(ch *channel.Channel) {
	c.ch = ch
	ch.Attach(c.ID, c)
}

// Agent returns the registration model for this endpoint.
func (c *Critic) Agent() *models.Agent {
	return &models.Agent{ID: c.ID, Capabilities: c.Capabilities}
}

// Deliver implements channel.Endpoint.
func (c *Critic) Deliver(ctx context.Context, msg models.Message) error {
	if c.Mute || msg.Type != models.MsgPropose {
		return nil
	}
	var review models.ProposeReview
	if err := models.DecodePayload(msg.Payload, &review); err != nil || review.Artifact.Version == 0 {
		return nil
	}

	c.mu.Lock()
	c.round++
	round := c.round
	c.mu.Unlock()

	vote := models.Vote{
		ArtifactVersion: review.Artifact.Version,
		CriticID:        c.ID,
		Score:           c.scoreFor(round),
	}
	if c.Clean == 0 || round < c.Clean {
		vote.Findings = c.Findings
	}
	reply := models.NewMessage(models.MsgResponse, c.ID, msg.Sender, msg.ConversationID, models.EncodePayload(vote))
	return c.ch.Send(ctx, reply)
}

func (c *Critic) scoreFor(round int) float64 {
	if len(c.Scores) == 0 {
		return 0
	}
	if round > len(c.Scores) {
		return c.Scores[len(c.Scores)-1]
	}
	return c.Scores[round-1]
}

// Rounds returns how many review rounds the critic has voted in.
func (c *Critic) Rounds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round
}
