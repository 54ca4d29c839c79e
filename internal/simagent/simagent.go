// Package simagent provides deterministic in-process agents for exercising
// the engine without external workers. Producers answer work, revision,
// bid, and blackboard messages; critics answer review proposals. Both are
// scripted, so runs against them are reproducible.
package simagent

import (
	"context"
	"fmt"
	"sync"

	"github.com/echiweshe/convoke/internal/channel"
	"github.com/echiweshe/convoke/pkg/models"
)

// Producer is a scripted worker endpoint. Its quality signal starts at
// BaseScore and rises by ImprovePerRound on every revision request, so a
// consensus loop against matching critics converges deterministically.
type Producer struct {
	// ID is the agent ID this endpoint answers as.
	ID string
	// Capabilities are declared at registration; kept here so rosters can
	// register the agent from the endpoint definition.
	Capabilities []string
	// BaseScore is the self-reported quality of first-pass output.
	BaseScore float64
	// ImprovePerRound raises the reported score on each revision.
	ImprovePerRound float64
	// BidCost is the cost quoted in contract-net auctions.
	BidCost float64
	// Mute drops all messages, simulating a crashed worker.
	Mute bool

	ch *channel.Channel

	mu        sync.Mutex
	requests  int
	revisions int
}

// Bind attaches the producer to a channel. Must be called before any
// delivery.
func (p *Producer) Bind(ch *channel.Channel) {
	p.ch = ch
	ch.Attach(p.ID, p)
}

// Agent returns the registration model for this endpoint.
func (p *Producer) Agent() *models.Agent {
	return &models.Agent{ID: p.ID, Capabilities: p.Capabilities}
}

// Deliver implements channel.Endpoint.
func (p *Producer) Deliver(ctx context.Context, msg models.Message) error {
	if p.Mute {
		return nil
	}

	switch msg.Type {
	case models.MsgRequest:
		return p.onRequest(ctx, msg)
	case models.MsgPropose:
		return p.onAnnounce(ctx, msg)
	case models.MsgQuery:
		return p.onBoardPost(ctx, msg)
	default:
		return nil
	}
}

// onRequest answers work requests and revision requests, distinguished by
// payload shape.
func (p *Producer) onRequest(ctx context.Context, msg models.Message) error {
	var work models.TaskRequest
	if err := models.DecodePayload(msg.Payload, &work); err == nil && work.TaskID != "" {
		p.mu.Lock()
		p.requests++
		p.mu.Unlock()
		result := models.TaskResult{
			TaskID:  work.TaskID,
			AgentID: p.ID,
			Content: []byte(fmt.Sprintf("[%s]%s", p.ID, work.Payload)),
			Score:   p.BaseScore,
		}
		reply := models.NewMessage(models.MsgResponse, p.ID, msg.Sender, msg.ConversationID, models.EncodePayload(result))
		return p.ch.Send(ctx, reply)
	}

	var revise models.ReviseRequest
	if err := models.DecodePayload(msg.Payload, &revise); err != nil {
		return err
	}

	p.mu.Lock()
	p.revisions++
	n := p.revisions
	p.mu.Unlock()

	revised := models.Artifact{
		Version:    revise.Artifact.Version + 1,
		ProducerID: p.ID,
		Content:    []byte(fmt.Sprintf("%s(rev%d)", revise.Artifact.Content, n)),
	}
	reply := models.NewMessage(models.MsgResponse, p.ID, msg.Sender, msg.ConversationID, models.EncodePayload(revised))
	return p.ch.Send(ctx, reply)
}

// onAnnounce answers contract-net announcements with a bid.
func (p *Producer) onAnnounce(ctx context.Context, msg models.Message) error {
	var work models.TaskRequest
	if err := models.DecodePayload(msg.Payload, &work); err != nil || work.TaskID == "" {
		return nil
	}
	bid := models.Bid{TaskID: work.TaskID, AgentID: p.ID, Cost: p.BidCost}
	reply := models.NewMessage(models.MsgResponse, p.ID, msg.Sender, msg.ConversationID, models.EncodePayload(bid))
	return p.ch.Send(ctx, reply)
}

// onBoardPost contributes to a blackboard cycle. The reported score rises
// with each sighting of the board, imitating progress on a shared partial
// solution.
func (p *Producer) onBoardPost(ctx context.Context, msg models.Message) error {
	p.mu.Lock()
	p.revisions++
	n := p.revisions
	p.mu.Unlock()

	score := p.BaseScore + float64(n-1)*p.ImprovePerRound
	if score > 1 {
		score = 1
	}
	contribution := models.TaskResult{
		AgentID: p.ID,
		Content: []byte(fmt.Sprintf("[%s#%d]%s", p.ID, n, msg.Payload)),
		Score:   score,
	}
	reply := models.NewMessage(models.MsgPropose, p.ID, msg.Sender, msg.ConversationID, models.EncodePayload(contribution))
	return p.ch.Send(ctx, reply)
}

// Requests returns how many direct work requests this producer has
// answered.
func (p *Producer) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// Revisions returns how many revision or board requests this producer has
// answered.
func (p *Producer) Revisions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revisions
}
