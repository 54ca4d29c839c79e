package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/echiweshe/convoke/pkg/models"
)

// ContractNet allocates work by auction: Announce, Collect-Bids, Award,
// Execute. It suits jobs with dynamic allocation needs where agent load
// varies and the registry's static ordering is not enough.
type ContractNet struct{}

// Name implements Protocol.
func (c *ContractNet) Name() string { return "contract_net" }

// Execute auctions each task and has the winning bidder execute it. Tasks
// run sequentially; the artifact joins results in task order.
func (c *ContractNet) Execute(ctx context.Context, run *Run) (*Result, error) {
	var content []byte
	producer := ""

	for _, task := range run.Tasks() {
		winner, err := c.auction(ctx, run, task)
		if err != nil {
			if ctx.Err() != nil {
				return &Result{Outcome: OutcomeAborted, Tasks: run.Tasks()}, ctx.Err()
			}
			// No usable bids; fall back to registry ordering so a quiet
			// pool doesn't fail the job.
			run.deps.Logf("[run %s] auction for %s failed (%v), falling back to registry ordering", run.ID(), task.ID, err)
			res, execErr := run.executeTask(ctx, task)
			if execErr != nil {
				return &Result{Outcome: OutcomeTimedOut, Tasks: run.Tasks()}, execErr
			}
			content = append(content, res.Content...)
			if producer == "" {
				producer = res.AgentID
			}
			continue
		}

		res, err := run.executeWithAgent(ctx, task, winner)
		if err != nil {
			if ctx.Err() != nil {
				return &Result{Outcome: OutcomeAborted, Tasks: run.Tasks()}, ctx.Err()
			}
			// The awarded agent flaked; reassign through the normal
			// bounded-retry path.
			res, err = run.executeTask(ctx, task)
			if err != nil {
				return &Result{Outcome: OutcomeTimedOut, Tasks: run.Tasks()}, err
			}
		}
		content = append(content, res.Content...)
		if producer == "" {
			producer = res.AgentID
		}
	}

	if producer == "" {
		return &Result{Outcome: OutcomeTimedOut, Tasks: run.Tasks()}, ErrProtocolAborted
	}
	return &Result{
		Outcome:  OutcomeDone,
		Artifact: models.Artifact{Version: 1, ProducerID: producer, Content: content},
		Tasks:    run.Tasks(),
	}, nil
}

// auction announces one task and returns the winning bidder. Losing
// bidders get a Reject so they can free reserved capacity.
func (c *ContractNet) auction(ctx context.Context, run *Run, task *models.Task) (string, error) {
	conv := run.conversation("bids", task.ID)
	sub := run.deps.Mailbox.Subscribe(conv)
	defer run.deps.Mailbox.Unsubscribe(conv)

	announce := models.NewMessage(models.MsgPropose, run.deps.Mailbox.ID(), models.BroadcastReceiver, conv,
		models.EncodePayload(models.TaskRequest{TaskID: task.ID, JobID: task.JobID, Payload: task.Payload}))
	announce.ReplyBy = time.Now().Add(run.cfg.StateTimeout)
	run.deps.Channel.Broadcast(ctx, announce, task.Capability)

	// Collect-Bids until the deadline.
	var bids []models.Bid
	timeout := time.NewTimer(run.cfg.StateTimeout)
	defer timeout.Stop()
collect:
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout.C:
			break collect
		case msg := <-sub:
			if msg.Type != models.MsgResponse && msg.Type != models.MsgPropose {
				continue
			}
			var bid models.Bid
			if err := models.DecodePayload(msg.Payload, &bid); err != nil {
				continue
			}
			if bid.AgentID == "" {
				bid.AgentID = msg.Sender
			}
			bids = append(bids, bid)
		}
	}

	if len(bids) == 0 {
		return "", fmt.Errorf("no bids for task %s", task.ID)
	}

	// Award: lowest cost wins; ties break on agent ID for determinism.
	winner := bids[0]
	for _, b := range bids[1:] {
		if b.Cost < winner.Cost || (b.Cost == winner.Cost && b.AgentID < winner.AgentID) {
			winner = b
		}
	}

	for _, b := range bids {
		kind := models.MsgReject
		if b.AgentID == winner.AgentID {
			kind = models.MsgAccept
		}
		verdict := models.NewMessage(kind, run.deps.Mailbox.ID(), b.AgentID, conv,
			models.EncodePayload(models.TaskRequest{TaskID: task.ID, JobID: task.JobID}))
		if err := run.deps.Channel.Send(ctx, verdict); err != nil {
			run.deps.Logf("[run %s] award notice to %s failed: %v", run.ID(), b.AgentID, err)
		}
	}

	return winner.AgentID, nil
}
