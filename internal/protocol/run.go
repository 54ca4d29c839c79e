package protocol

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echiweshe/convoke/internal/channel"
	"github.com/echiweshe/convoke/internal/registry"
	"github.com/echiweshe/convoke/pkg/models"
)

// Config holds protocol-run timing and retry bounds.
type Config struct {
	// StateTimeout bounds each state's wait for message arrival.
	StateTimeout time.Duration
	// MaxTaskRetries bounds reassignments of one task after timeouts.
	MaxTaskRetries int
	// BlackboardCycles bounds the opportunistic-contribute loop.
	BlackboardCycles int
	// SwarmWidth is how many agents explore in parallel per wave.
	SwarmWidth int
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.StateTimeout <= 0 {
		c.StateTimeout = 15 * time.Second
	}
	if c.MaxTaskRetries <= 0 {
		c.MaxTaskRetries = 2
	}
	if c.BlackboardCycles <= 0 {
		c.BlackboardCycles = 3
	}
	if c.SwarmWidth <= 0 {
		c.SwarmWidth = 3
	}
	return c
}

// Deps are the shared collaborators a run drives.
type Deps struct {
	Registry *registry.Registry
	Channel  *channel.Channel
	Mailbox  *channel.Mailbox
	Logf     func(format string, args ...interface{})
}

// Run holds one protocol execution: its task set, ownership map, and
// timing. Task ownership is exclusive and enforced by claim-and-check
// under the run lock; the first claim wins and late results from a
// reassigned task are rejected as stale.
type Run struct {
	id   string
	job  models.Job
	deps Deps
	cfg  Config

	mu    sync.Mutex
	tasks map[string]*models.Task
	// owners maps task ID to the agent currently holding it. Absent means
	// unclaimed.
	owners map[string]string
}

// NewRun creates a run over the decomposed task set.
func NewRun(job models.Job, tasks []*models.Task, deps Deps, cfg Config) *Run {
	if deps.Logf == nil {
		deps.Logf = func(string, ...interface{}) {}
	}
	r := &Run{
		id:     uuid.New().String()[:8],
		job:    job,
		deps:   deps,
		cfg:    cfg.withDefaults(),
		tasks:  make(map[string]*models.Task, len(tasks)),
		owners: make(map[string]string),
	}
	for _, t := range tasks {
		t.RunID = r.id
		r.tasks[t.ID] = t
	}
	return r
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Job returns the run's job.
func (r *Run) Job() models.Job { return r.job }

// Tasks returns the run's task set.
func (r *Run) Tasks() []*models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

// addTask registers a task created mid-run, as in swarm waves.
func (r *Run) addTask(t *models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.RunID = r.id
	r.tasks[t.ID] = t
}

// Claim takes exclusive ownership of a task for an agent. First claim
// wins; a second claim fails with ErrTaskAlreadyClaimed until the task is
// released or times out.
func (r *Run) Claim(taskID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if holder, held := r.owners[taskID]; held {
		return fmt.Errorf("%w: %s held by %s", ErrTaskAlreadyClaimed, taskID, holder)
	}
	r.owners[taskID] = agentID
	task.Status = models.TaskStatusAssigned
	task.AssignedTo = agentID
	return nil
}

// Release gives up ownership. Only the current holder may release; a
// stale release is ignored.
func (r *Run) Release(taskID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[taskID] == agentID {
		delete(r.owners, taskID)
		if t, ok := r.tasks[taskID]; ok {
			t.AssignedTo = ""
		}
	}
}

// Owner returns the agent currently holding the task, if any.
func (r *Run) Owner(taskID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agentID, ok := r.owners[taskID]
	return agentID, ok
}

// Complete records a task result submitted by an agent. The agent must
// currently own the task; otherwise the result is stale and rejected.
func (r *Run) Complete(taskID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if r.owners[taskID] != agentID {
		return fmt.Errorf("%w: task %s not owned by %s", ErrStaleTaskResult, taskID, agentID)
	}
	delete(r.owners, taskID)
	now := time.Now()
	task.Status = models.TaskStatusDone
	task.CompletedAt = &now
	return nil
}

// markTimedOut flips a task to timed out and clears ownership.
func (r *Run) markTimedOut(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, taskID)
	if t, ok := r.tasks[taskID]; ok {
		t.Status = models.TaskStatusTimedOut
		t.AssignedTo = ""
		t.RetryCount++
	}
}

// markFailed flips a task to failed and clears ownership.
func (r *Run) markFailed(taskID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, taskID)
	if t, ok := r.tasks[taskID]; ok {
		t.Status = models.TaskStatusFailed
		t.AssignedTo = ""
		t.Error = reason
	}
}

// executeTask assigns the task to the best capable agent, sends the work
// request, and waits for the result. On timeout or unreachable delivery the
// task is reassigned, bounded by MaxTaskRetries; candidates already tried
// this cycle are skipped while alternatives exist.
func (r *Run) executeTask(ctx context.Context, task *models.Task) (models.TaskResult, error) {
	tried := make(map[string]bool)

	for attempt := 0; attempt <= r.cfg.MaxTaskRetries; attempt++ {
		agentID, ok := r.pickAgent(task.Capability, tried)
		if !ok {
			// Nobody left to try; reuse an already-tried agent if any
			// remain reachable.
			tried = make(map[string]bool)
			if agentID, ok = r.pickAgent(task.Capability, tried); !ok {
				r.markFailed(task.ID, "no capable agent reachable")
				return models.TaskResult{}, fmt.Errorf("%w: no capable agent for task %s", ErrProtocolAborted, task.ID)
			}
		}
		tried[agentID] = true

		result, err := r.tryAgent(ctx, task, agentID, attempt)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			r.markFailed(task.ID, "cancelled")
			return models.TaskResult{}, ctx.Err()
		}
		r.deps.Logf("[run %s] task %s attempt %d with %s failed: %v", r.id, task.ID, attempt, agentID, err)
	}

	r.markFailed(task.ID, "retries exhausted")
	return models.TaskResult{}, fmt.Errorf("%w: task %s exhausted %d retries", ErrProtocolAborted, task.ID, r.cfg.MaxTaskRetries)
}

// executeWithAgent runs one task against a specific agent, as when a
// contract-net award fixes the assignee. No reassignment happens here;
// callers fall back to executeTask when the fixed agent fails.
func (r *Run) executeWithAgent(ctx context.Context, task *models.Task, agentID string) (models.TaskResult, error) {
	return r.tryAgent(ctx, task, agentID, task.RetryCount)
}

// pickAgent returns the best-ranked capable agent not yet tried.
func (r *Run) pickAgent(capability string, tried map[string]bool) (string, bool) {
	for _, id := range r.deps.Registry.FindCapable(capability) {
		if !tried[id] {
			return id, true
		}
	}
	return "", false
}

// tryAgent runs one assignment cycle against a single agent.
func (r *Run) tryAgent(ctx context.Context, task *models.Task, agentID string, attempt int) (models.TaskResult, error) {
	if err := r.Claim(task.ID, agentID); err != nil {
		return models.TaskResult{}, err
	}

	conv := fmt.Sprintf("task:%s:a%d", task.ID, attempt)
	sub := r.deps.Mailbox.Subscribe(conv)
	defer r.deps.Mailbox.Unsubscribe(conv)

	payload := models.EncodePayload(models.TaskRequest{TaskID: task.ID, JobID: task.JobID, Payload: task.Payload})
	msg := models.NewMessage(models.MsgRequest, r.deps.Mailbox.ID(), agentID, conv, payload)
	msg.ReplyBy = time.Now().Add(r.cfg.StateTimeout)

	if err := r.deps.Channel.Send(ctx, msg); err != nil {
		r.Release(task.ID, agentID)
		return models.TaskResult{}, err
	}

	r.setTaskStatus(task.ID, models.TaskStatusInProgress)
	_ = r.deps.Registry.SetState(agentID, models.AgentStateExecuting)
	defer func() { _ = r.deps.Registry.SetState(agentID, models.AgentStateIdle) }()

	timeout := time.NewTimer(r.cfg.StateTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Release(task.ID, agentID)
			return models.TaskResult{}, ctx.Err()
		case <-timeout.C:
			r.markTimedOut(task.ID)
			return models.TaskResult{}, fmt.Errorf("agent %s timed out on task %s", agentID, task.ID)
		case reply := <-sub:
			if reply.Type != models.MsgResponse {
				continue
			}
			var result models.TaskResult
			if err := models.DecodePayload(reply.Payload, &result); err != nil {
				r.deps.Logf("[run %s] bad result payload from %s: %v", r.id, reply.Sender, err)
				continue
			}
			if result.AgentID == "" {
				result.AgentID = reply.Sender
			}
			if holder, held := r.Owner(task.ID); !held || holder != result.AgentID {
				// Stale or duplicate result; discard and keep waiting.
				r.deps.Logf("[run %s] discarding result for task %s from %s: %v", r.id, task.ID, result.AgentID, ErrStaleTaskResult)
				continue
			}
			if result.Err != "" {
				r.markFailed(task.ID, result.Err)
				return models.TaskResult{}, fmt.Errorf("agent %s failed task %s: %s", result.AgentID, task.ID, result.Err)
			}
			if err := r.Complete(task.ID, result.AgentID); err != nil {
				r.deps.Logf("[run %s] discarding result: %v", r.id, err)
				continue
			}
			return result, nil
		}
	}
}

// setTaskStatus updates one task's status under the run lock.
func (r *Run) setTaskStatus(taskID string, status models.TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[taskID]; ok {
		t.Status = status
	}
}

// taskLess orders task IDs for aggregation. IDs sharing a prefix with a
// numeric suffix compare by value, so t2 aggregates before t10; everything
// else falls back to plain string order.
func taskLess(a, b string) bool {
	ap, an, aok := splitNumericSuffix(a)
	bp, bn, bok := splitNumericSuffix(b)
	if aok && bok && ap == bp {
		return an < bn
	}
	return a < b
}

// splitNumericSuffix separates a trailing run of digits from an ID.
func splitNumericSuffix(id string) (string, int, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return id, 0, false
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return id, 0, false
	}
	return id[:i], n, true
}

// conversation builds a run-scoped conversation ID.
func (r *Run) conversation(parts ...string) string {
	conv := r.id
	for _, p := range parts {
		conv += ":" + p
	}
	return conv
}
