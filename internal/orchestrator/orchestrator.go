package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echiweshe/convoke/internal/channel"
	"github.com/echiweshe/convoke/internal/consensus"
	"github.com/echiweshe/convoke/internal/perf"
	"github.com/echiweshe/convoke/internal/protocol"
	"github.com/echiweshe/convoke/internal/registry"
	"github.com/echiweshe/convoke/internal/store"
	"github.com/echiweshe/convoke/pkg/models"
)

// ErrNoCapableAgent indicates no registered agent declares the job's
// required capability. Submission fails immediately rather than queueing
// work nobody can take.
var ErrNoCapableAgent = errors.New("no capable agent registered")

// ErrDuplicateJob indicates an active job with the same fingerprint
// already exists.
var ErrDuplicateJob = errors.New("duplicate job submission")

// ErrStopped indicates the orchestrator has been stopped.
var ErrStopped = errors.New("orchestrator stopped")

// ErrUnknownJob indicates the job ID is not tracked.
var ErrUnknownJob = errors.New("unknown job")

// Options configures an Orchestrator.
type Options struct {
	// CriticCapability is the capability tag critics declare.
	// Defaults to "critique".
	CriticCapability string
	// MailboxID is the address agents reply to. Defaults to "orchestrator".
	MailboxID string
	// Protocol holds protocol-run timing and retry bounds.
	Protocol protocol.Config
	// Consensus holds synthesizer timing.
	Consensus consensus.Config
	// EventBuffer sizes the event channel. Defaults to 64.
	EventBuffer int
	// Store persists jobs, rounds, and escalations. Nil disables
	// persistence.
	Store store.Store
	// Logger receives debug output. Nil means no debug logging.
	Logger *DebugLogger
}

// Outcome is a job's terminal result: exactly one of Result and
// Escalation is set on success or escalation; Err is set on failure.
type Outcome struct {
	// Status is the job's terminal status.
	Status models.JobStatus
	// Result is the validated result, set when consensus committed.
	Result *models.ValidatedResult
	// Escalation carries the full round history when consensus failed.
	Escalation *models.EscalationRequest
	// Rounds is the consensus round history.
	Rounds []models.ConsensusRound
	// Err is set when the job failed before or during the protocol run.
	Err error
}

// JobHandle tracks one submitted job.
type JobHandle struct {
	job    models.Job
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	outcome *Outcome
}

// Job returns the job as accepted at submission.
func (h *JobHandle) Job() models.Job { return h.job }

// Done is closed when the job reaches a terminal state.
func (h *JobHandle) Done() <-chan struct{} { return h.done }

// Outcome returns the terminal outcome, or nil while the job is running.
func (h *JobHandle) Outcome() *Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

func (h *JobHandle) finish(o *Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outcome != nil {
		return
	}
	h.outcome = o
	close(h.done)
}

// Orchestrator accepts jobs, drives their protocol runs, and gates every
// candidate artifact through critic consensus.
type Orchestrator struct {
	reg     *registry.Registry
	ch      *channel.Channel
	mail    *channel.Mailbox
	tracker *perf.Tracker

	strategies *StrategySet
	emitter    *EventEmitter
	opts       Options

	mu           sync.Mutex
	jobs         map[string]*JobHandle
	fingerprints map[string]string
	stopped      bool
	wg           sync.WaitGroup
}

// New wires an orchestrator over the shared registry and channel. The
// tracker's summaries are mirrored into the registry so agent ranking
// reflects observed performance.
func New(reg *registry.Registry, ch *channel.Channel, tracker *perf.Tracker, opts Options) *Orchestrator {
	if opts.CriticCapability == "" {
		opts.CriticCapability = "critique"
	}
	if opts.MailboxID == "" {
		opts.MailboxID = "orchestrator"
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}

	o := &Orchestrator{
		reg:          reg,
		ch:           ch,
		mail:         channel.NewMailbox(ch, opts.MailboxID),
		tracker:      tracker,
		strategies:   NewStrategySet(),
		emitter:      NewEventEmitter(opts.EventBuffer),
		opts:         opts,
		jobs:         make(map[string]*JobHandle),
		fingerprints: make(map[string]string),
	}

	tracker.OnUpdate(func(agentID string, s models.PerformanceSummary) {
		if err := reg.UpdatePerformance(agentID, s); err != nil {
			debugLog("mirror performance for %s: %v", agentID, err)
		}
	})

	setPackageLogger(opts.Logger)
	return o
}

// Strategies exposes the decomposition registry so callers can add
// domain-specific strategies before submitting jobs.
func (o *Orchestrator) Strategies() *StrategySet {
	return o.strategies
}

// Events returns the orchestrator's event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Submit validates and accepts a job, starting its run asynchronously.
// Validation failures, unknown strategies, missing capabilities, and
// duplicate submissions are rejected synchronously.
func (o *Orchestrator) Submit(ctx context.Context, job models.Job) (*JobHandle, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if len(o.reg.FindCapable(job.Capability)) == 0 {
		return nil, fmt.Errorf("%w: capability %q", ErrNoCapableAgent, job.Capability)
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = models.JobStatusQueued
	job.SubmittedAt = time.Now()

	// Decompose up front so strategy errors surface at submit time.
	tasks, err := o.strategies.Decompose(job)
	if err != nil {
		return nil, err
	}
	proto := protocol.Select(job)

	fp := job.Fingerprint()
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil, ErrStopped
	}
	if prior, dup := o.fingerprints[fp]; dup {
		if h := o.jobs[prior]; h != nil && h.Outcome() == nil {
			o.mu.Unlock()
			return nil, fmt.Errorf("%w: job %s is identical and still active", ErrDuplicateJob, prior)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &JobHandle{job: job, cancel: cancel, done: make(chan struct{})}
	o.jobs[job.ID] = handle
	o.fingerprints[fp] = job.ID
	o.wg.Add(1)
	o.mu.Unlock()

	if o.opts.Store != nil {
		if err := o.opts.Store.CreateJob(&job); err != nil {
			debugLog("persist job %s: %v", job.ID, err)
		}
	}
	o.emitter.Emit(Event{Type: EventJobQueued, JobID: job.ID, Timestamp: time.Now()})
	debugLog("job %s queued: capability=%s tasks=%d protocol=%s", job.ID, job.Capability, len(tasks), proto.Name())

	go o.runJob(runCtx, handle, proto, tasks)
	return handle, nil
}

// Cancel stops a running job. Agents get a cancel notice; results still in
// flight are discarded as stale by the run's ownership checks.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	handle, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if handle.Outcome() != nil {
		return nil
	}

	handle.cancel()

	notice := models.NewMessage(models.MsgCancel, o.mail.ID(), models.BroadcastReceiver,
		"cancel:"+jobID, models.EncodePayload(models.TaskRequest{JobID: jobID}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o.ch.Broadcast(ctx, notice, handle.job.Capability)

	o.emitter.Emit(Event{Type: EventJobCancelled, JobID: jobID, Timestamp: time.Now()})
	debugLog("job %s cancelled", jobID)
	return nil
}

// Job returns the handle for a tracked job.
func (o *Orchestrator) Job(jobID string) (*JobHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.jobs[jobID]
	return h, ok
}

// Stop cancels all running jobs, waits for them, and closes the event
// stream.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	handles := make([]*JobHandle, 0, len(o.jobs))
	for _, h := range o.jobs {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	o.wg.Wait()
	o.emitter.Close()
}

// runJob drives one job to a terminal state: protocol run, then consensus.
// A panic in a protocol or synthesizer fails only this job.
func (o *Orchestrator) runJob(ctx context.Context, handle *JobHandle, proto protocol.Protocol, tasks []*models.Task) {
	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			debugLog("job %s panicked: %v", handle.job.ID, r)
			o.failJob(handle, fmt.Errorf("job panicked: %v", r))
		}
	}()

	job := handle.job
	if !job.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, job.Deadline)
		defer cancel()
	}

	o.setJobStatus(job.ID, models.JobStatusRunning)
	o.emitter.Emit(Event{Type: EventJobStarted, JobID: job.ID, Timestamp: time.Now()})
	o.emitter.Emit(Event{Type: EventProtocolSelected, JobID: job.ID, Protocol: proto.Name(), Timestamp: time.Now()})

	run := protocol.NewRun(job, tasks, protocol.Deps{
		Registry: o.reg,
		Channel:  o.ch,
		Mailbox:  o.mail,
		Logf:     debugLog,
	}, o.opts.Protocol)

	res, err := proto.Execute(ctx, run)
	o.recordTaskOutcomes(run)
	if o.opts.Store != nil {
		if serr := o.opts.Store.SaveTasks(run.Tasks()); serr != nil {
			debugLog("persist tasks for job %s: %v", job.ID, serr)
		}
	}
	if err != nil {
		o.failJob(handle, fmt.Errorf("protocol %s: %w", proto.Name(), err))
		return
	}
	if res.Outcome != protocol.OutcomeDone {
		o.failJob(handle, fmt.Errorf("protocol %s ended %s", proto.Name(), res.Outcome))
		return
	}

	critics := o.criticsFor(res.Artifact.ProducerID)
	o.emitter.Emit(Event{Type: EventConsensusStarted, JobID: job.ID, Timestamp: time.Now()})
	debugLog("job %s: artifact v%d by %s, %d critics", job.ID, res.Artifact.Version, res.Artifact.ProducerID, len(critics))

	synth := consensus.New(o.ch, o.mail, o.tracker.Weight, o.opts.Consensus)
	synth.SetLogf(debugLog)

	outcome, err := synth.Run(ctx, job, res.Artifact, critics)
	if err != nil {
		o.failJob(handle, fmt.Errorf("consensus: %w", err))
		return
	}

	o.persistRounds(job.ID, outcome.Rounds)
	o.recordSurvival(job.ID, res.Artifact.ProducerID, outcome)

	if outcome.Result != nil {
		o.setJobStatus(job.ID, models.JobStatusCompleted)
		o.emitter.Emit(Event{
			Type:      EventJobCompleted,
			JobID:     job.ID,
			Rounds:    outcome.Result.RoundsUsed,
			Aggregate: outcome.Result.Aggregate,
			Timestamp: time.Now(),
		})
		handle.finish(&Outcome{
			Status: models.JobStatusCompleted,
			Result: outcome.Result,
			Rounds: outcome.Rounds,
		})
		return
	}

	if o.opts.Store != nil {
		if err := o.opts.Store.SaveEscalation(*outcome.Escalation); err != nil {
			debugLog("persist escalation for job %s: %v", job.ID, err)
		}
	}
	o.setJobStatus(job.ID, models.JobStatusEscalated)
	o.emitter.Emit(Event{
		Type:      EventJobEscalated,
		JobID:     job.ID,
		Rounds:    len(outcome.Rounds),
		Message:   string(outcome.Escalation.Reason),
		Timestamp: time.Now(),
	})
	handle.finish(&Outcome{
		Status:     models.JobStatusEscalated,
		Escalation: outcome.Escalation,
		Rounds:     outcome.Rounds,
	})
}

// criticsFor returns the critic set for an artifact, excluding its own
// producer.
func (o *Orchestrator) criticsFor(producerID string) []string {
	capable := o.reg.FindCapable(o.opts.CriticCapability)
	critics := capable[:0:0]
	for _, id := range capable {
		if id != producerID {
			critics = append(critics, id)
		}
	}
	return critics
}

// recordTaskOutcomes feeds task results into the performance tracker.
// Event IDs are derived from task and run, so re-recording after a retry
// loop is a no-op.
func (o *Orchestrator) recordTaskOutcomes(run *protocol.Run) {
	for _, t := range run.Tasks() {
		if t.AssignedTo == "" || !t.Status.Terminal() {
			continue
		}
		latency := time.Duration(0)
		if t.CompletedAt != nil && !t.CreatedAt.IsZero() {
			latency = t.CompletedAt.Sub(t.CreatedAt)
		}
		o.tracker.RecordTask(perf.TaskEvent{
			EventID: fmt.Sprintf("task:%s:%s:%s", run.ID(), t.ID, t.Status),
			AgentID: t.AssignedTo,
			Success: t.Status == models.TaskStatusDone,
			Latency: latency,
		})
	}
}

// recordSurvival credits or debits the producer based on whether its
// artifact survived review unmodified.
func (o *Orchestrator) recordSurvival(jobID, producerID string, outcome *consensus.Outcome) {
	if producerID == "" {
		return
	}
	survived := outcome.Result != nil && outcome.Result.RoundsUsed == 1
	o.tracker.RecordSurvival(perf.SurvivalEvent{
		EventID: fmt.Sprintf("survival:%s:%s", jobID, producerID),
		AgentID: producerID,
		Survived: survived,
	})
}

func (o *Orchestrator) persistRounds(jobID string, rounds []models.ConsensusRound) {
	if o.opts.Store == nil {
		return
	}
	for _, r := range rounds {
		if err := o.opts.Store.AppendRound(jobID, r); err != nil {
			debugLog("persist round %d for job %s: %v", r.Number, jobID, err)
		}
	}
}

func (o *Orchestrator) setJobStatus(jobID string, status models.JobStatus) {
	if o.opts.Store == nil {
		return
	}
	if err := o.opts.Store.UpdateJobStatus(jobID, status); err != nil {
		debugLog("persist status %s for job %s: %v", status, jobID, err)
	}
}

func (o *Orchestrator) failJob(handle *JobHandle, err error) {
	status := models.JobStatusFailed
	o.setJobStatus(handle.job.ID, status)
	o.emitter.Emit(Event{Type: EventJobFailed, JobID: handle.job.ID, Error: err, Timestamp: time.Now()})
	debugLog("job %s failed: %v", handle.job.ID, err)
	handle.finish(&Outcome{Status: status, Err: err})
}
