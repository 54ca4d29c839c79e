package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/echiweshe/convoke/internal/channel"
	"github.com/echiweshe/convoke/internal/consensus"
	"github.com/echiweshe/convoke/internal/perf"
	"github.com/echiweshe/convoke/internal/protocol"
	"github.com/echiweshe/convoke/internal/registry"
	"github.com/echiweshe/convoke/internal/simagent"
	"github.com/echiweshe/convoke/internal/store"
	"github.com/echiweshe/convoke/pkg/models"
)

type world struct {
	reg     *registry.Registry
	ch      *channel.Channel
	tracker *perf.Tracker
	orch    *Orchestrator
}

func newWorld(t *testing.T, opts Options) *world {
	t.Helper()
	reg := registry.New(registry.Options{AllowDuplicateSignatures: true})
	ch := channel.New(reg)
	tracker := perf.New()

	if opts.Protocol.StateTimeout == 0 {
		opts.Protocol = protocol.Config{StateTimeout: 200 * time.Millisecond}
	}
	if opts.Consensus.RoundTimeout == 0 {
		opts.Consensus = consensus.Config{RoundTimeout: 300 * time.Millisecond}
	}

	w := &world{reg: reg, ch: ch, tracker: tracker}
	w.orch = New(reg, ch, tracker, opts)
	t.Cleanup(w.orch.Stop)
	return w
}

func (w *world) addProducer(t *testing.T, p *simagent.Producer) {
	t.Helper()
	if _, err := w.reg.Register(p.Agent()); err != nil {
		t.Fatal(err)
	}
	p.Bind(w.ch)
}

func (w *world) addCritic(t *testing.T, c *simagent.Critic) {
	t.Helper()
	if _, err := w.reg.Register(c.Agent()); err != nil {
		t.Fatal(err)
	}
	c.Bind(w.ch)
}

func await(t *testing.T, h *JobHandle) *Outcome {
	t.Helper()
	select {
	case <-h.Done():
		return h.Outcome()
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
		return nil
	}
}

func submittable() models.Job {
	return models.Job{
		Capability:       "code",
		Payload:          []byte("build the thing"),
		QualityThreshold: 0.85,
		MaxIterations:    3,
	}
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	w := newWorld(t, Options{})
	w.addProducer(t, &simagent.Producer{ID: "w1", Capabilities: []string{"code"}, BaseScore: 0.9})
	w.addCritic(t, &simagent.Critic{ID: "c1", Capabilities: []string{"critique"}, Scores: []float64{0.9}})
	w.addCritic(t, &simagent.Critic{ID: "c2", Capabilities: []string{"critique"}, Scores: []float64{0.92}})

	handle, err := w.orch.Submit(context.Background(), submittable())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	out := await(t, handle)
	if out.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, models.JobStatusCompleted, out.Err)
	}
	if out.Result == nil {
		t.Fatal("no validated result")
	}
	if out.Result.RoundsUsed != 1 {
		t.Errorf("rounds used = %d, want 1", out.Result.RoundsUsed)
	}
	if out.Result.Aggregate < 0.85 {
		t.Errorf("aggregate = %.3f, want >= threshold", out.Result.Aggregate)
	}

	// The producer's outcome reached the tracker and was mirrored into
	// the registry for ranking.
	if s := w.tracker.Summary("w1"); s.Observations == 0 {
		t.Error("producer outcome not recorded")
	}
	agent, ok := w.reg.Get("w1")
	if !ok {
		t.Fatal("agent missing from registry")
	}
	if agent.Perf.Observations == 0 {
		t.Error("summary not mirrored into registry")
	}
}

func TestSubmitEmitsLifecycleEvents(t *testing.T) {
	w := newWorld(t, Options{})
	w.addProducer(t, &simagent.Producer{ID: "w1", Capabilities: []string{"code"}, BaseScore: 0.9})
	w.addCritic(t, &simagent.Critic{ID: "c1", Capabilities: []string{"critique"}, Scores: []float64{0.9}})

	handle, err := w.orch.Submit(context.Background(), submittable())
	if err != nil {
		t.Fatal(err)
	}
	await(t, handle)

	seen := map[EventType]bool{}
	for {
		select {
		case ev := <-w.orch.Events():
			seen[ev.Type] = true
			if ev.Type == EventJobCompleted {
				for _, want := range []EventType{EventJobQueued, EventJobStarted, EventProtocolSelected, EventConsensusStarted} {
					if !seen[want] {
						t.Errorf("missing %s before completion", want)
					}
				}
				return
			}
		case <-time.After(time.Second):
			t.Fatal("event stream never reported completion")
		}
	}
}

func TestSubmitRejectsInvalidJob(t *testing.T) {
	w := newWorld(t, Options{})
	job := submittable()
	job.Capability = ""
	if _, err := w.orch.Submit(context.Background(), job); !errors.Is(err, models.ErrInvalidJob) {
		t.Fatalf("error = %v, want ErrInvalidJob", err)
	}
}

func TestSubmitRejectsWithoutCapableAgent(t *testing.T) {
	w := newWorld(t, Options{})
	w.addCritic(t, &simagent.Critic{ID: "c1", Capabilities: []string{"critique"}, Scores: []float64{0.9}})

	if _, err := w.orch.Submit(context.Background(), submittable()); !errors.Is(err, ErrNoCapableAgent) {
		t.Fatalf("error = %v, want ErrNoCapableAgent", err)
	}
}

func TestSubmitRejectsUnknownStrategy(t *testing.T) {
	w := newWorld(t, Options{})
	w.addProducer(t, &simagent.Producer{ID: "w1", Capabilities: []string{"code"}, BaseScore: 0.9})

	job := submittable()
	job.StrategyID = "nonexistent"
	if _, err := w.orch.Submit(context.Background(), job); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("error = %v, want ErrUnknownStrategy", err)
	}
}

func TestSubmitRejectsActiveDuplicate(t *testing.T) {
	w := newWorld(t, Options{Protocol: protocol.Config{StateTimeout: 2 * time.Second}})
	// Mute producer keeps the first submission in flight.
	w.addProducer(t, &simagent.Producer{ID: "w1", Capabilities: []string{"code"}, Mute: true})

	first, err := w.orch.Submit(context.Background(), submittable())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.orch.Submit(context.Background(), submittable()); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("error = %v, want ErrDuplicateJob", err)
	}

	if err := w.orch.Cancel(first.Job().ID); err != nil {
		t.Fatal(err)
	}
	await(t, first)
}

func TestJobEscalatesAtIterationCap(t *testing.T) {
	w := newWorld(t, Options{})
	w.addProducer(t, &simagent.Producer{ID: "w1", Capabilities: []string{"code"}, BaseScore: 0.9})
	w.addCritic(t, &simagent.Critic{ID: "c1", Capabilities: []string{"critique"}, Scores: []float64{0.5, 0.55}})
	w.addCritic(t, &simagent.Critic{ID: "c2", Capabilities: []string{"critique"}, Scores: []float64{0.6, 0.6}})

	job := submittable()
	job.MaxIterations = 2

	handle, err := w.orch.Submit(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	out := await(t, handle)

	if out.Status != models.JobStatusEscalated {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, models.JobStatusEscalated, out.Err)
	}
	if out.Escalation == nil {
		t.Fatal("no escalation request")
	}
	if out.Escalation.Reason != models.EscalateIterationCap {
		t.Errorf("reason = %s, want %s", out.Escalation.Reason, models.EscalateIterationCap)
	}
	if len(out.Escalation.Rounds) != 2 {
		t.Errorf("round history = %d rounds, want 2", len(out.Escalation.Rounds))
	}
}

func TestCancelStopsRunningJob(t *testing.T) {
	w := newWorld(t, Options{Protocol: protocol.Config{StateTimeout: 5 * time.Second}})
	w.addProducer(t, &simagent.Producer{ID: "w1", Capabilities: []string{"code"}, Mute: true})

	handle, err := w.orch.Submit(context.Background(), submittable())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.orch.Cancel(handle.Job().ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	out := await(t, handle)
	if out.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want %s", out.Status, models.JobStatusFailed)
	}
	if out.Err == nil {
		t.Fatal("cancelled job has no error")
	}

	if err := w.orch.Cancel("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("error = %v, want ErrUnknownJob", err)
	}
}

func TestLineSplitStrategyFansOut(t *testing.T) {
	w := newWorld(t, Options{})
	w.addProducer(t, &simagent.Producer{ID: "w1", Capabilities: []string{"code"}, BaseScore: 0.9})
	w.addProducer(t, &simagent.Producer{ID: "w2", Capabilities: []string{"code"}, BaseScore: 0.9})
	w.addCritic(t, &simagent.Critic{ID: "c1", Capabilities: []string{"critique"}, Scores: []float64{0.9}})

	job := submittable()
	job.Payload = []byte("part one\npart two\npart three\n")
	job.StrategyID = "lines"

	handle, err := w.orch.Submit(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	out := await(t, handle)
	if out.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (err: %v)", out.Status, out.Err)
	}
	// Three work items, one task each, all merged into the artifact.
	for _, part := range []string{"part one", "part two", "part three"} {
		if !bytes.Contains(out.Result.Artifact.Content, []byte(part)) {
			t.Errorf("artifact missing %q", part)
		}
	}
}

func TestJobStatePersisted(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	w := newWorld(t, Options{Store: db})
	w.addProducer(t, &simagent.Producer{ID: "w1", Capabilities: []string{"code"}, BaseScore: 0.9})
	w.addCritic(t, &simagent.Critic{ID: "c1", Capabilities: []string{"critique"}, Scores: []float64{0.9}})

	handle, err := w.orch.Submit(context.Background(), submittable())
	if err != nil {
		t.Fatal(err)
	}
	out := await(t, handle)
	if out.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (err: %v)", out.Status, out.Err)
	}

	stored, err := db.GetJob(handle.Job().ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != models.JobStatusCompleted {
		t.Errorf("persisted status = %s, want %s", stored.Status, models.JobStatusCompleted)
	}

	rounds, err := db.ListRounds(handle.Job().ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 1 {
		t.Errorf("persisted rounds = %d, want 1", len(rounds))
	}

	tasks, err := db.ListTasksByJob(handle.Job().ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Errorf("persisted tasks = %d, want 1", len(tasks))
	}
}

func TestSwarmJobKeepsLatencyFinite(t *testing.T) {
	w := newWorld(t, Options{})
	w.addProducer(t, &simagent.Producer{ID: "w1", Capabilities: []string{"code"}, BaseScore: 0.9})
	w.addCritic(t, &simagent.Critic{ID: "c1", Capabilities: []string{"critique"}, Scores: []float64{0.95}})

	job := submittable()
	job.Traits = models.JobTraits{Optimization: true}

	handle, err := w.orch.Submit(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	out := await(t, handle)
	if out.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, models.JobStatusCompleted, out.Err)
	}

	// Wave tasks are created mid-run; their recorded latency must reflect
	// elapsed time, not the distance from the zero time.
	sum := w.tracker.Summary("w1")
	if sum.MeanLatency < 0 || sum.MeanLatency > time.Minute {
		t.Errorf("mean latency %v is not a plausible elapsed time", sum.MeanLatency)
	}
}

func TestJobStatePersistedInMemoryStore(t *testing.T) {
	mem := store.NewMemory()
	w := newWorld(t, Options{Store: mem})
	w.addProducer(t, &simagent.Producer{ID: "w1", Capabilities: []string{"code"}, BaseScore: 0.9})
	w.addCritic(t, &simagent.Critic{ID: "c1", Capabilities: []string{"critique"}, Scores: []float64{0.9}})

	handle, err := w.orch.Submit(context.Background(), submittable())
	if err != nil {
		t.Fatal(err)
	}
	out := await(t, handle)
	if out.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (err: %v)", out.Status, out.Err)
	}

	stored, err := mem.GetJob(handle.Job().ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != models.JobStatusCompleted {
		t.Errorf("persisted status = %s, want %s", stored.Status, models.JobStatusCompleted)
	}

	rounds, err := mem.ListRounds(handle.Job().ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 1 {
		t.Errorf("persisted rounds = %d, want 1", len(rounds))
	}
}
