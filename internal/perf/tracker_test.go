package perf

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/echiweshe/convoke/pkg/models"
)

func TestRecordTaskFirstObservation(t *testing.T) {
	tr := New()
	tr.RecordTask(TaskEvent{EventID: "e1", AgentID: "a1", Success: true, Latency: 2 * time.Second})

	s := tr.Summary("a1")
	if s.SuccessRate != 1.0 {
		t.Errorf("expected success rate 1.0, got %f", s.SuccessRate)
	}
	if s.MeanLatency != 2*time.Second {
		t.Errorf("expected mean latency 2s, got %v", s.MeanLatency)
	}
	if s.Observations != 1 {
		t.Errorf("expected 1 observation, got %d", s.Observations)
	}
}

func TestRecordTaskEMA(t *testing.T) {
	tr := New()
	tr.RecordTask(TaskEvent{EventID: "e1", AgentID: "a1", Success: true, Latency: time.Second})
	tr.RecordTask(TaskEvent{EventID: "e2", AgentID: "a1", Success: false, Latency: time.Second})

	s := tr.Summary("a1")
	// alpha*0 + (1-alpha)*1.0
	want := (1 - DefaultAlpha) * 1.0
	if diff := s.SuccessRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected success rate %f, got %f", want, s.SuccessRate)
	}
}

func TestDuplicateEventIgnored(t *testing.T) {
	tr := New()
	ev := TaskEvent{EventID: "e1", AgentID: "a1", Success: false, Latency: time.Second}
	tr.RecordTask(ev)
	tr.RecordTask(ev)

	if s := tr.Summary("a1"); s.Observations != 1 {
		t.Errorf("duplicate event must not be recorded twice, got %d observations", s.Observations)
	}
}

func TestWeightUniformForNewCritics(t *testing.T) {
	tr := New()
	tr.RecordSurvival(SurvivalEvent{EventID: "e1", AgentID: "a1", Survived: false})

	// Below the minimum observation count the critic weighs uniformly,
	// regardless of its (poor) quality score so far.
	if w := tr.Weight("a1"); w != 1.0 {
		t.Errorf("expected uniform weight 1.0 for new critic, got %f", w)
	}
}

func TestWeightUsesQualityScoreWhenEstablished(t *testing.T) {
	tr := New()
	for i := 0; i < DefaultMinObservations; i++ {
		tr.RecordSurvival(SurvivalEvent{
			EventID: fmt.Sprintf("e%d", i), AgentID: "a1", Survived: true,
		})
	}

	w := tr.Weight("a1")
	if w != tr.Summary("a1").QualityScore {
		t.Errorf("expected weight to equal quality score, got %f", w)
	}
	if w <= 0 {
		t.Errorf("expected positive weight, got %f", w)
	}
}

func TestWeightFloorForEstablishedCritics(t *testing.T) {
	tr := New()
	for i := 0; i < 3*DefaultMinObservations; i++ {
		tr.RecordSurvival(SurvivalEvent{
			EventID: fmt.Sprintf("e%d", i), AgentID: "a1", Survived: false,
		})
	}

	if w := tr.Weight("a1"); w < 0.05 {
		t.Errorf("expected floored weight, got %f", w)
	}
}

func TestConcurrentUpdatesDistinctAgents(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for a := 0; a < 8; a++ {
		agentID := fmt.Sprintf("agent-%d", a)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tr.RecordTask(TaskEvent{
					EventID: fmt.Sprintf("%s-e%d", agentID, i),
					AgentID: agentID,
					Success: i%2 == 0,
					Latency: time.Millisecond,
				})
			}
		}()
	}
	wg.Wait()

	for a := 0; a < 8; a++ {
		s := tr.Summary(fmt.Sprintf("agent-%d", a))
		if s.Observations != 50 {
			t.Errorf("agent-%d: expected 50 observations, got %d", a, s.Observations)
		}
	}
}

func TestOnUpdateMirrorsSummaries(t *testing.T) {
	tr := New()
	var mu sync.Mutex
	updates := make(map[string]models.PerformanceSummary)
	tr.OnUpdate(func(agentID string, s models.PerformanceSummary) {
		mu.Lock()
		defer mu.Unlock()
		updates[agentID] = s
	})

	tr.RecordTask(TaskEvent{EventID: "e1", AgentID: "a1", Success: true, Latency: time.Second})

	mu.Lock()
	defer mu.Unlock()
	if s, ok := updates["a1"]; !ok || s.Observations != 1 {
		t.Errorf("expected update callback with a1 summary, got %+v", updates)
	}
}
