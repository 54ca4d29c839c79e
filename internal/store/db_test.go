package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/echiweshe/convoke/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func testJob(id string) *models.Job {
	return &models.Job{
		ID:               id,
		Capability:       "code",
		Payload:          []byte("payload"),
		Priority:         3,
		QualityThreshold: 0.85,
		MaxIterations:    4,
		Traits:           models.JobTraits{Decomposable: true, Validation: true},
		Status:           models.JobStatusQueued,
		SubmittedAt:      time.Now(),
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestJobRoundTrip(t *testing.T) {
	db := openTestDB(t)
	job := testJob("j1")
	if err := db.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := db.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Capability != "code" || got.Priority != 3 || got.MaxIterations != 4 {
		t.Errorf("job fields lost: %+v", got)
	}
	if !got.Traits.Validation || !got.Traits.Decomposable {
		t.Errorf("traits lost: %+v", got.Traits)
	}
	if got.Status != models.JobStatusQueued {
		t.Errorf("status = %s, want %s", got.Status, models.JobStatusQueued)
	}
}

func TestGetJobNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	db := openTestDB(t)
	if err := db.CreateJob(testJob("j1")); err != nil {
		t.Fatal(err)
	}

	if err := db.UpdateJobStatus("j1", models.JobStatusCompleted); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	got, err := db.GetJob("j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusCompleted {
		t.Errorf("status = %s, want %s", got.Status, models.JobStatusCompleted)
	}

	if err := db.UpdateJobStatus("missing", models.JobStatusFailed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"j1", "j2", "j3"} {
		if err := db.CreateJob(testJob(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpdateJobStatus("j2", models.JobStatusEscalated); err != nil {
		t.Fatal(err)
	}

	queued, err := db.ListJobs(models.JobStatusQueued)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 2 {
		t.Errorf("queued jobs = %d, want 2", len(queued))
	}

	all, err := db.ListJobs("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all jobs = %d, want 3", len(all))
	}
}

func TestTaskUpsert(t *testing.T) {
	db := openTestDB(t)
	if err := db.CreateJob(testJob("j1")); err != nil {
		t.Fatal(err)
	}

	task := &models.Task{
		ID:         "t1",
		JobID:      "j1",
		RunID:      "r1",
		Capability: "code",
		Status:     models.TaskStatusPending,
		CreatedAt:  time.Now(),
	}
	if err := db.SaveTasks([]*models.Task{task}); err != nil {
		t.Fatalf("SaveTasks: %v", err)
	}

	done := time.Now()
	task.Status = models.TaskStatusDone
	task.AssignedTo = "w1"
	task.RetryCount = 1
	task.CompletedAt = &done
	if err := db.SaveTasks([]*models.Task{task}); err != nil {
		t.Fatalf("SaveTasks upsert: %v", err)
	}

	tasks, err := db.ListTasksByJob("j1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	got := tasks[0]
	if got.Status != models.TaskStatusDone || got.AssignedTo != "w1" || got.RetryCount != 1 {
		t.Errorf("upsert lost fields: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not persisted")
	}
}

func TestRoundHistory(t *testing.T) {
	db := openTestDB(t)
	if err := db.CreateJob(testJob("j1")); err != nil {
		t.Fatal(err)
	}

	for n := 1; n <= 3; n++ {
		round := models.ConsensusRound{
			Number:          n,
			ArtifactVersion: n,
			Aggregate:       0.5 + float64(n)*0.1,
			Votes: []models.Vote{
				{ArtifactVersion: n, CriticID: "c1", Score: 0.8},
				{ArtifactVersion: n, CriticID: "c2", Abstained: true},
			},
			Improvement: []string{"[warning] style: tighten naming"},
			ClosedAt:    time.Now(),
		}
		if err := db.AppendRound("j1", round); err != nil {
			t.Fatalf("AppendRound %d: %v", n, err)
		}
	}

	// Replaying a round number is rejected, keeping history append-only.
	dup := models.ConsensusRound{Number: 2, ArtifactVersion: 2, ClosedAt: time.Now()}
	if err := db.AppendRound("j1", dup); err == nil {
		t.Fatal("duplicate round number accepted")
	}

	rounds, err := db.ListRounds("j1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 3 {
		t.Fatalf("rounds = %d, want 3", len(rounds))
	}
	for i, r := range rounds {
		if r.Number != i+1 {
			t.Errorf("round %d out of order: number %d", i, r.Number)
		}
		if len(r.Votes) != 2 {
			t.Errorf("round %d votes = %d, want 2", r.Number, len(r.Votes))
		}
	}
	if !rounds[2].Votes[1].Abstained {
		t.Error("abstain flag lost")
	}
}

func TestEscalationRoundTrip(t *testing.T) {
	db := openTestDB(t)
	if err := db.CreateJob(testJob("j1")); err != nil {
		t.Fatal(err)
	}

	esc := models.EscalationRequest{
		JobID:    "j1",
		Artifact: models.Artifact{Version: 3, ProducerID: "w1"},
		Rounds:   make([]models.ConsensusRound, 4),
		Reason:   models.EscalateIterationCap,
	}
	if err := db.SaveEscalation(esc); err != nil {
		t.Fatalf("SaveEscalation: %v", err)
	}

	got, err := db.GetEscalation("j1")
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}
	if got.Reason != models.EscalateIterationCap {
		t.Errorf("reason = %s, want %s", got.Reason, models.EscalateIterationCap)
	}
	if got.Artifact.Version != 3 {
		t.Errorf("artifact version = %d, want 3", got.Artifact.Version)
	}

	if _, err := db.GetEscalation("other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
