package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/echiweshe/convoke/internal/store"
	"github.com/echiweshe/convoke/pkg/models"
)

var statusJobID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted job state",
	Long: `Display jobs recorded in the engine database.

Shows:
  - Recent jobs with their protocol and terminal status
  - Per-job consensus round history with --job
  - Escalation details when a job did not converge`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusJobID, "job", "", "Show round history for one job")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	// Try project database first, then global.
	dbPath := store.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		dbPath = store.GlobalDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No recorded runs. Run 'convoke run <scenario>' to start.")
		return nil
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if statusJobID != "" {
		return displayJobDetail(db, statusJobID)
	}
	return displayRecentJobs(db)
}

func displayRecentJobs(db *store.DB) error {
	jobs, err := db.ListJobs("")
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No recorded runs. Run 'convoke run <scenario>' to start.")
		return nil
	}

	fmt.Println("Recent Jobs:")
	shown := 0
	for _, j := range jobs {
		printJobLine(j)
		shown++
		if shown >= 10 {
			break
		}
	}
	if len(jobs) > shown {
		fmt.Printf("  ... and %d more\n", len(jobs)-shown)
	}
	return nil
}

func printJobLine(j models.Job) {
	elapsed := formatDuration(time.Since(j.SubmittedAt))
	line := fmt.Sprintf("  %s: %s capability=%s (%s ago)", j.ID, j.Status, j.Capability, elapsed)
	switch j.Status {
	case models.JobStatusCompleted:
		color.Green("%s", line)
	case models.JobStatusEscalated:
		color.Yellow("%s", line)
	case models.JobStatusFailed:
		color.Red("%s", line)
	default:
		fmt.Println(line)
	}
}

func displayJobDetail(db *store.DB, jobID string) error {
	job, err := db.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Capability: %s\n", job.Capability)
	fmt.Printf("  Threshold: %.2f over %d round(s) max\n", job.QualityThreshold, job.MaxIterations)
	fmt.Printf("  Submitted: %s ago\n", formatDuration(time.Since(job.SubmittedAt)))

	tasks, err := db.ListTasksByJob(jobID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) > 0 {
		fmt.Println("  Tasks:")
		for _, t := range tasks {
			assignee := t.AssignedTo
			if assignee == "" {
				assignee = "-"
			}
			fmt.Printf("    %s: %s agent=%s retries=%d\n", t.ID, t.Status, assignee, t.RetryCount)
		}
	}

	rounds, err := db.ListRounds(jobID)
	if err != nil {
		return fmt.Errorf("list rounds: %w", err)
	}
	if len(rounds) > 0 {
		fmt.Println("  Rounds:")
		for _, r := range rounds {
			blocking := r.BlockingCount()
			fmt.Printf("    %d: artifact v%d aggregate %.3f votes=%d blocking=%d\n",
				r.Number, r.ArtifactVersion, r.Aggregate, len(r.Votes), blocking)
		}
	}

	esc, err := db.GetEscalation(jobID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("get escalation: %w", err)
	}
	if esc != nil {
		color.Yellow("  Escalated: %s (artifact v%d)", esc.Reason, esc.Artifact.Version)
	}
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
