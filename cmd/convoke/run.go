package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/echiweshe/convoke/internal/channel"
	"github.com/echiweshe/convoke/internal/config"
	"github.com/echiweshe/convoke/internal/consensus"
	"github.com/echiweshe/convoke/internal/orchestrator"
	"github.com/echiweshe/convoke/internal/perf"
	"github.com/echiweshe/convoke/internal/protocol"
	"github.com/echiweshe/convoke/internal/registry"
	"github.com/echiweshe/convoke/internal/simagent"
	"github.com/echiweshe/convoke/internal/store"
	"github.com/echiweshe/convoke/internal/tui"
	"github.com/echiweshe/convoke/pkg/models"
)

var (
	runWatch   bool
	runNoStore bool
	runDebug   bool
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a scenario of jobs against a simulated agent roster",
	Long: `Run the engine against a scenario file.

The scenario declares a roster of simulated producers and critics plus the
jobs to submit. Each job's traits select a coordination protocol; every
candidate artifact then goes through critic consensus before it commits.

Results print per job; pass --watch for a live TUI instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Watch the run in a live TUI")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "Skip persisting jobs and rounds")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Write a debug log under .convoke/logs")
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scenario, err := LoadScenario(args[0])
	if err != nil {
		return err
	}

	reg := registry.New(registry.Options{
		AllowDuplicateSignatures: true,
		HeartbeatWindow:          cfg.Defaults.HeartbeatWindow,
	})
	ch := channel.New(reg)
	tracker := perf.NewWithOptions(cfg.Perf.Alpha, cfg.Perf.MinObservations)

	opts := orchestrator.Options{
		CriticCapability: cfg.Defaults.CriticCapability,
		Protocol: protocol.Config{
			StateTimeout:     cfg.Timeouts.State,
			MaxTaskRetries:   cfg.Protocol.MaxTaskRetries,
			BlackboardCycles: cfg.Protocol.BlackboardCycles,
			SwarmWidth:       cfg.Protocol.SwarmWidth,
		},
		Consensus: consensus.Config{
			RoundTimeout:    cfg.Timeouts.Round,
			RevisionTimeout: cfg.Timeouts.Revision,
		},
	}

	if !runNoStore {
		db, err := openStore(cfg)
		if err != nil {
			color.Yellow("persistence disabled: %v", err)
		} else {
			defer db.Close()
			opts.Store = db
		}
	}
	if runDebug {
		cwd, _ := os.Getwd()
		logger := orchestrator.NewDebugLoggerForProject(cwd)
		defer logger.Close()
		opts.Logger = logger
	}

	orch := orchestrator.New(reg, ch, tracker, opts)
	defer orch.Stop()

	if err := bindRoster(reg, ch, scenario); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Operator kill switch: dropping .convoke/kill cancels the run.
	if cwd, err := os.Getwd(); err == nil {
		killPath := filepath.Join(cwd, ".convoke", "kill")
		os.Remove(killPath)
		kw, err := watchKillFile(killPath, cancel)
		if err != nil {
			color.Yellow("kill-switch watcher disabled: %v", err)
		} else {
			defer kw.Close()
		}
	}

	// Config edits mid-run are surfaced but not hot-applied; timeouts are
	// already baked into the orchestrator.
	if configPath != "" {
		err := config.Watch(configPath, func(*config.Config) {
			color.Yellow("config %s changed; the new values apply to the next run", configPath)
		}, func(err error) {
			color.Yellow("config reload failed: %v", err)
		})
		if err != nil {
			color.Yellow("config watch disabled: %v", err)
		}
	}

	// Heartbeat reaping keeps the roster honest even in simulation.
	go func() {
		ticker := time.NewTicker(cfg.Defaults.HeartbeatWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reg.ReapStale()
			}
		}
	}()

	if runWatch {
		return runWithTUI(ctx, cfg, reg, orch, scenario)
	}
	return runPlain(ctx, cfg, orch, scenario)
}

// watchKillFile cancels the run when the kill file appears. The watcher
// covers the file's directory because the file usually does not exist yet.
func watchKillFile(path string, cancel context.CancelFunc) (*fsnotify.Watcher, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name == path && ev.Op.Has(fsnotify.Create|fsnotify.Write) {
					color.Yellow("kill file %s detected, cancelling run", path)
					cancel()
					return
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w, nil
}

// openStore opens the configured database, falling back to the
// project-local path.
func openStore(cfg *config.Config) (*store.DB, error) {
	path := cfg.Store.Path
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path = store.ProjectDBPath(cwd)
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// bindRoster registers and attaches every scripted agent.
func bindRoster(reg *registry.Registry, ch *channel.Channel, sc *Scenario) error {
	for _, spec := range sc.Producers {
		p := &simagent.Producer{
			ID:              spec.ID,
			Capabilities:    spec.Capabilities,
			BaseScore:       spec.BaseScore,
			ImprovePerRound: spec.ImprovePerRound,
			BidCost:         spec.BidCost,
			Mute:            spec.Mute,
		}
		if _, err := reg.Register(p.Agent()); err != nil {
			return fmt.Errorf("register producer %s: %w", spec.ID, err)
		}
		p.Bind(ch)
	}
	for _, spec := range sc.Critics {
		c := &simagent.Critic{
			ID:           spec.ID,
			Capabilities: spec.Capabilities,
			Scores:       spec.Scores,
			Findings:     spec.findings(),
			Clean:        spec.CleanAfter,
		}
		if _, err := reg.Register(c.Agent()); err != nil {
			return fmt.Errorf("register critic %s: %w", spec.ID, err)
		}
		c.Bind(ch)
	}
	return nil
}

// runPlain submits every job and prints results as they land.
func runPlain(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, sc *Scenario) error {
	bold := color.New(color.Bold)
	failures := 0

	for _, spec := range sc.Jobs {
		job := spec.job(cfg.Defaults.QualityThreshold, cfg.Defaults.MaxIterations)
		handle, err := orch.Submit(ctx, job)
		if err != nil {
			color.Red("✗ %s: %v", spec.ID, err)
			failures++
			continue
		}

		bold.Printf("▸ %s", handle.Job().ID)
		fmt.Printf("  capability=%s threshold=%.2f\n", job.Capability, job.QualityThreshold)

		<-handle.Done()
		out := handle.Outcome()
		printOutcome(handle.Job().ID, out)
		if out.Status != models.JobStatusCompleted {
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d jobs did not commit", failures, len(sc.Jobs))
	}
	return nil
}

func printOutcome(jobID string, out *orchestrator.Outcome) {
	switch out.Status {
	case models.JobStatusCompleted:
		color.Green("✓ %s committed: aggregate %.3f after %d round(s)",
			jobID, out.Result.Aggregate, out.Result.RoundsUsed)
	case models.JobStatusEscalated:
		color.Yellow("⚠ %s escalated (%s) after %d round(s)",
			jobID, out.Escalation.Reason, len(out.Escalation.Rounds))
		for _, r := range out.Escalation.Rounds {
			fmt.Printf("    round %d: artifact v%d aggregate %.3f\n", r.Number, r.ArtifactVersion, r.Aggregate)
		}
	default:
		color.Red("✗ %s failed: %v", jobID, out.Err)
	}
}

// runWithTUI submits jobs in the background while the watch view renders
// the orchestrator's event stream.
func runWithTUI(ctx context.Context, cfg *config.Config, reg *registry.Registry, orch *orchestrator.Orchestrator, sc *Scenario) error {
	go func() {
		for _, spec := range sc.Jobs {
			job := spec.job(cfg.Defaults.QualityThreshold, cfg.Defaults.MaxIterations)
			handle, err := orch.Submit(ctx, job)
			if err != nil {
				continue
			}
			<-handle.Done()
		}
		// Let the final events render before the stream closes.
		time.Sleep(500 * time.Millisecond)
		orch.Stop()
	}()

	app := tui.New(reg, orch.Events(), cfg.TUI.RefreshRate)
	_, err := tea.NewProgram(app, tea.WithContext(ctx)).Run()
	return err
}
