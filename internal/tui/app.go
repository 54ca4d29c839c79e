// Package tui provides the terminal user interface for watching engine
// runs: live agent states, job lifecycle events, and consensus progress.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/echiweshe/convoke/internal/orchestrator"
	"github.com/echiweshe/convoke/internal/registry"
	"github.com/echiweshe/convoke/pkg/models"
)

// EventMsg wraps one orchestrator event for the TUI.
type EventMsg struct {
	Event orchestrator.Event
}

// EventsClosedMsg signals that the orchestrator's event stream ended.
type EventsClosedMsg struct{}

// refreshMsg drives periodic agent-panel refreshes.
type refreshMsg time.Time

// LogEntry represents one event line in the log panel.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// App is the main bubbletea model for the watch view.
type App struct {
	reg    *registry.Registry
	events <-chan orchestrator.Event

	spinner     spinner.Model
	agents      []models.Agent
	logs        []LogEntry
	jobsRunning int
	jobsDone    int
	width       int
	height      int
	refreshRate time.Duration
	quitting    bool
	streamEnded bool
}

// New creates a watch app over the registry and event stream.
func New(reg *registry.Registry, events <-chan orchestrator.Event, refreshRate time.Duration) *App {
	if refreshRate <= 0 {
		refreshRate = 100 * time.Millisecond
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &App{
		reg:         reg,
		events:      events,
		spinner:     sp,
		refreshRate: refreshRate,
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.waitForEvent(), a.tick())
}

// waitForEvent blocks on the next orchestrator event.
func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-a.events
		if !ok {
			return EventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.refreshRate, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case EventMsg:
		a.handleEvent(msg.Event)
		return a, a.waitForEvent()

	case EventsClosedMsg:
		a.streamEnded = true
		return a, tea.Quit

	case refreshMsg:
		a.agents = a.reg.All()
		return a, a.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

// handleEvent folds one orchestrator event into the model.
func (a *App) handleEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventJobStarted:
		a.jobsRunning++
	case orchestrator.EventJobCompleted, orchestrator.EventJobEscalated,
		orchestrator.EventJobFailed, orchestrator.EventJobCancelled:
		if a.jobsRunning > 0 {
			a.jobsRunning--
		}
		a.jobsDone++
	}

	a.logs = append(a.logs, LogEntry{
		Timestamp: ev.Timestamp,
		Level:     levelFor(ev.Type),
		Message:   describe(ev),
	})
	// Keep a bounded scrollback.
	if len(a.logs) > 200 {
		a.logs = a.logs[len(a.logs)-200:]
	}
}

func levelFor(t orchestrator.EventType) string {
	switch t {
	case orchestrator.EventJobFailed:
		return "ERROR"
	case orchestrator.EventJobEscalated:
		return "WARN"
	default:
		return "INFO"
	}
}
