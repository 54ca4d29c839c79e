package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/echiweshe/convoke/internal/orchestrator"
	"github.com/echiweshe/convoke/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1"))

	stateStyles = map[models.AgentState]lipgloss.Style{
		models.AgentStateIdle:          lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		models.AgentStateThinking:      lipgloss.NewStyle().Foreground(lipgloss.Color("#45B7D1")),
		models.AgentStateExecuting:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857")),
		models.AgentStateCollaborating: lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4")),
		models.AgentStateUnreachable:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
	}
)

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	var b strings.Builder

	status := fmt.Sprintf("%s convoke watch  %s",
		a.spinner.View(),
		labelStyle.Render(fmt.Sprintf("running: %d  done: %d  agents: %d",
			a.jobsRunning, a.jobsDone, len(a.agents))))
	b.WriteString(titleStyle.Render("convoke") + "\n")
	b.WriteString(status + "\n\n")

	b.WriteString(panelStyle.Render(a.agentPanel()) + "\n")
	b.WriteString(panelStyle.Render(a.logPanel()) + "\n")
	b.WriteString(labelStyle.Render("q: quit"))

	return b.String()
}

// agentPanel renders one line per registered agent.
func (a *App) agentPanel() string {
	if len(a.agents) == 0 {
		return labelStyle.Render("no agents registered")
	}

	var lines []string
	for _, agent := range a.agents {
		style, ok := stateStyles[agent.State]
		if !ok {
			style = labelStyle
		}
		lines = append(lines, fmt.Sprintf("%-20s %s  %s  q=%.2f",
			agent.ID,
			style.Render(fmt.Sprintf("%-13s", agent.State)),
			labelStyle.Render(strings.Join(agent.Capabilities, ",")),
			agent.Perf.QualityScore))
	}
	return strings.Join(lines, "\n")
}

// logPanel renders the most recent event lines that fit.
func (a *App) logPanel() string {
	if len(a.logs) == 0 {
		return labelStyle.Render("waiting for events")
	}

	max := 12
	if a.height > 0 && a.height-14 > 3 {
		max = a.height - 14
	}
	logs := a.logs
	if len(logs) > max {
		logs = logs[len(logs)-max:]
	}

	var lines []string
	for _, l := range logs {
		style := okStyle
		switch l.Level {
		case "ERROR":
			style = errorStyle
		case "WARN":
			style = warnStyle
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			labelStyle.Render(l.Timestamp.Format("15:04:05")),
			style.Render(fmt.Sprintf("%-5s", l.Level)),
			l.Message))
	}
	return strings.Join(lines, "\n")
}

// describe renders one event as a log line.
func describe(ev orchestrator.Event) string {
	switch ev.Type {
	case orchestrator.EventJobQueued:
		return fmt.Sprintf("job %s queued", ev.JobID)
	case orchestrator.EventJobStarted:
		return fmt.Sprintf("job %s started", ev.JobID)
	case orchestrator.EventProtocolSelected:
		return fmt.Sprintf("job %s running %s protocol", ev.JobID, ev.Protocol)
	case orchestrator.EventConsensusStarted:
		return fmt.Sprintf("job %s under critic review", ev.JobID)
	case orchestrator.EventJobCompleted:
		return fmt.Sprintf("job %s committed: aggregate %.3f after %d round(s)", ev.JobID, ev.Aggregate, ev.Rounds)
	case orchestrator.EventJobEscalated:
		return fmt.Sprintf("job %s escalated after %d round(s): %s", ev.JobID, ev.Rounds, ev.Message)
	case orchestrator.EventJobFailed:
		return fmt.Sprintf("job %s failed: %v", ev.JobID, ev.Error)
	case orchestrator.EventJobCancelled:
		return fmt.Sprintf("job %s cancelled", ev.JobID)
	default:
		return fmt.Sprintf("job %s: %s", ev.JobID, ev.Type)
	}
}
