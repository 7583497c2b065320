package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/swarmctl/internal/swarm"
)

var styled = isatty.IsTerminal(os.Stdout.Fd())

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle      = lipgloss.NewStyle().Faint(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	terminalStyle = lipgloss.NewStyle().Faint(true)
)

func render(style lipgloss.Style, s string) string {
	if !styled {
		return s
	}
	return style.Render(s)
}

func header(s string) string { return render(headerStyle, s) }
func dim(s string) string    { return render(dimStyle, s) }

// statusLabel colors a task status for terminal output.
func statusLabel(status swarm.TaskStatus) string {
	switch status {
	case swarm.StatusCompleted:
		return render(okStyle, string(status))
	case swarm.StatusFailed, swarm.StatusTimedOut, swarm.StatusTransportError, swarm.StatusRejected:
		return render(errStyle, string(status))
	case swarm.StatusAwaitingApproval, swarm.StatusPausedDrain, swarm.StatusRetryScheduled:
		return render(warnStyle, string(status))
	case swarm.StatusPartial:
		return render(terminalStyle, string(status))
	default:
		return string(status)
	}
}
