// Package tui implements fiberctl's live dashboard: a Bubble Tea program
// that polls a scheduler.Scheduler's Snapshot on a tick and renders ready
// count, sleep count, and per-fiber status, the same poll-and-render shape
// as the teacher's cmd/vango/internal/ui create wizard (spinner + tick
// messages driving re-render), adapted from a multi-step wizard to a
// single scrolling status view.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/recera/fiberflow/pkg/scheduler"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	faultStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	pollInterval = 200 * time.Millisecond
)

type tickMsg time.Time

// Model renders a scheduler's live Snapshot.
type Model struct {
	name    string
	sched   *scheduler.Scheduler
	spinner spinner.Model
	snap    scheduler.Snapshot
	width   int
	height  int
	quit    bool
}

// NewModel creates a dashboard Model polling sched.
func NewModel(name string, sched *scheduler.Scheduler) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{name: name, sched: sched, spinner: s}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.snap = m.sched.Snapshot()
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	if m.quit {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s %s", m.spinner.View(), m.name)))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render(fmt.Sprintf("ready=%d  sleeping=%d  total=%d",
		m.snap.ReadyCount, m.snap.SleepCount, m.snap.TotalFibers)))
	b.WriteString("\n\n")

	fibers := append([]scheduler.FiberSnapshot(nil), m.snap.Fibers...)
	sort.Slice(fibers, func(i, j int) bool { return fibers[i].ID < fibers[j].ID })
	for _, f := range fibers {
		b.WriteString(fmt.Sprintf("  fiber %-4d %s\n", f.ID, styleStatus(f.Status)))
	}

	b.WriteString("\n")
	b.WriteString(footerStyle.Render("q to quit"))
	return b.String()
}

func styleStatus(st scheduler.Status) string {
	switch st {
	case scheduler.RanToCompletion:
		return okStyle.Render(st.String())
	case scheduler.Canceled:
		return warnStyle.Render(st.String())
	case scheduler.Faulted:
		return faultStyle.Render(st.String())
	default:
		return st.String()
	}
}
