// Package fetch implements the live progress TUI for interactive fetch runs.
// It renders the dispatcher's lifecycle events: one row per request, a
// spinner for the in-flight exchange, and the current queue depth.
package fetch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/httpq/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

// --- Messages ---

type eventMsg events.Event

type subClosedMsg struct{}

// --- Model ---

type row struct {
	id       string
	url      string
	state    string // "queued", "running", "done"
	status   int
	err      string
	duration time.Duration
}

// Model is the BubbleTea model for the fetch progress TUI.
type Model struct {
	sub      <-chan events.Event
	expected int

	spinner   spinner.Model
	rows      []*row
	byID      map[string]*row
	depth     int
	completed int

	width  int
	height int
}

// New creates a progress model. sub is a subscription from the dispatcher's
// events hub; expected is the number of requests this run enqueues, so the
// TUI knows when to exit on its own.
func New(sub <-chan events.Event, expected int) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusRunning

	return &Model{
		sub:      sub,
		expected: expected,
		spinner:  sp,
		byID:     make(map[string]*row),
	}
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return subClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.sub))
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case subClosedMsg:
		return m, tea.Quit

	case eventMsg:
		m.apply(events.Event(msg))
		if m.expected > 0 && m.completed >= m.expected {
			return m, tea.Quit
		}
		return m, waitForEvent(m.sub)
	}

	return m, nil
}

func (m *Model) apply(ev events.Event) {
	m.depth = ev.Task.Depth

	switch ev.Type {
	case events.TypeTaskQueued:
		r := &row{id: ev.Task.RequestID, url: ev.Task.URL, state: "queued"}
		m.rows = append(m.rows, r)
		m.byID[r.id] = r

	case events.TypeTaskStarted:
		if r, ok := m.byID[ev.Task.RequestID]; ok {
			r.state = "running"
		}

	case events.TypeTaskCompleted:
		if r, ok := m.byID[ev.Task.RequestID]; ok {
			r.state = "done"
			r.status = ev.Task.Status
			r.err = ev.Task.Err
			r.duration = ev.Task.Duration
		}
		m.completed++
	}
}

func (m *Model) View() string {
	s := titleStyle.Render("httpq fetch") + "\n\n"

	for _, r := range m.rows {
		switch r.state {
		case "queued":
			s += fmt.Sprintf("  %s %s\n", statusQueued.Render("·"), dimStyle.Render(r.url))
		case "running":
			s += fmt.Sprintf("  %s %s\n", m.spinner.View(), r.url)
		case "done":
			mark := statusOK.Render("✓")
			detail := fmt.Sprintf("%d  %s", r.status, r.duration.Round(time.Millisecond))
			if r.status == 0 || r.err != "" {
				mark = statusFailed.Render("✗")
				if r.err != "" {
					detail = r.err
				} else {
					detail = "aborted or unreachable"
				}
			}
			s += fmt.Sprintf("  %s %s  %s\n", mark, r.url, dimStyle.Render(detail))
		}
	}

	s += "\n" + dimStyle.Render(fmt.Sprintf("%d/%d done · queue depth %d · q to quit",
		m.completed, m.expected, m.depth))
	return docStyle.Render(s)
}
