// Package ui provides a terminal dashboard for monitoring the dispatch
// queue. Uses Bubbletea for an interactive display of task states and
// worker loads.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/contabix/dispatch/internal/model"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelOverview Panel = iota
	PanelTasks
	PanelWorkers
)

// WorkerRow is one worker's line in the workers panel.
type WorkerRow struct {
	ID     string
	Name   string
	Load   int
	Active bool
}

// TaskRow is one task's line in the tasks panel.
type TaskRow struct {
	ID       string
	TenantID string
	Kind     string
	Title    string
	State    model.State
	DueAt    time.Time
	Worker   string
}

// Snapshot is one refresh of queue state rendered by the dashboard.
type Snapshot struct {
	Taken      time.Time
	Pending    int
	InProgress int
	Overdue    int
	Completed  int
	Unassigned int
	Tasks      []TaskRow
	Workers    []WorkerRow
}

// Source produces dashboard snapshots. The store-backed implementation
// lives in the command layer.
type Source interface {
	Snapshot() (Snapshot, error)
}

// Model holds the dashboard state.
type Model struct {
	width       int
	height      int
	activePanel Panel
	quitting    bool

	source   Source
	snap     Snapshot
	fetchErr error
	interval time.Duration

	taskScroll   int
	selectedTask int
	workerScroll int

	styles *Styles
}

// Styles holds lipgloss styles for the dashboard.
type Styles struct {
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	StatePending    lipgloss.Style
	StateInProgress lipgloss.Style
	StateOverdue    lipgloss.Style
	StateCompleted  lipgloss.Style

	TaskSelected lipgloss.Style

	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

// newStyles creates the default style set.
func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),

		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		Highlight: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		StatePending:    lipgloss.NewStyle().Foreground(yellow),
		StateInProgress: lipgloss.NewStyle().Foreground(blue),
		StateOverdue:    lipgloss.NewStyle().Foreground(red).Bold(true),
		StateCompleted:  lipgloss.NewStyle().Foreground(green),

		TaskSelected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// tickMsg triggers a snapshot refresh.
type tickMsg time.Time

// snapshotMsg carries a fetched snapshot back into the update loop.
type snapshotMsg struct {
	snap Snapshot
	err  error
}

// New creates a dashboard model that refreshes from source at the given
// interval.
func New(source Source, interval time.Duration) *Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Model{
		width:       80,
		height:      24,
		activePanel: PanelOverview,
		source:      source,
		interval:    interval,
		styles:      newStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchCmd(),
		m.tickCmd(),
		tea.EnterAltScreen,
	)
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchCmd() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		snap, err := source.Snapshot()
		return snapshotMsg{snap: snap, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case snapshotMsg:
		m.fetchErr = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			if m.selectedTask >= len(m.snap.Tasks) {
				m.selectedTask = len(m.snap.Tasks) - 1
			}
			if m.selectedTask < 0 {
				m.selectedTask = 0
			}
		}
		return m, nil
	}

	return m, nil
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "r":
		return m, m.fetchCmd()

	case "tab", "right", "l":
		m.activePanel = (m.activePanel + 1) % 3
		return m, nil

	case "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + 2) % 3
		return m, nil

	case "up", "k":
		return m.handleUp(), nil

	case "down", "j":
		return m.handleDown(), nil

	case "home", "g":
		return m.handleHome(), nil

	case "end", "G":
		return m.handleEnd(), nil
	}

	return m, nil
}

func (m Model) handleUp() Model {
	switch m.activePanel {
	case PanelTasks:
		if m.selectedTask > 0 {
			m.selectedTask--
		}
	case PanelWorkers:
		if m.workerScroll > 0 {
			m.workerScroll--
		}
	}
	return m
}

func (m Model) handleDown() Model {
	switch m.activePanel {
	case PanelTasks:
		if m.selectedTask < len(m.snap.Tasks)-1 {
			m.selectedTask++
		}
	case PanelWorkers:
		if m.workerScroll < len(m.snap.Workers)-1 {
			m.workerScroll++
		}
	}
	return m
}

func (m Model) handleHome() Model {
	switch m.activePanel {
	case PanelTasks:
		m.selectedTask = 0
	case PanelWorkers:
		m.workerScroll = 0
	}
	return m
}

func (m Model) handleEnd() Model {
	switch m.activePanel {
	case PanelTasks:
		if len(m.snap.Tasks) > 0 {
			m.selectedTask = len(m.snap.Tasks) - 1
		}
	case PanelWorkers:
		if len(m.snap.Workers) > 0 {
			m.workerScroll = len(m.snap.Workers) - 1
		}
	}
	return m
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 3
	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth

	overviewPanel := m.renderOverviewPanel()
	workerPanel := m.renderWorkerPanel(topHeight - 2)
	taskPanel := m.renderTaskPanel(m.width-2, bottomHeight-2)

	overviewBorder := m.getBorder(PanelOverview).Width(leftWidth - 2).Height(topHeight - 2)
	workerBorder := m.getBorder(PanelWorkers).Width(rightWidth - 2).Height(topHeight - 2)
	taskBorder := m.getBorder(PanelTasks).Width(m.width - 2).Height(bottomHeight - 2)

	topRow := lipgloss.JoinHorizontal(
		lipgloss.Top,
		overviewBorder.Render(overviewPanel),
		workerBorder.Render(workerPanel),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		topRow,
		taskBorder.Render(taskPanel),
		m.renderHelpBar(),
	)
}

func (m Model) getBorder(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

// renderOverviewPanel renders the queue counters.
func (m Model) renderOverviewPanel() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Dispatch Queue"))
	b.WriteString("\n\n")

	if m.fetchErr != nil {
		b.WriteString(m.styles.StateOverdue.Render("refresh failed: " + m.fetchErr.Error()))
		b.WriteString("\n\n")
	}

	rows := []struct {
		label string
		count int
		style lipgloss.Style
	}{
		{"Pending", m.snap.Pending, m.styles.StatePending},
		{"In progress", m.snap.InProgress, m.styles.StateInProgress},
		{"Overdue", m.snap.Overdue, m.styles.StateOverdue},
		{"Completed", m.snap.Completed, m.styles.StateCompleted},
	}
	for _, row := range rows {
		b.WriteString(m.styles.Label.Render(fmt.Sprintf("%-12s", row.label)))
		b.WriteString(row.style.Render(fmt.Sprintf("%4d", row.count)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Label.Render("Unassigned  "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%4d", m.snap.Unassigned)))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Refreshed: "))
	if m.snap.Taken.IsZero() {
		b.WriteString(m.styles.Muted.Render("never"))
	} else {
		b.WriteString(m.styles.Value.Render(m.snap.Taken.Format("15:04:05")))
	}

	return b.String()
}

// renderWorkerPanel renders per-worker load lines.
func (m Model) renderWorkerPanel(height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Workers"))
	b.WriteString("\n\n")

	if len(m.snap.Workers) == 0 {
		b.WriteString(m.styles.Muted.Render("No active workers"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}

	start := m.workerScroll
	if start > len(m.snap.Workers)-1 {
		start = len(m.snap.Workers) - 1
	}

	for i := start; i < len(m.snap.Workers) && i < start+visible; i++ {
		w := m.snap.Workers[i]
		loadStyle := m.styles.StateCompleted
		if w.Load >= 8 {
			loadStyle = m.styles.StateOverdue
		} else if w.Load >= 5 {
			loadStyle = m.styles.StatePending
		}
		b.WriteString(fmt.Sprintf(" %-16s %s\n",
			truncate(w.Name, 16),
			loadStyle.Render(fmt.Sprintf("%2d open", w.Load)),
		))
	}

	if len(m.snap.Workers) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", start+1, len(m.snap.Workers))))
	}

	return b.String()
}

// renderTaskPanel renders the recent-task list.
func (m Model) renderTaskPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Open Tasks"))
	b.WriteString("\n\n")

	if len(m.snap.Tasks) == 0 {
		b.WriteString(m.styles.Muted.Render("Queue is empty"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}

	if m.selectedTask < m.taskScroll {
		m.taskScroll = m.selectedTask
	} else if m.selectedTask >= m.taskScroll+visible {
		m.taskScroll = m.selectedTask - visible + 1
	}

	for i := m.taskScroll; i < len(m.snap.Tasks) && i < m.taskScroll+visible; i++ {
		task := m.snap.Tasks[i]

		stateStyle := m.stateStyle(task.State)
		worker := task.Worker
		if worker == "" {
			worker = "-"
		}

		line := fmt.Sprintf(" %s %-10s %-18s %-14s %s",
			stateStyle.Render(fmt.Sprintf("%-11s", task.State)),
			task.DueAt.Format("01-02 15:04"),
			truncate(task.TenantID, 18),
			truncate(task.Kind, 14),
			truncate(task.Title, max(width-62, 8)),
		)

		if i == m.selectedTask && m.activePanel == PanelTasks {
			line = m.styles.TaskSelected.Render(line)
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.snap.Tasks) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.taskScroll+1, len(m.snap.Tasks))))
	}

	return b.String()
}

func (m Model) stateStyle(s model.State) lipgloss.Style {
	switch s {
	case model.StatePending:
		return m.styles.StatePending
	case model.StateInProgress:
		return m.styles.StateInProgress
	case model.StateOverdue:
		return m.styles.StateOverdue
	case model.StateCompleted:
		return m.styles.StateCompleted
	default:
		return m.styles.Muted
	}
}

// renderHelpBar renders the help bar at the bottom.
func (m Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"tab", "switch panel"},
		{"j/k", "up/down"},
		{"r", "refresh"},
		{"q", "quit"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}

	return "  " + strings.Join(parts, "  |  ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// Run starts the dashboard.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
