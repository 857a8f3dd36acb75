package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// ContextRow is one line of the dashboard's context table, decoupled from
// internal/kcontext so this package never imports the kernel layers it
// watches (internal/cmd supplies a Snapshotter that does the translating,
// avoiding an import cycle back from kernel code into tui).
type ContextRow struct {
	ID       uint64
	Status   string
	Module   string
	Function uint64
	CPU      int
}

// Snapshotter is polled once per refresh tick for the current context table.
type Snapshotter interface {
	Snapshot() []ContextRow
}

type dashboardKeyMap struct {
	Up, Down, Help, Quit key.Binding
}

func (k dashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Help, k.Quit}
}

func (k dashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down}, {k.Help, k.Quit}}
}

var defaultDashboardKeys = dashboardKeyMap{
	Up:   key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// refreshInterval is how often the dashboard polls its Snapshotter, matching
// a `top`-style refresh rate rather than the scheduler's own tick rate.
const refreshInterval = 250 * time.Millisecond

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the `faastr top` dashboard's bubbletea model.
type Model struct {
	src    Snapshotter
	rows   []ContextRow
	cursor int
	keys   dashboardKeyMap
	help   help.Model
	width  int
	height int
}

func NewModel(src Snapshotter) Model {
	return Model{src: src, keys: defaultDashboardKeys, help: help.New()}
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		m.rows = m.src.Snapshot()
		if m.cursor >= len(m.rows) {
			m.cursor = len(m.rows) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		return m, tickCmd()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("faastr top"))
	b.WriteString("\n")

	b.WriteString(StyleHeader.Render(fmt.Sprintf("%-6s %-10s %-16s %-10s %-4s", "ID", "STATUS", "MODULE", "FUNCTION", "CPU")))
	b.WriteString("\n")

	if len(m.rows) == 0 {
		b.WriteString(StyleDim.Render("  (no contexts)"))
		b.WriteString("\n")
	}
	for i, row := range m.rows {
		line := fmt.Sprintf("%-6d %-10s %-16s %#-10x %-4d", row.ID, row.Status, row.Module, row.Function, row.CPU)
		style := statusStyle(row.Status)
		if i == m.cursor {
			style = style.Bold(true)
			line = "> " + line
		} else {
			line = "  " + line
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(StyleHelpBar.Render(m.help.View(m.keys)))
	return b.String()
}
