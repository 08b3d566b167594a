// Package monitorui is the Bubble Tea dashboard for cmd/taskmonitor: a
// live list of tasks driven by the executor's pubsub.Broker[task.Event]
// feed, the same fan-out the teacher's worker/log dashboards subscribe to.
package monitorui

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"taskexec/internal/pubsub"
	"taskexec/internal/taskexec/task"
)

var (
	stateStyles = map[task.State]lipgloss.Style{
		task.StateSubmitted: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		task.StateRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		task.StateSucceeded: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		task.StateFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
)

// taskRow is one list.Item: a task id and its most recently observed state.
type taskRow struct {
	id    string
	state task.State
}

func (r taskRow) FilterValue() string { return r.id }

type rowDelegate struct{}

func (rowDelegate) Height() int                             { return 1 }
func (rowDelegate) Spacing() int                            { return 0 }
func (rowDelegate) Update(tea.Msg, *list.Model) tea.Cmd      { return nil }
func (d rowDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	row, ok := item.(taskRow)
	if !ok {
		return
	}
	style, ok := stateStyles[row.state]
	if !ok {
		style = lipgloss.NewStyle()
	}
	cursor := "  "
	if index == m.Index() {
		cursor = "> "
	}
	fmt.Fprintf(w, "%s%-36s %s", cursor, row.id, style.Render(string(row.state)))
}

const helpMarkdown = `# taskexec monitor

- **↑/↓** move selection
- **/** filter by task id
- **?** toggle this help
- **q** quit
`

// Model is the taskmonitor Bubble Tea program's root model.
type Model struct {
	list     list.Model
	listener *pubsub.ContinuousListener[task.Event]
	help     *glamour.TermRenderer
	showHelp bool
	rows     map[string]int // task id -> index into list.Items()
}

// New builds a Model subscribed to events via ctx; the subscription is torn
// down when ctx is cancelled (see pubsub.Broker.Subscribe).
func New(ctx context.Context, events *pubsub.Broker[task.Event]) Model {
	zone.NewGlobal()

	l := list.New(nil, rowDelegate{}, 0, 0)
	l.Title = "taskexec monitor"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)

	help, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return Model{
		list:     l,
		listener: pubsub.NewContinuousListener(ctx, events),
		help:     help,
		rows:     make(map[string]int),
	}
}

// Init starts the event subscription.
func (m Model) Init() tea.Cmd {
	return m.listener.Listen()
}

// Update handles window resizes, key presses, and task events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "?":
			m.showHelp = !m.showHelp
			return m, nil
		}

	case pubsub.Event[task.Event]:
		m.upsert(msg.Payload)
		return m, m.listener.Listen()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the task list with a one-line legend underneath, or the
// glamour-rendered help screen when toggled with "?".
func (m Model) View() string {
	if m.showHelp {
		rendered, err := m.help.Render(helpMarkdown)
		if err != nil {
			rendered = helpMarkdown
		}
		return zone.Scan(rendered)
	}
	legend := "submitted  running  succeeded  failed    (q to quit, ? for help)"
	return zone.Scan(titleStyle.Render(m.list.View()) + "\n" + legend)
}

func (m *Model) upsert(ev task.Event) {
	items := m.list.Items()
	if idx, ok := m.rows[ev.TaskID]; ok {
		items[idx] = taskRow{id: ev.TaskID, state: ev.State}
		_ = m.list.SetItems(items)
		return
	}
	m.rows[ev.TaskID] = len(items)
	_ = m.list.InsertItem(len(items), taskRow{id: ev.TaskID, state: ev.State})
}
