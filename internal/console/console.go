// Package console renders an in-process terminal dashboard over the response
// engine. It reads engine state through the feed package on scene ticks and
// never blocks the scheduler.
package console

import (
	"fmt"
	"strings"

	"github.com/srihari-976/W.A.R.N/internal/console/feed"
	"github.com/srihari-976/W.A.R.N/internal/console/scenes"
	"github.com/srihari-976/W.A.R.N/internal/console/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Scene identifies the visible view.
type Scene int

const (
	SceneDashboard Scene = iota
	SceneResponses
	SceneActions
)

// Model is the root console model. Only the active scene receives ticks.
type Model struct {
	source *feed.Source

	scene Scene

	dashboard *scenes.DashboardScene
	responses *scenes.ResponsesScene
	actions   *scenes.ActionsScene

	width  int
	height int

	quitting bool
}

// New creates a console model over the given data source.
func New(source *feed.Source) *Model {
	return &Model{
		source:    source,
		scene:     SceneDashboard,
		dashboard: scenes.NewDashboardScene(source),
		responses: scenes.NewResponsesScene(source),
		actions:   scenes.NewActionsScene(source),
	}
}

// Init starts the initial scene fetch and its ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.activeTickCmd(),
	)
}

// activeTickCmd returns the ticker for the active scene only. Inactive
// scenes must not keep polling the engine.
func (m *Model) activeTickCmd() tea.Cmd {
	switch m.scene {
	case SceneDashboard:
		return m.dashboard.TickCmd()
	case SceneResponses:
		return m.responses.TickCmd()
	case SceneActions:
		return m.actions.TickCmd()
	default:
		return nil
	}
}

// Update handles all messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "1":
			if m.scene != SceneDashboard {
				m.scene = SceneDashboard
				cmds = append(cmds, m.dashboard.Init(), m.dashboard.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "2":
			if m.scene != SceneResponses {
				m.scene = SceneResponses
				cmds = append(cmds, m.responses.Init(), m.responses.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "3":
			if m.scene != SceneActions {
				m.scene = SceneActions
				cmds = append(cmds, m.actions.Init(), m.actions.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "tab":
			m.scene = (m.scene + 1) % 3
			cmds = append(cmds, m.activeTickCmd())
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard, _ = m.dashboard.Update(msg)
		m.responses, _ = m.responses.Update(msg)
		m.actions, _ = m.actions.Update(msg)
		return m, nil

	case scenes.TickMsg:
		// Ticks go to the active scene, which reschedules itself.
		var cmd tea.Cmd
		switch m.scene {
		case SceneDashboard:
			m.dashboard, cmd = m.dashboard.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.dashboard.TickCmd())
		case SceneResponses:
			m.responses, cmd = m.responses.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.responses.TickCmd())
		case SceneActions:
			m.actions, cmd = m.actions.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.actions.TickCmd())
		}
		return m, tea.Batch(cmds...)
	}

	// Everything else goes to the active scene.
	var cmd tea.Cmd
	switch m.scene {
	case SceneDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case SceneResponses:
		m.responses, cmd = m.responses.Update(msg)
	case SceneActions:
		m.actions, cmd = m.actions.Update(msg)
	}

	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the active scene between the tab bar and the help footer.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.scene {
	case SceneDashboard:
		b.WriteString(m.dashboard.View())
	case SceneResponses:
		b.WriteString(m.responses.View())
	case SceneActions:
		b.WriteString(m.actions.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderHeader() string {
	tabs := []struct {
		name  string
		key   string
		scene Scene
	}{
		{"Dashboard", "1", SceneDashboard},
		{"Responses", "2", SceneResponses},
		{"Actions", "3", SceneActions},
	}

	var tabViews []string
	for _, tab := range tabs {
		label := fmt.Sprintf(" %s %s ", tab.key, tab.name)
		if tab.scene == m.scene {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}

	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabViews...)

	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.MutedColor).
		Width(m.width).
		Render(tabBar)
}

func (m *Model) renderFooter() string {
	help := " [1-3] Switch tabs  [Tab] Next tab  [↑↓/jk] Navigate  [q] Quit "
	return styles.Help.Render(help)
}

// Run blocks on the console until the user quits.
func Run(source *feed.Source) error {
	m := New(source)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
