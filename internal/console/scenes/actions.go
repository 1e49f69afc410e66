package scenes

import (
	"fmt"
	"strings"
	"time"

	"github.com/srihari-976/W.A.R.N/internal/console/feed"
	"github.com/srihari-976/W.A.R.N/internal/console/styles"
	"github.com/srihari-976/W.A.R.N/internal/response"

	tea "github.com/charmbracelet/bubbletea"
)

// ActionsScene displays the registered action catalog. The registry only
// changes when rule files are reloaded, so this scene refreshes slowly.
type ActionsScene struct {
	source     *feed.Source
	defs       []response.Definition
	width      int
	height     int
	maxRows    int
	loading    bool
	lastUpdate time.Time
}

// actionsMsg carries a refreshed action catalog.
type actionsMsg struct {
	defs []response.Definition
}

// NewActionsScene creates a new actions scene.
func NewActionsScene(source *feed.Source) *ActionsScene {
	return &ActionsScene{
		source:  source,
		loading: true,
		maxRows: 20,
	}
}

// Init fetches the initial catalog.
func (a *ActionsScene) Init() tea.Cmd {
	return a.fetchActions()
}

func (a *ActionsScene) fetchActions() tea.Cmd {
	return func() tea.Msg {
		return actionsMsg{defs: a.source.Actions()}
	}
}

// TickCmd schedules the next refresh for the active scene.
func (a *ActionsScene) TickCmd() tea.Cmd {
	return tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "actions", Time: t}
	})
}

// Update handles messages for the actions scene.
func (a *ActionsScene) Update(msg tea.Msg) (*ActionsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.maxRows = max(5, a.height-10)
		return a, nil

	case actionsMsg:
		a.loading = false
		a.defs = msg.defs
		a.lastUpdate = time.Now()
		return a, nil

	case TickMsg:
		if msg.Scene == "actions" {
			return a, a.fetchActions()
		}
		return a, nil
	}

	return a, nil
}

// View renders the action catalog.
func (a *ActionsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Action Catalog"))
	b.WriteString("\n\n")

	if a.loading && len(a.defs) == 0 {
		b.WriteString(styles.Muted.Render("  Loading actions..."))
		return b.String()
	}

	if len(a.defs) == 0 {
		b.WriteString(styles.Muted.Render("  No actions registered."))
		return b.String()
	}

	b.WriteString(styles.Subtitle.Render(fmt.Sprintf("  %d registered actions", len(a.defs))))
	b.WriteString("\n\n")

	header := fmt.Sprintf("  %-26s %-10s %-9s %-30s %s",
		"Name", "Priority", "Timeout", "Required Params", "Description")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	shown := a.defs
	if len(shown) > a.maxRows {
		shown = shown[:a.maxRows]
	}
	for _, def := range shown {
		b.WriteString(a.renderDefinition(def))
		b.WriteString("\n")
	}
	if len(a.defs) > a.maxRows {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  ... and %d more", len(a.defs)-a.maxRows)))
		b.WriteString("\n")
	}

	if !a.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  Updated: %s", a.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (a *ActionsScene) renderDefinition(def response.Definition) string {
	params := strings.Join(def.RequiredParams, ",")
	if params == "" {
		params = "-"
	}

	return fmt.Sprintf("  %-26s %s %-9s %-30s %s",
		truncate(def.Name, 26),
		formatPriority(def.Priority),
		def.Timeout.Truncate(time.Second).String(),
		truncate(params, 30),
		truncate(def.Description, 40))
}

func formatPriority(p response.Priority) string {
	width := 10
	style := styles.TableRow

	switch p {
	case response.PriorityCritical:
		style = styles.StatusError
	case response.PriorityHigh:
		style = styles.StatusWarning
	case response.PriorityMedium:
		style = styles.StatusOK
	case response.PriorityLow:
		style = styles.Muted
	}

	return style.Render(fmt.Sprintf("%-*s", width, p.String()))
}
