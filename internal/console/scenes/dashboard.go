// Package scenes provides the console scenes for the response engine.
package scenes

import (
	"fmt"
	"strings"
	"time"

	"github.com/srihari-976/W.A.R.N/internal/console/feed"
	"github.com/srihari-976/W.A.R.N/internal/console/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DashboardScene displays engine counters and integration health.
type DashboardScene struct {
	source     *feed.Source
	overview   feed.Overview
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

// overviewMsg carries a fresh dashboard snapshot.
type overviewMsg struct {
	overview feed.Overview
}

// NewDashboardScene creates a new dashboard scene.
func NewDashboardScene(source *feed.Source) *DashboardScene {
	return &DashboardScene{
		source:  source,
		loading: true,
	}
}

// Init fetches the initial snapshot.
func (d *DashboardScene) Init() tea.Cmd {
	return d.fetchOverview()
}

func (d *DashboardScene) fetchOverview() tea.Cmd {
	return func() tea.Msg {
		return overviewMsg{overview: d.source.Overview()}
	}
}

// TickCmd schedules the next refresh. The parent model issues it only for
// the active scene, so background scenes stay idle.
func (d *DashboardScene) TickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "dashboard", Time: t}
	})
}

// TickMsg is emitted by a scene's refresh ticker. Exported so the parent
// model can route it.
type TickMsg struct {
	Scene string
	Time  time.Time
}

// Update handles messages for the dashboard.
func (d *DashboardScene) Update(msg tea.Msg) (*DashboardScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		return d, nil

	case overviewMsg:
		d.loading = false
		d.overview = msg.overview
		d.lastUpdate = time.Now()
		return d, nil

	case TickMsg:
		// Ticks addressed to other scenes are ignored.
		if msg.Scene == "dashboard" {
			return d, d.fetchOverview()
		}
		return d, nil
	}

	return d, nil
}

// View renders the dashboard.
func (d *DashboardScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  W.A.R.N Response Engine"))
	b.WriteString("\n\n")

	if d.loading {
		b.WriteString(styles.Muted.Render("  Loading..."))
		return b.String()
	}

	o := d.overview

	var statusText string
	if o.Running {
		statusText = styles.StatusOK.Render("● RUNNING")
	} else {
		statusText = styles.StatusError.Render("● STOPPED")
	}
	b.WriteString(fmt.Sprintf("  Engine: %s   Uptime: %s   Actions registered: %d\n\n",
		statusText, formatDuration(o.Uptime), o.Actions))

	cards := []string{
		d.renderMetricCard("Queue", fmt.Sprintf("%d/%d", o.QueueDepth, o.QueueCapacity)),
		d.renderMetricCard("Active", fmt.Sprintf("%d", o.Active)),
		d.renderMetricCard("Completed", formatNumber(o.Completed)),
		d.renderMetricCard("Failed", formatNumber(o.Failed)),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	b.WriteString("\n\n")

	b.WriteString(styles.Subtitle.Render("  Scheduler"))
	b.WriteString("\n")
	b.WriteString(d.renderScheduler())
	b.WriteString("\n\n")

	b.WriteString(styles.Subtitle.Render("  Integrations"))
	b.WriteString("\n")
	b.WriteString(d.renderIntegrations())
	b.WriteString("\n\n")

	if !d.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Last updated: %s", d.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (d *DashboardScene) renderMetricCard(label, value string) string {
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.MutedColor).
		Padding(0, 1).
		Width(16).
		Align(lipgloss.Center)

	content := styles.MetricValue.Render(value) + "\n" + styles.MetricLabel.Render(label)
	return card.Render(content)
}

func (d *DashboardScene) renderScheduler() string {
	o := d.overview
	rows := []string{
		fmt.Sprintf("  Submitted: %-8s Pending: %-8d Timeouts: %s",
			formatNumber(o.Submitted), o.Pending, formatNumber(o.Timeouts)),
		fmt.Sprintf("  Cancelled: %-8s Skipped: %-8s Evicted:  %s",
			formatNumber(o.Cancelled), formatNumber(o.Skipped), formatNumber(o.Evicted)),
		fmt.Sprintf("  Dropped:   %-8s History: %d/%d",
			formatNumber(o.QueueDropped), o.HistoryLen, o.HistoryCap),
	}
	return strings.Join(rows, "\n")
}

func (d *DashboardScene) renderIntegrations() string {
	if len(d.overview.Integrations) == 0 {
		return styles.Muted.Render("  none configured")
	}

	var rows []string
	for _, ing := range d.overview.Integrations {
		dot := styles.Muted.Render("○")
		detail := styles.Muted.Render("disabled")
		if ing.Enabled {
			dot = styles.StatusOK.Render("●")
			detail = truncate(ing.Detail, 72)
		}
		rows = append(rows, fmt.Sprintf("  %s %-12s %s", dot, ing.Name, detail))
	}
	return strings.Join(rows, "\n")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatNumber(n uint64) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	if n >= 1000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}
