package scenes

import (
	"fmt"
	"strings"
	"time"

	"github.com/srihari-976/W.A.R.N/internal/console/feed"
	"github.com/srihari-976/W.A.R.N/internal/console/styles"
	"github.com/srihari-976/W.A.R.N/internal/response"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ResponsesScene displays in-flight, queued, and recently finished response
// instances as a scrollable table.
type ResponsesScene struct {
	source     *feed.Source
	rows       []*response.Instance
	width      int
	height     int
	cursor     int
	offset     int
	loading    bool
	maxRows    int
	lastUpdate time.Time
}

// responsesMsg carries a refreshed instance list.
type responsesMsg struct {
	rows []*response.Instance
}

// NewResponsesScene creates a new responses scene.
func NewResponsesScene(source *feed.Source) *ResponsesScene {
	return &ResponsesScene{
		source:  source,
		loading: true,
		maxRows: 10,
	}
}

// Init fetches the initial instance list.
func (r *ResponsesScene) Init() tea.Cmd {
	return r.fetchResponses()
}

func (r *ResponsesScene) fetchResponses() tea.Cmd {
	return func() tea.Msg {
		return responsesMsg{rows: r.source.Recent(feed.DefaultRecentLimit)}
	}
}

// TickCmd schedules the next refresh for the active scene.
func (r *ResponsesScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "responses", Time: t}
	})
}

// Update handles messages for the responses scene.
func (r *ResponsesScene) Update(msg tea.Msg) (*ResponsesScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		r.width = msg.Width
		r.height = msg.Height
		r.maxRows = max(5, r.height-12)
		return r, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if r.cursor > 0 {
				r.cursor--
				if r.cursor < r.offset {
					r.offset = r.cursor
				}
			}
		case "down", "j":
			if r.cursor < len(r.rows)-1 {
				r.cursor++
				if r.cursor >= r.offset+r.maxRows {
					r.offset = r.cursor - r.maxRows + 1
				}
			}
		case "pgup":
			r.cursor = max(0, r.cursor-r.maxRows)
			r.offset = max(0, r.offset-r.maxRows)
		case "pgdown":
			r.cursor = min(len(r.rows)-1, r.cursor+r.maxRows)
			r.offset = min(max(0, len(r.rows)-r.maxRows), r.offset+r.maxRows)
		case "r":
			r.loading = true
			return r, r.fetchResponses()
		}
		return r, nil

	case responsesMsg:
		r.loading = false
		r.rows = msg.rows
		r.lastUpdate = time.Now()
		if r.cursor >= len(r.rows) {
			r.cursor = max(0, len(r.rows)-1)
		}
		return r, nil

	case TickMsg:
		if msg.Scene == "responses" {
			return r, r.fetchResponses()
		}
		return r, nil
	}

	return r, nil
}

// View renders the responses table.
func (r *ResponsesScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Responses"))
	b.WriteString("\n\n")

	if r.loading && len(r.rows) == 0 {
		b.WriteString(styles.Muted.Render("  Loading responses..."))
		return b.String()
	}

	if len(r.rows) == 0 {
		b.WriteString(styles.Muted.Render("  No responses yet."))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Responses appear here once alerts are orchestrated or actions are submitted."))
		return b.String()
	}

	countText := fmt.Sprintf("  Showing %d responses", len(r.rows))
	b.WriteString(styles.Subtitle.Render(countText))
	if r.loading {
		b.WriteString(styles.Muted.Render("  (refreshing...)"))
	}
	b.WriteString("\n\n")

	header := fmt.Sprintf("  %-10s %-12s %-10s %-26s %-12s %s",
		"Time", "Status", "Priority", "Action", "Alert", "Note")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(r.offset+r.maxRows, len(r.rows))
	for i, inst := range r.rows[r.offset:endIdx] {
		idx := r.offset + i
		b.WriteString(r.renderRow(inst, idx == r.cursor))
		b.WriteString("\n")
	}

	if len(r.rows) > r.maxRows {
		scrollInfo := fmt.Sprintf("\n  %d-%d of %d (↑↓ to scroll, [r] refresh)",
			r.offset+1, endIdx, len(r.rows))
		b.WriteString(styles.Muted.Render(scrollInfo))
	} else {
		b.WriteString(styles.Muted.Render("\n  [r] Refresh"))
	}

	if !r.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", r.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (r *ResponsesScene) renderRow(inst *response.Instance, selected bool) string {
	ts := inst.CreatedAt.Format("15:04:05")
	action := truncate(inst.Action, 26)
	alert := truncate(inst.AlertID, 12)
	if alert == "" {
		alert = "-"
	}

	note := ""
	switch inst.Status {
	case response.StatusFailed:
		note = truncate(inst.Error, 40)
	case response.StatusCompleted:
		note = truncate(fmt.Sprintf("%v", inst.Duration().Truncate(time.Millisecond)), 40)
	}

	row := fmt.Sprintf("  %-10s %s %-10s %-26s %-12s %s",
		ts, formatStatus(inst.Status), inst.Priority.String(), action, alert, note)

	if selected {
		return styles.TableRowSelected.Render(row)
	}
	return row
}

func formatStatus(s response.Status) string {
	width := 12
	var style lipgloss.Style

	switch s {
	case response.StatusCompleted:
		style = styles.StatusOK
	case response.StatusFailed:
		style = styles.StatusError
	case response.StatusInProgress:
		style = styles.StatusWarning
	case response.StatusCancelled:
		style = styles.Muted
	default:
		style = styles.TableRow
	}

	padded := fmt.Sprintf("%-*s", width, string(s))
	return style.Render(padded)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
