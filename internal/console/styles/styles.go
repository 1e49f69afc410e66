// Package styles defines the shared lipgloss palette for the console.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Primary    = lipgloss.Color("#38BDF8")
	Good       = lipgloss.Color("#34D399")
	Warn       = lipgloss.Color("#FBBF24")
	Bad        = lipgloss.Color("#F87171")
	MutedColor = lipgloss.Color("#71717A")
	White      = lipgloss.Color("#F4F4F5")
	Dark       = lipgloss.Color("#0C1220")

	// Muted text style
	Muted = lipgloss.NewStyle().Foreground(MutedColor)

	// Base styles
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	// Status styles
	StatusOK = lipgloss.NewStyle().
			Foreground(Good).
			Bold(true)

	StatusWarning = lipgloss.NewStyle().
			Foreground(Warn).
			Bold(true)

	StatusError = lipgloss.NewStyle().
			Foreground(Bad).
			Bold(true)

	// Tab styles
	TabActive = lipgloss.NewStyle().
			Foreground(Dark).
			Background(Primary).
			Padding(0, 2).
			Bold(true)

	TabInactive = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 2)

	// Help text
	Help = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	// Table styles
	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(MutedColor)

	TableRow = lipgloss.NewStyle().
			Foreground(White)

	TableRowSelected = lipgloss.NewStyle().
				Foreground(White).
				Background(lipgloss.Color("#1E3A5F"))

	// Metric card
	MetricValue = lipgloss.NewStyle().
			Bold(true).
			Foreground(Good)

	MetricLabel = lipgloss.NewStyle().
			Foreground(MutedColor)
)
