package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6B7280")
	colorError   = lipgloss.Color("#EF4444")
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#D1D5DB"))
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(colorPrimary)
	errorStyle    = lipgloss.NewStyle().Foreground(colorError)

	dialogStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorError).Padding(1, 3)

	tabStyle      = lipgloss.NewStyle().Padding(0, 2)
	activeTab     = tabStyle.Bold(true).Foreground(colorPrimary)
	inactiveTab   = tabStyle.Foreground(colorMuted)
	statusBarBase = lipgloss.NewStyle().Foreground(lipgloss.Color("#D1D5DB")).Background(lipgloss.Color("#1F2937"))
)
