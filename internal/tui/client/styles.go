package client

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("212")
	accentColor  = lipgloss.Color("141")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("237")).
			Padding(0, 1)

	tabStyle       = lipgloss.NewStyle().Foreground(mutedColor).Padding(0, 1)
	activeTabStyle = lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Padding(0, 1)

	badgeStyle = lipgloss.NewStyle().Foreground(warningColor).Bold(true)

	selectedStyle = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	subtleStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	authorStyle   = lipgloss.NewStyle().Foreground(accentColor)
	likedStyle    = lipgloss.NewStyle().Foreground(errorColor)
	unreadStyle   = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	friendStyle   = lipgloss.NewStyle().Foreground(successColor)

	toastStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(accentColor).
			Padding(0, 1)

	errStyle = lipgloss.NewStyle().Foreground(errorColor)

	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)
	indicatorStyle = lipgloss.NewStyle().Foreground(accentColor)

	helpStyle = lipgloss.NewStyle().Foreground(mutedColor)
)
