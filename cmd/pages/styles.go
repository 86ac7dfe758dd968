package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Schwaller/tradery/internal/types"
)

// Style definitions.
var (
	// TitleStyle for headers.
	TitleStyle = lipgloss.NewStyle().Bold(true)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().Faint(true)

	// ErrorStyle for error messages.
	ErrorStyle = lipgloss.NewStyle().Bold(true)

	readyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	loadingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// FormatState renders a page state with a state-dependent color.
func FormatState(state types.PageState) string {
	switch state {
	case types.PageStateReady:
		return readyStyle.Render(string(state))
	case types.PageStateLoading, types.PageStateUpdating:
		return loadingStyle.Render(string(state))
	case types.PageStateError:
		return errStyle.Render(string(state))
	default:
		return string(state)
	}
}
