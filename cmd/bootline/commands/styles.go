package commands

import "github.com/charmbracelet/lipgloss"

const (
	PRIMARY_COLOR   = "#B8BABA"
	SECONDARY_COLOR = "#626262"
	ERROR_COLOR     = "#CC0000"
	WARNING_COLOR   = "#FF7900"
	CHECK_COLOR     = "#34B233"
)

var baseStyle = lipgloss.NewStyle()
var InfoStyle = baseStyle.Copy().Foreground(lipgloss.Color(PRIMARY_COLOR)).Render
var HelpStyle = baseStyle.Copy().Foreground(lipgloss.Color(SECONDARY_COLOR)).Render
var ErrorText = baseStyle.Copy().Foreground(lipgloss.Color(ERROR_COLOR)).Render
var WarningText = baseStyle.Copy().Foreground(lipgloss.Color(WARNING_COLOR)).Render
var CheckText = baseStyle.Copy().Foreground(lipgloss.Color(CHECK_COLOR)).Render
