// Package tui implements the `faastr top` live context-table dashboard,
// grounded on dsmmcken-dh-cli's internal/tui (styles.go's AdaptiveColor
// palette, keymap.go's key.Binding groups, screens/mainmenu.go's model
// shape) using bubbletea/bubbles/lipgloss.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#2F71F2", Dark: "#4A90FF"}
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#FF4672"}
	ColorDim     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"}

	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true).
			MarginBottom(1)

	StyleHeader = lipgloss.NewStyle().Foreground(ColorDim).Bold(true)
	StyleDim    = lipgloss.NewStyle().Foreground(ColorDim)

	StyleRunning = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleBlocked = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleExited  = lipgloss.NewStyle().Foreground(ColorDim)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError)

	StyleHelpBar = lipgloss.NewStyle().Foreground(ColorDim)
)

// statusStyle picks the row style for a context's status string.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "Running", "Runnable":
		return StyleRunning
	case "Blocked":
		return StyleBlocked
	case "Exited", "Stopped":
		return StyleExited
	default:
		return StyleDim
	}
}
