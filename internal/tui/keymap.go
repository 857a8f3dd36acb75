package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap is a key.Binding group, grounded on the teacher's NavigationKeyMap
// shape. The dashboard Model does not use it: Model binds dashboardKeyMap
// (dashboard.go), which has no Cast binding, so nothing handles "c".
type KeyMap struct {
	Up   key.Binding
	Down key.Binding
	Cast key.Binding
	Help key.Binding
	Quit key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Cast: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "cast selected function"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "more"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
