package watch

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

// KeyMap holds the dashboard's key bindings.
type KeyMap struct {
	Quit      key.Binding
	Reconnect key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reconnect"),
		),
	}
}

// helpLine renders "key action" pairs for the footer.
func (k KeyMap) helpLine() string {
	var parts []string
	for _, b := range []key.Binding{k.Reconnect, k.Quit} {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}
