package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pokedex-ai/internal/adapter/tui/theme"
)

// KeyHint is one keybinding shown in the status bar.
type KeyHint struct {
	Key  string
	Desc string
}

// StatusBarModel renders hints on the left and the server address plus any
// transient status on the right.
type StatusBarModel struct {
	Hints  []KeyHint
	Server string
	Extra  string // e.g. "Thinking..."
	width  int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the bar as a single line.
func (m StatusBarModel) View() string {
	hints := make([]string, 0, len(m.Hints))
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var right []string
	if m.Extra != "" {
		right = append(right, theme.TextInfo.Render(m.Extra))
	}
	if m.Server != "" {
		right = append(right, theme.TextMuted.Render(m.Server))
	}
	r := strings.Join(right, "  ")

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(r)-2, 1)
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + r)
}
