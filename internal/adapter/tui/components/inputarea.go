package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"pokedex-ai/internal/adapter/tui/theme"
)

// InputSubmitMsg carries a submitted, trimmed, non-empty line.
type InputSubmitMsg struct {
	Value string
}

// InputAreaModel is the single-line prompt at the bottom of the chat.
type InputAreaModel struct {
	Input   textinput.Model
	Enabled bool
}

// NewInputArea creates a focused prompt.
func NewInputArea() InputAreaModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about a Pokémon or a team..."
	ti.Prompt = "> "
	ti.PromptStyle = theme.InputPrompt
	ti.PlaceholderStyle = theme.InputPlaceholder
	ti.CharLimit = 2000
	ti.Focus()
	return InputAreaModel{Input: ti, Enabled: true}
}

// SetWidth updates the prompt width.
func (m *InputAreaModel) SetWidth(w int) {
	m.Input.Width = max(w-4, 10)
}

// SetEnabled focuses or blurs the prompt.
func (m *InputAreaModel) SetEnabled(enabled bool) {
	m.Enabled = enabled
	if enabled {
		m.Input.Focus()
	} else {
		m.Input.Blur()
	}
}

// ParseSlashCommand splits "/cmd a b" into ("/cmd", [a b]).
func ParseSlashCommand(input string) (cmd string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	parts := strings.Fields(input)
	return strings.ToLower(parts[0]), parts[1:], true
}

// Update handles key events. Enter submits non-blank input.
func (m InputAreaModel) Update(msg tea.Msg) (InputAreaModel, tea.Cmd) {
	if !m.Enabled {
		return m, nil
	}
	if _, ok := msg.(tea.MouseMsg); ok {
		return m, nil
	}
	if key, ok := msg.(tea.KeyMsg); ok && key.Type == tea.KeyEnter {
		value := strings.TrimSpace(m.Input.Value())
		if value == "" {
			return m, nil
		}
		m.Input.Reset()
		return m, func() tea.Msg { return InputSubmitMsg{Value: value} }
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	return m, cmd
}

// View renders the prompt.
func (m InputAreaModel) View() string {
	return m.Input.View()
}
