package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"pokedex-ai/internal/adapter/tui/theme"
	"pokedex-ai/internal/domain"
)

// MessageRole identifies who a displayed message belongs to. Transcript
// messages carry user or assistant; system and error lines are local to the
// TUI.
type MessageRole string

const (
	RoleUser      MessageRole = domain.RoleUser
	RoleAssistant MessageRole = domain.RoleAssistant
	RoleSystem    MessageRole = "system"
	RoleError     MessageRole = "error"
)

// ChatMessage is one rendered entry in the chat history.
type ChatMessage struct {
	ID        string // transcript ID; empty for local lines
	Role      MessageRole
	Content   string
	Final     bool
	Rendered  string // cached glamour output, empty = stale
	Timestamp time.Time
}

// FromDomain converts a transcript message.
func FromDomain(msg domain.Message) ChatMessage {
	return ChatMessage{
		ID:        msg.ID,
		Role:      MessageRole(msg.Role),
		Content:   msg.Content,
		Final:     msg.Final,
		Timestamp: msg.Timestamp,
	}
}

// MessageListModel is the ordered chat history. Transcript messages are
// addressed by ID so streamed growth updates an entry in place.
type MessageListModel struct {
	Messages    []ChatMessage
	MaxMessages int // 0 = unlimited
	trimmed     int
	width       int
	mdRenderer  *glamour.TermRenderer
}

// NewMessageList creates an empty message list.
func NewMessageList() MessageListModel {
	return MessageListModel{}
}

// SetWidth updates the rendering width and drops cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.mdRenderer = nil
	for i := range m.Messages {
		m.Messages[i].Rendered = ""
	}
}

// Upsert replaces the message with msg.ID, or appends msg when the ID is
// unknown or empty.
func (m *MessageListModel) Upsert(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.ID != "" {
		for i := len(m.Messages) - 1; i >= 0; i-- {
			if m.Messages[i].ID == msg.ID {
				m.Messages[i] = msg
				return
			}
		}
	}
	m.Messages = append(m.Messages, msg)
	if m.MaxMessages > 0 && len(m.Messages) > m.MaxMessages {
		excess := len(m.Messages) - m.MaxMessages
		m.Messages = m.Messages[excess:]
		m.trimmed += excess
	}
}

// Clear removes all messages.
func (m *MessageListModel) Clear() {
	m.Messages = nil
	m.trimmed = 0
}

// View renders all messages as a single string.
func (m *MessageListModel) View() string {
	if len(m.Messages) == 0 {
		return theme.TextMuted.Render("  Ask about any Pokémon, or type /help.")
	}

	width := ContentWidth(m.width)

	var sb strings.Builder
	if m.trimmed > 0 {
		sb.WriteString(theme.TextMuted.Render(fmt.Sprintf("  (%d older messages trimmed)", m.trimmed)) + "\n\n")
	}
	for i := range m.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(&m.Messages[i], width))
	}
	return sb.String()
}

func (m *MessageListModel) renderMessage(msg *ChatMessage, width int) string {
	header := roleLabel(msg.Role) + " " + theme.Timestamp.Render(RelativeTime(msg.Timestamp))

	var body string
	switch msg.Role {
	case RoleAssistant:
		// Partial markdown renders poorly; stream as plain text until final.
		if !msg.Final {
			body = indent(wrapText(msg.Content, width-2)) + theme.Cursor.Render(theme.SymbolStream)
			break
		}
		if msg.Rendered == "" {
			msg.Rendered = m.renderMarkdown(msg.Content, width)
		}
		body = strings.TrimRight(msg.Rendered, "\n")
	case RoleError:
		body = indent(theme.TextError.Render(wrapText(msg.Content, width-2)))
	default:
		body = indent(wrapText(msg.Content, width-2))
	}
	if strings.TrimSpace(body) == "" {
		return header
	}
	return header + "\n" + body
}

func roleLabel(role MessageRole) string {
	switch role {
	case RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case RoleAssistant:
		return theme.BotLabel.Render(theme.SymbolBot)
	case RoleSystem:
		return theme.SystemLabel.Render("System")
	case RoleError:
		return theme.ErrorLabel.Render(theme.SymbolError + " Error")
	default:
		return theme.TextMuted.Render(string(role))
	}
}

func (m *MessageListModel) renderMarkdown(content string, width int) string {
	if m.mdRenderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return indent(content)
		}
		m.mdRenderer = r
	}
	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		return indent(content)
	}
	return rendered
}

// RelativeTime returns a short human-readable age for t.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

// wrapText breaks s at spaces so no line exceeds width runes. Existing
// newlines are kept.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	paragraphs := strings.Split(s, "\n")
	for i, p := range paragraphs {
		paragraphs[i] = wrapLine([]rune(p), width)
	}
	return strings.Join(paragraphs, "\n")
}

func wrapLine(runes []rune, width int) string {
	var lines []string
	for len(runes) > width {
		cut := width
		for i := width - 1; i > 0; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		lines = append(lines, string(runes[:cut]))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	return strings.Join(append(lines, string(runes)), "\n")
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

// ContentWidth clamps a terminal width to a readable body width.
func ContentWidth(termWidth int) int {
	return min(max(termWidth-4, 40), theme.MaxContentWidth)
}

// Divider renders a horizontal rule.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", max(width, 0)))
}
