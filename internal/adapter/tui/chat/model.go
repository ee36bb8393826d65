package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pokedex-ai/internal/adapter/tui/components"
	"pokedex-ai/internal/adapter/tui/theme"
	"pokedex-ai/internal/adapter/tui/uxerror"
	"pokedex-ai/internal/domain"
)

// Conversation is the chat client the model drives.
type Conversation interface {
	Send(ctx context.Context, input string) error
	Tools(ctx context.Context) ([]domain.ToolSchema, error)
}

// ModelDeps are dependencies injected into the chat model.
type ModelDeps struct {
	Client Conversation
	Logger *slog.Logger
	Server string // shown in the status bar
}

// Model is the root Bubble Tea model of the chat TUI.
type Model struct {
	deps ModelDeps

	chatView  components.ChatViewModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	spinner   spinner.Model

	waiting  bool
	width    int
	height   int
	quitting bool

	// gen increases on every request and on cancel; a SendDoneMsg with an
	// older gen is stale.
	gen      uint64
	cancelFn context.CancelFunc
}

// NewModel creates the root chat model.
func NewModel(deps ModelDeps) Model {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorAccent)

	sb := components.NewStatusBar()
	sb.Server = deps.Server
	sb.Hints = defaultHints()

	cv := components.NewChatView()
	cv.Messages.MaxMessages = 500

	return Model{
		deps:      deps,
		chatView:  cv,
		input:     components.NewInputArea(),
		statusBar: sb,
		spinner:   s,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case TranscriptMsg:
		m.chatView.Upsert(components.FromDomain(msg.Message))
		if m.waiting && msg.Message.Role == domain.RoleAssistant && !msg.Message.Final {
			m.statusBar.Extra = "Answering..."
		}
		return m, nil

	case SendDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.finishRequest()
		if msg.Err != nil && !errors.Is(msg.Err, context.Canceled) {
			m.deps.Logger.Debug("chat: send failed", "error", msg.Err)
			m.chatView.Upsert(components.ChatMessage{
				Role:    components.RoleError,
				Content: uxerror.Humanize(msg.Err).Render(),
			})
		}
		return m, nil

	case ToolsMsg:
		m.chatView.Upsert(toolsMessage(msg))
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.waiting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the whole screen.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye, trainer!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = theme.Dim.Render("> waiting for the Pokédex...") + "\n" +
			m.spinner.View() + " " + m.statusBar.Extra
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.chatView.View(),
		components.Divider(m.width),
		inputView,
		m.statusBar.View(),
	)
}

func (m *Model) layout() {
	const inputH, statusH, dividerH = 2, 1, 1
	contentH := max(m.height-inputH-statusH-dividerH, 5)

	m.statusBar.SetWidth(m.width)
	m.chatView.SetSize(m.width, contentH)
	m.input.SetWidth(m.width)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			m.cancelRequest()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlL:
		return m.handleSlashCommand("/clear")

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, _, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd)
	}

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel
	m.waiting = true
	m.input.SetEnabled(false)
	m.statusBar.Extra = theme.SymbolSpinner + " Thinking..."
	m.statusBar.Hints = []components.KeyHint{{Key: "Ctrl+C", Desc: "Cancel"}}

	// The user message itself arrives through the transcript.
	return m, sendCmd(ctx, m.deps.Client, value, m.gen)
}

func (m Model) handleSlashCommand(cmd string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.system(`Ask anything about Pokémon, for example:
  tell me about pikachu
  analyze my team: charizard, blastoise, venusaur

Commands:
  /tools   - List the tools the assistant can call
  /clear   - Clear the screen
  /quit    - Exit

Keys:
  Enter      - Send
  Ctrl+C     - Cancel reply / quit
  Ctrl+L     - Clear
  PgUp/PgDn  - Scroll`)
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/clear":
		m.chatView.Clear()
		return m, nil

	case "/tools":
		return m, toolsCmd(m.deps.Client)

	default:
		m.system(fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd))
		return m, nil
	}
}

// cancelRequest aborts the in-flight Send. Its SendDoneMsg becomes stale.
func (m *Model) cancelRequest() {
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.gen++
	m.finishRequest()
	m.system("Request cancelled.")
}

func (m *Model) finishRequest() {
	m.cancelFn = nil
	m.waiting = false
	m.input.SetEnabled(true)
	m.statusBar.Extra = ""
	m.statusBar.Hints = defaultHints()
}

func (m *Model) system(content string) {
	m.chatView.Upsert(components.ChatMessage{Role: components.RoleSystem, Content: content})
}

func toolsMessage(msg ToolsMsg) components.ChatMessage {
	if msg.Err != nil {
		return components.ChatMessage{
			Role:    components.RoleError,
			Content: uxerror.Humanize(msg.Err).Render(),
		}
	}
	if len(msg.Tools) == 0 {
		return components.ChatMessage{Role: components.RoleSystem, Content: "The server offers no tools."}
	}
	var sb strings.Builder
	sb.WriteString("Available tools:")
	for _, t := range msg.Tools {
		fmt.Fprintf(&sb, "\n%s %s: %s", theme.SymbolBullet, t.Name, t.Description)
	}
	return components.ChatMessage{Role: components.RoleSystem, Content: sb.String()}
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "/help", Desc: "Help"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}
