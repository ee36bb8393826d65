package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const toolsTimeout = 10 * time.Second

// sendCmd runs one Send in the background. Transcript updates arrive as
// TranscriptMsg while it runs.
func sendCmd(ctx context.Context, c Conversation, text string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		return SendDoneMsg{Err: c.Send(ctx, text), Gen: gen}
	}
}

func toolsCmd(c Conversation) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), toolsTimeout)
		defer cancel()
		tools, err := c.Tools(ctx)
		return ToolsMsg{Tools: tools, Err: err}
	}
}
