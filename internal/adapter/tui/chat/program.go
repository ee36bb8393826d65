package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"pokedex-ai/internal/domain"
)

// Source is the transcript the program renders.
type Source interface {
	OnUpdate(fn func(domain.Message))
}

// Run shows the chat TUI until the user quits or ctx is cancelled.
func Run(ctx context.Context, transcript Source, deps ModelDeps, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion()}, opts...)
	p := tea.NewProgram(NewModel(deps), opts...)

	// Transcript callbacks run on the client's goroutine; p.Send hands them
	// to the update loop.
	transcript.OnUpdate(func(msg domain.Message) {
		p.Send(TranscriptMsg{Message: msg})
	})
	defer transcript.OnUpdate(nil)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Send(QuitMsg{})
		case <-done:
		}
	}()

	_, err := p.Run()
	return err
}
