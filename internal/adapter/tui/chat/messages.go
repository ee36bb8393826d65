// Package chat is the Bubble Tea front end of the Pokédex chat client.
package chat

import "pokedex-ai/internal/domain"

// TranscriptMsg carries a transcript message that was added or grew.
type TranscriptMsg struct {
	Message domain.Message
}

// SendDoneMsg reports that a Send call returned. Gen identifies the request
// so completions of cancelled requests are dropped.
type SendDoneMsg struct {
	Err error
	Gen uint64
}

// ToolsMsg carries the result of a catalog fetch.
type ToolsMsg struct {
	Tools []domain.ToolSchema
	Err   error
}

// QuitMsg asks the program to exit.
type QuitMsg struct{}
