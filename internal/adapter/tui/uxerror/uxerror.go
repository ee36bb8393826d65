// Package uxerror turns client errors into short explanations with recovery
// hints for the chat TUI.
package uxerror

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"pokedex-ai/internal/adapter/chatclient"
	"pokedex-ai/internal/adapter/tui/theme"
	"pokedex-ai/internal/domain"
)

// FriendlyError is a user-facing error with recovery suggestions.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Raw     string
}

// Render formats the error for the message list.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n")
		sb.WriteString(fe.Message)
	}
	for _, h := range fe.Hints {
		fmt.Fprintf(&sb, "\n%s %s", theme.SymbolBullet, h)
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	{
		match:   is(chatclient.ErrBusy),
		produce: constant("Still Answering", "The previous question is still streaming.", []string{"Wait for the reply to finish", "Press Ctrl+C to cancel it"}),
	},
	{
		match:   is(domain.ErrEmptyMessage),
		produce: constant("Empty Message", "There was nothing to send.", nil),
	},
	{
		match:   is(io.ErrUnexpectedEOF),
		produce: constant("Reply Cut Off", "The server closed the stream before the reply finished.", []string{"Ask again", "Check the server logs"}),
	},
	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constant("Server Unreachable", "Could not reach the Pokédex server.", []string{"Start it with 'pokedex serve'", "Check client.server_url in config"}),
	},
	{
		match:   containsAny("server returned 429", "rate limit", "too many requests"),
		produce: constant("Rate Limited", "The server is throttling requests.", []string{"Wait a moment before retrying"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout"),
		produce: constant("Request Timed Out", "The server took too long to respond.", []string{"Try again", "Check the server's upstream timeouts"}),
	},
	{
		match:   containsAny("server returned 5"),
		produce: constant("Server Error", "The server failed to handle the message.", []string{"Try again", "Check the server logs"}),
	},
}

// Humanize maps err to a FriendlyError.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with --verbose for more details"},
		Raw:     err.Error(),
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny matches any of substrs in the error text, case-insensitively.
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constant(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{Title: title, Message: message, Hints: hints, Raw: err.Error()}
	}
}
