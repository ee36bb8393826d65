package tool

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"pokedex-ai/internal/domain"
)

func TestClassifyToolError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout sentinel", domain.ErrTimeout, true},
		{"provider sentinel wrapped", fmt.Errorf("pokeapi: %w", domain.ErrProviderError), true},
		{"rate limit domain error", domain.NewDomainError("PokeAPIClient.Get", domain.ErrRateLimit, "429"), true},
		{"not found", domain.ErrNotFound, false},
		{"invalid input", fmt.Errorf("decode: %w", domain.ErrInvalidInput), false},
		{"tool not found", domain.ErrToolNotFound, false},
		{"connection refused string", errors.New("dial tcp 127.0.0.1:80: connect: connection refused"), true},
		{"mixed case pattern", errors.New("Service Unavailable"), true},
		{"breaker open string", errors.New("circuit breaker is open"), true},
		{"plain failure", errors.New("unexpected end of JSON input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyToolError(tt.err))
		})
	}
}

func TestClassifyToolError_StatusErrors(t *testing.T) {
	assert.False(t, classifyToolError(&StatusError{URL: "u", StatusCode: 404}))
	assert.True(t, classifyToolError(&StatusError{URL: "u", StatusCode: 429}))
	assert.True(t, classifyToolError(&StatusError{URL: "u", StatusCode: 503}))
	assert.False(t, classifyToolError(&StatusError{URL: "u", StatusCode: 400}))
}

func FuzzClassifyToolError(f *testing.F) {
	f.Add("connection reset by peer")
	f.Add("")
	f.Add("TIMEOUT")
	f.Fuzz(func(t *testing.T, msg string) {
		// Must not panic, and wrapping a retryable sentinel always wins.
		classifyToolError(errors.New(msg))
		if !classifyToolError(fmt.Errorf("%s: %w", msg, domain.ErrTimeout)) {
			t.Fatalf("wrapped ErrTimeout not retryable for %q", msg)
		}
	})
}
