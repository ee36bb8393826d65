package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pokedex-ai/internal/domain"
)

// FailoverSource opens a stream on the primary source and, if that fails,
// on each fallback in order. Once a stream is open it is never switched.
type FailoverSource struct {
	primary   domain.ModelEventSource
	fallbacks []domain.ModelEventSource
	logger    *slog.Logger
}

// NewFailoverSource creates a failover-capable source.
func NewFailoverSource(primary domain.ModelEventSource, fallbacks []domain.ModelEventSource, logger *slog.Logger) *FailoverSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverSource{primary: primary, fallbacks: fallbacks, logger: logger}
}

// Stream tries the primary source first, then each fallback on failure.
func (f *FailoverSource) Stream(ctx context.Context, req domain.ChatRequest) (domain.ModelStream, error) {
	stream, err := f.primary.Stream(ctx, req)
	if err == nil {
		return stream, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.logger.Warn("primary model source failed, trying fallbacks",
		"primary", f.primary.Name(), "error", err)

	errs := []error{fmt.Errorf("%s: %w", f.primary.Name(), err)}
	for _, fb := range f.fallbacks {
		stream, err = fb.Stream(ctx, req)
		if err == nil {
			f.logger.Info("failover succeeded", "source", fb.Name())
			return stream, nil
		}
		f.logger.Warn("fallback model source failed", "source", fb.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", fb.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}

	return nil, &FailoverError{Errs: errs}
}

// FailoverError aggregates the open failure of every source tried.
type FailoverError struct {
	Errs []error
}

func (e *FailoverError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return "all model sources failed: [" + strings.Join(msgs, "; ") + "]"
}

func (e *FailoverError) Unwrap() []error { return e.Errs }

// Name returns a composite name.
func (f *FailoverSource) Name() string {
	return f.primary.Name() + "+failover"
}

var _ domain.ModelEventSource = (*FailoverSource)(nil)
