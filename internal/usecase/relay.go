package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/tracer"
)

const defaultMaxTokens = 1000

// RelayDeps holds injected dependencies for the relay.
type RelayDeps struct {
	Source       domain.ModelEventSource
	Tools        domain.ToolExecutor
	Logger       *slog.Logger
	SystemPrompt string
	Model        string // empty = source default
	MaxTokens    int
	PaceDelay    time.Duration // between synthesized display units, 0 = none
	OpenTimeout  time.Duration // 0 = unbounded
	IdleTimeout  time.Duration // 0 = unbounded
}

// Relay turns one user message into a wire stream: model text is forwarded
// as it arrives and tool invocations are executed inline, their results
// re-emitted word by word.
type Relay struct {
	deps RelayDeps
}

// NewRelay creates a relay with the given dependencies.
func NewRelay(deps RelayDeps) *Relay {
	if deps.MaxTokens <= 0 {
		deps.MaxTokens = defaultMaxTokens
	}
	if deps.PaceDelay < 0 {
		deps.PaceDelay = 0
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Relay{deps: deps}
}

// relayRun is the state of a single Run call.
type relayRun struct {
	relay   *Relay
	machine *relayMachine
	out     domain.WireSink
	logger  *slog.Logger
	tools   int
}

// Run streams the answer to userMsg into out and always ends the stream with
// the end sentinel unless the client itself went away. Upstream failures are
// reported in-band and also returned.
func (r *Relay) Run(ctx context.Context, userMsg string, out domain.WireSink) error {
	ctx, span := tracer.StartSpan(ctx, "relay.run",
		trace.WithAttributes(tracer.StringAttr("llm.source", r.deps.Source.Name())),
	)
	defer span.End()

	run := &relayRun{
		relay:   r,
		machine: newRelayMachine(),
		out:     out,
		logger:  r.deps.Logger.With("request_id", domain.RequestIDFromContext(ctx)),
	}

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	stream, err := r.open(streamCtx, domain.ChatRequest{
		Model:       r.deps.Model,
		System:      r.deps.SystemPrompt,
		UserMessage: userMsg,
		Tools:       r.deps.Tools.Schemas(),
		MaxTokens:   r.deps.MaxTokens,
	})
	if err != nil {
		return run.fail(ctx, span, err)
	}
	defer stream.Close()

	if err := run.machine.Open(); err != nil {
		return run.fail(ctx, span, err)
	}
	run.logger.Debug("relay: state", "from", StateIdle, "to", StateStreaming)

	events := pump(streamCtx, stream)
	for {
		ev, err := r.await(ctx, events)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cancelStream()
			return run.fail(ctx, span, err)
		}
		if err := run.handle(ctx, ev); err != nil {
			tracer.RecordError(span, err)
			run.logger.Info("relay: client went away", "error", err, "state", run.machine.State())
			return domain.WrapOp("relay.Run", err)
		}
	}

	run.machine.Finish()
	span.SetAttributes(tracer.IntAttr("relay.tool_calls", run.tools))
	if err := out.Send(domain.DoneEvent()); err != nil {
		tracer.RecordError(span, err)
		return domain.WrapOp("relay.Run", err)
	}
	tracer.SetOK(span)
	run.logger.Debug("relay: done", "tool_calls", run.tools)
	return nil
}

// open establishes the upstream stream within OpenTimeout. ctx must be
// cancelled by the caller once open returns an error.
func (r *Relay) open(ctx context.Context, req domain.ChatRequest) (domain.ModelStream, error) {
	type opened struct {
		stream domain.ModelStream
		err    error
	}
	ch := make(chan opened, 1)
	go func() {
		s, err := r.deps.Source.Stream(ctx, req)
		ch <- opened{stream: s, err: err}
	}()

	var timeout <-chan time.Time
	if r.deps.OpenTimeout > 0 {
		t := time.NewTimer(r.deps.OpenTimeout)
		defer t.Stop()
		timeout = t.C
	}

	abandon := func() {
		go func() {
			if o := <-ch; o.stream != nil {
				o.stream.Close()
			}
		}()
	}

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, o.err)
		}
		return o.stream, nil
	case <-timeout:
		abandon()
		return nil, fmt.Errorf("%w: %w: no response from %s within %s",
			domain.ErrUpstream, domain.ErrTimeout, r.deps.Source.Name(), r.deps.OpenTimeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

type pulled struct {
	ev  domain.ModelEvent
	err error
}

// pump pulls events from stream until it fails, ends or ctx is cancelled.
func pump(ctx context.Context, stream domain.ModelStream) <-chan pulled {
	ch := make(chan pulled)
	go func() {
		defer close(ch)
		for {
			p := next(ctx, stream)
			select {
			case ch <- p:
			case <-ctx.Done():
				return
			}
			if p.err != nil {
				return
			}
		}
	}()
	return ch
}

func next(ctx context.Context, stream domain.ModelStream) (p pulled) {
	defer func() {
		if rec := recover(); rec != nil {
			p = pulled{err: fmt.Errorf("%w: stream panicked: %v", domain.ErrUpstream, rec)}
		}
	}()
	ev, err := stream.Next(ctx)
	return pulled{ev: ev, err: err}
}

// await waits for the next upstream event within IdleTimeout. It returns
// io.EOF once the upstream stream has ended normally.
func (r *Relay) await(ctx context.Context, events <-chan pulled) (domain.ModelEvent, error) {
	var idle <-chan time.Time
	if r.deps.IdleTimeout > 0 {
		t := time.NewTimer(r.deps.IdleTimeout)
		defer t.Stop()
		idle = t.C
	}

	select {
	case p, ok := <-events:
		switch {
		case !ok:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, io.ErrUnexpectedEOF)
		case p.err == nil:
			return p.ev, nil
		case errors.Is(p.err, io.EOF):
			return nil, io.EOF
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(p.err, domain.ErrUpstream):
			return nil, p.err
		default:
			return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, p.err)
		}
	case <-idle:
		return nil, fmt.Errorf("%w: %w: no event from %s for %s",
			domain.ErrUpstream, domain.ErrTimeout, r.deps.Source.Name(), r.deps.IdleTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handle applies one model event. Faults inside a single step are logged and
// swallowed; only a failed write to the client is returned.
func (run *relayRun) handle(ctx context.Context, ev domain.ModelEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			run.logger.Warn("relay: event handling panicked",
				"event", fmt.Sprintf("%T", ev), "panic", rec, "state", run.machine.State())
			err = nil
		}
	}()

	from := run.machine.State()
	effect, anomaly := run.machine.Step(ev)
	if anomaly != nil {
		run.logger.Warn("relay: event rejected",
			"event", fmt.Sprintf("%T", ev), "state", from, "error", anomaly, "code", domain.ErrorCodeOf(anomaly))
	}
	if to := run.machine.State(); to != from {
		run.logger.Debug("relay: state", "from", from, "to", to)
	}

	switch e := effect.(type) {
	case EmitText:
		return run.out.Send(domain.ContentEvent(e.Text))
	case InvokeTool:
		return run.invoke(ctx, e.Call)
	}
	return nil
}

// invoke executes call synchronously, then streams its content as paced
// display units.
func (run *relayRun) invoke(ctx context.Context, call domain.ToolCall) error {
	ctx, span := tracer.StartSpan(ctx, "relay.tool",
		trace.WithAttributes(
			tracer.StringAttr("tool.name", call.Name),
			tracer.StringAttr("tool.call_id", call.ID),
		),
	)
	defer span.End()

	run.tools++
	start := time.Now()
	result := run.relay.deps.Tools.Execute(ctx, call.Name, call.Arguments)
	span.SetAttributes(tracer.BoolAttr("tool.is_error", result.IsError))
	if result.IsError {
		tracer.RecordError(span, fmt.Errorf("%w: %s", domain.ErrToolFailure, result.Content))
	} else {
		tracer.SetOK(span)
	}
	run.logger.Info("relay: tool executed",
		"tool", call.Name,
		"call_id", call.ID,
		"is_error", result.IsError,
		"retryable", result.IsRetryable,
		"duration", time.Since(start),
	)

	units := SplitDisplayUnits(result.Content)
	for i, unit := range units {
		if err := run.out.Send(domain.ContentEvent(unit)); err != nil {
			return err
		}
		if i < len(units)-1 {
			if err := pace(ctx, run.relay.deps.PaceDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail reports cause to the client and closes the wire stream. When the
// client itself cancelled nothing more is written.
func (run *relayRun) fail(ctx context.Context, span trace.Span, cause error) error {
	run.machine.Fail()
	tracer.RecordError(span, cause)

	if ctx.Err() != nil {
		run.logger.Info("relay: cancelled", "error", cause)
		return domain.WrapOp("relay.Run", cause)
	}

	run.logger.Error("relay: upstream failed", "error", cause, "code", domain.ErrorCodeOf(cause))
	msg := fmt.Sprintf("Sorry, I encountered an error: %v", cause)
	if err := run.out.Send(domain.ContentEvent(msg)); err != nil {
		return domain.WrapOp("relay.Run", errors.Join(cause, err))
	}
	if err := run.out.Send(domain.DoneEvent()); err != nil {
		return domain.WrapOp("relay.Run", errors.Join(cause, err))
	}
	return domain.WrapOp("relay.Run", cause)
}
