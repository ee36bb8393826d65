//go:build bedrock

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
	"pokedex-ai/internal/infra/tracer"
)

// bedrockStreamAPI abstracts the Bedrock runtime method for testability.
type bedrockStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// bedrockEventStream is the subset of the SDK event stream reader we use.
type bedrockEventStream interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// BedrockSource streams model events through the AWS Bedrock ConverseStream API.
type BedrockSource struct {
	name   string
	model  string
	client bedrockStreamAPI
	logger *slog.Logger

	// open extracts the event stream from an output; swapped in tests.
	open func(*bedrockruntime.ConverseStreamOutput) bedrockEventStream
}

// NewBedrockSource creates a Bedrock source using the default AWS credential chain.
func NewBedrockSource(cfg config.ProviderConfig, logger *slog.Logger) (*BedrockSource, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newBedrockSourceWithClient(cfg.Name, cfg.Model, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

// newBedrockSourceWithClient creates a BedrockSource with an injected client (for testing).
func newBedrockSourceWithClient(name, model string, client bedrockStreamAPI, logger *slog.Logger) *BedrockSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &BedrockSource{
		name:   name,
		model:  model,
		client: client,
		logger: logger,
		open: func(out *bedrockruntime.ConverseStreamOutput) bedrockEventStream {
			return out.GetStream()
		},
	}
}

// Name implements domain.ModelEventSource.
func (p *BedrockSource) Name() string { return p.name }

// Stream implements domain.ModelEventSource.
func (p *BedrockSource) Stream(ctx context.Context, req domain.ChatRequest) (domain.ModelStream, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	output, err := p.client.ConverseStream(ctx, toBedrockConverseStreamInput(req))
	if err != nil {
		err = mapBedrockError(err)
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)

	return &bedrockStream{events: p.open(output), toolBlocks: make(map[int32]bool)}, nil
}

func toBedrockConverseStreamInput(req domain.ChatRequest) *bedrockruntime.ConverseStreamInput {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(req.Model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.UserMessage}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = toBedrockToolConfig(req.Tools)
	}
	return input
}

func toBedrockToolConfig(tools []domain.ToolSchema) *types.ToolConfiguration {
	var bedrockTools []types.Tool
	for _, t := range tools {
		var schema map[string]interface{}
		if len(t.Parameters) > 0 {
			json.Unmarshal(t.Parameters, &schema)
		}
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}

		bedrockTools = append(bedrockTools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}

// bedrockStream translates ConverseStream events into ModelEvents.
type bedrockStream struct {
	events     bedrockEventStream
	toolBlocks map[int32]bool
	done       bool
}

func (s *bedrockStream) Next(ctx context.Context) (domain.ModelEvent, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		var (
			evt types.ConverseStreamOutput
			ok  bool
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case evt, ok = <-s.events.Events():
		}
		if !ok {
			if err := s.events.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, mapBedrockError(err))
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, io.ErrUnexpectedEOF)
		}
		if ev, err := s.translate(evt); ev != nil || err != nil {
			return ev, err
		}
	}
}

func (s *bedrockStream) translate(evt types.ConverseStreamOutput) (domain.ModelEvent, error) {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			s.toolBlocks[aws.ToInt32(e.Value.ContentBlockIndex)] = true
			return domain.ToolInvocationStart{
				ID:       aws.ToString(start.Value.ToolUseId),
				ToolName: aws.ToString(start.Value.Name),
			}, nil
		}
		return nil, nil

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return domain.TextFragment{Text: d.Value}, nil
		case *types.ContentBlockDeltaMemberToolUse:
			return domain.ToolInvocationArgumentChunk{RawChunk: aws.ToString(d.Value.Input)}, nil
		}
		return nil, nil

	case *types.ConverseStreamOutputMemberContentBlockStop:
		idx := aws.ToInt32(e.Value.ContentBlockIndex)
		if s.toolBlocks[idx] {
			delete(s.toolBlocks, idx)
			return domain.ToolInvocationEnd{}, nil
		}
		return nil, nil

	case *types.ConverseStreamOutputMemberMessageStop:
		s.done = true
		return nil, io.EOF

	default:
		// MessageStart, Metadata
		return nil, nil
	}
}

func (s *bedrockStream) Close() error {
	return s.events.Close()
}

// --- Error mapping ---

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "ThrottlingException" || code == "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException" || code == "ModelStreamErrorException":
			return fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
		}
	}

	return domain.WrapOp("bedrock", err)
}

var (
	_ domain.ModelEventSource = (*BedrockSource)(nil)
	_ domain.ModelStream      = (*bedrockStream)(nil)
)
