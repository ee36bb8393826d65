//go:build bedrock

package llm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pokedex-ai/internal/domain"
)

type mockBedrockClient struct {
	input *bedrockruntime.ConverseStreamInput
	err   error
}

func (m *mockBedrockClient) ConverseStream(_ context.Context, params *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &bedrockruntime.ConverseStreamOutput{}, nil
}

type fakeEventStream struct {
	ch     chan types.ConverseStreamOutput
	err    error
	closed bool
}

func newFakeEventStream(events ...types.ConverseStreamOutput) *fakeEventStream {
	ch := make(chan types.ConverseStreamOutput, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return &fakeEventStream{ch: ch}
}

func (f *fakeEventStream) Events() <-chan types.ConverseStreamOutput { return f.ch }
func (f *fakeEventStream) Close() error                               { f.closed = true; return nil }
func (f *fakeEventStream) Err() error                                 { return f.err }

func bedrockWith(client bedrockStreamAPI, stream *fakeEventStream) *BedrockSource {
	src := newBedrockSourceWithClient("bedrock-test", "anthropic.claude-3-5-sonnet", client, nopLogger())
	src.open = func(*bedrockruntime.ConverseStreamOutput) bedrockEventStream { return stream }
	return src
}

func TestBedrockStream_TranslatesEvents(t *testing.T) {
	stream := newFakeEventStream(
		&types.ConverseStreamOutputMemberMessageStart{},
		&types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta:             &types.ContentBlockDeltaMemberText{Value: "Looking up"},
		}},
		&types.ConverseStreamOutputMemberContentBlockStop{Value: types.ContentBlockStopEvent{ContentBlockIndex: aws.Int32(0)}},
		&types.ConverseStreamOutputMemberContentBlockStart{Value: types.ContentBlockStartEvent{
			ContentBlockIndex: aws.Int32(1),
			Start: &types.ContentBlockStartMemberToolUse{Value: types.ToolUseBlockStart{
				ToolUseId: aws.String("tu_1"), Name: aws.String("get_pokemon_info"),
			}},
		}},
		&types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(1),
			Delta:             &types.ContentBlockDeltaMemberToolUse{Value: types.ToolUseBlockDelta{Input: aws.String(`{"pokemon_name":`)}},
		}},
		&types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(1),
			Delta:             &types.ContentBlockDeltaMemberToolUse{Value: types.ToolUseBlockDelta{Input: aws.String(`"pikachu"}`)}},
		}},
		&types.ConverseStreamOutputMemberContentBlockStop{Value: types.ContentBlockStopEvent{ContentBlockIndex: aws.Int32(1)}},
		&types.ConverseStreamOutputMemberMessageStop{Value: types.MessageStopEvent{StopReason: types.StopReasonToolUse}},
	)
	client := &mockBedrockClient{}
	src := bedrockWith(client, stream)

	s, err := src.Stream(context.Background(), domain.ChatRequest{
		System:      "be brief",
		UserMessage: "tell me about pikachu",
		Tools:       []domain.ToolSchema{{Name: "get_pokemon_info", Description: "d"}},
	})
	require.NoError(t, err)

	events := drain(t, s)
	assert.Equal(t, []domain.ModelEvent{
		domain.TextFragment{Text: "Looking up"},
		domain.ToolInvocationStart{ID: "tu_1", ToolName: "get_pokemon_info"},
		domain.ToolInvocationArgumentChunk{RawChunk: `{"pokemon_name":`},
		domain.ToolInvocationArgumentChunk{RawChunk: `"pikachu"}`},
		domain.ToolInvocationEnd{},
	}, events)

	require.NoError(t, s.Close())
	assert.True(t, stream.closed)

	require.NotNil(t, client.input)
	assert.Equal(t, "anthropic.claude-3-5-sonnet", aws.ToString(client.input.ModelId))
	assert.Len(t, client.input.System, 1)
	require.NotNil(t, client.input.ToolConfig)
	assert.Len(t, client.input.ToolConfig.Tools, 1)
	assert.Equal(t, int32(defaultMaxTokens), aws.ToInt32(client.input.InferenceConfig.MaxTokens))
}

func TestBedrockStream_TruncatedIsUpstreamError(t *testing.T) {
	stream := newFakeEventStream(&types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
		Delta: &types.ContentBlockDeltaMemberText{Value: "half"},
	}})
	s, err := bedrockWith(&mockBedrockClient{}, stream).Stream(context.Background(), domain.ChatRequest{UserMessage: "hi"})
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestBedrockStream_StreamErr(t *testing.T) {
	stream := newFakeEventStream()
	stream.err = &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	s, err := bedrockWith(&mockBedrockClient{}, stream).Stream(context.Background(), domain.ChatRequest{UserMessage: "hi"})
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
}

func TestBedrockStream_OpenErrorMapped(t *testing.T) {
	client := &mockBedrockClient{err: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}}
	_, err := bedrockWith(client, nil).Stream(context.Background(), domain.ChatRequest{UserMessage: "hi"})
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

func TestMapBedrockError(t *testing.T) {
	assert.Nil(t, mapBedrockError(nil))
	assert.ErrorIs(t, mapBedrockError(&smithy.GenericAPIError{Code: "InternalServerException"}), domain.ErrProviderError)
	assert.ErrorIs(t, mapBedrockError(&smithy.GenericAPIError{Code: "ValidationException", Message: "input is too long"}), domain.ErrContextOverflow)

	plain := errors.New("boom")
	assert.ErrorIs(t, mapBedrockError(plain), plain)
}
