//go:build bedrock

package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen-agent/internal/domain"
)

type fakeConverse struct {
	converse func(*bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error)
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.converse(in)
}

func (f *fakeConverse) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
}

func TestBedrockChat(t *testing.T) {
	var got *bedrockruntime.ConverseInput
	client := &fakeConverse{converse: func(in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
		got = in
		return &bedrockruntime.ConverseOutput{
			Output: &types.ConverseOutputMemberMessage{Value: types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: "Writing."},
					&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
						ToolUseId: aws.String("tu_1"),
						Name:      aws.String("write_file"),
						Input:     document.NewLazyDocument(map[string]any{"file_path": "a.py"}),
					}},
				},
			}},
			Usage: &types.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(4)},
		}, nil
	}}
	p := newBedrockProvider("aws", "anthropic.claude-3-5-sonnet", client, newTestLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c1", Name: "list_files", Arguments: json.RawMessage(`{}`)}}},
		{Role: domain.RoleTool, ToolCallID: "c1", Content: "Error: nope", IsError: true},
		{Role: domain.RoleUser, Content: "again"},
	}})
	require.NoError(t, err)

	assert.Equal(t, "anthropic.claude-3-5-sonnet", aws.ToString(got.ModelId))
	require.Len(t, got.System, 1)
	require.Len(t, got.Messages, 3, "tool result and next user text share one user message")
	result, ok := got.Messages[2].Content[0].(*types.ContentBlockMemberToolResult)
	require.True(t, ok)
	assert.Equal(t, types.ToolResultStatusError, result.Value.Status)

	assert.Equal(t, "Writing.", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.JSONEq(t, `{"file_path":"a.py"}`, string(resp.Message.ToolCalls[0].Arguments))
	assert.Equal(t, 14, resp.Usage.TotalTokens)
}

func TestBedrockErrorMapping(t *testing.T) {
	p := newBedrockProvider("aws", "m", &fakeConverse{}, newTestLogger())
	_, err := p.ChatStream(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrRateLimit)

	err = mapBedrockError(context.Background(), &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"})
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	err = mapBedrockError(context.Background(), &smithy.GenericAPIError{Code: "InternalServerException", Message: "boom"})
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestBedrockStreamEventDelta(t *testing.T) {
	d := streamEventDelta(&types.ConverseStreamOutputMemberContentBlockStart{Value: types.ContentBlockStartEvent{
		ContentBlockIndex: aws.Int32(1),
		Start: &types.ContentBlockStartMemberToolUse{Value: types.ToolUseBlockStart{
			ToolUseId: aws.String("tu_1"), Name: aws.String("write_file"),
		}},
	}})
	require.NotNil(t, d)
	assert.Equal(t, []domain.ToolCallDelta{{Index: 1, ID: "tu_1", Name: "write_file"}}, d.ToolCalls)

	d = streamEventDelta(&types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
		ContentBlockIndex: aws.Int32(1),
		Delta:             &types.ContentBlockDeltaMemberToolUse{Value: types.ToolUseBlockDelta{Input: aws.String(`{"a":`)}},
	}})
	require.NotNil(t, d)
	assert.Equal(t, `{"a":`, d.ToolCalls[0].Arguments)

	d = streamEventDelta(&types.ConverseStreamOutputMemberMetadata{Value: types.ConverseStreamMetadataEvent{
		Usage: &types.TokenUsage{InputTokens: aws.Int32(3), OutputTokens: aws.Int32(2)},
	}})
	require.NotNil(t, d)
	assert.Equal(t, 5, d.Usage.TotalTokens)
	assert.False(t, d.Done)
}
