package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgewright/coreloop/internal/agent"
	"github.com/forgewright/coreloop/pkg/models"
)

func TestNewAnthropicProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{})
	require.Error(t, err)

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.True(t, p.SupportsTools())
	assert.Equal(t, "claude-sonnet-4-20250514", p.defaultModel)
}

func TestAnthropicConvertMessages(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-test"})
	require.NoError(t, err)

	messages := []agent.CompletionMessage{
		{Role: "system", Content: "ignored here"},
		{Role: "user", Content: "read the config file"},
		{Role: "assistant", Content: "reading it now", ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "fs_read", Input: json.RawMessage(`{"path":"/etc/app.yaml"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			models.TextOutput("fs_read", "call_1", "contents here", false),
		}},
	}

	converted, err := p.convertMessages(messages)
	require.NoError(t, err)

	// System message is dropped; the tool-result message folds into a user
	// message, so three remain.
	require.Len(t, converted, 3)
	assert.Equal(t, "user", string(converted[0].Role))
	assert.Equal(t, "assistant", string(converted[1].Role))
	assert.Equal(t, "user", string(converted[2].Role))
	// Assistant message carries both the text and the tool_use block.
	assert.Len(t, converted[1].Content, 2)
}

func TestAnthropicConvertMessages_InvalidToolInput(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-test"})
	require.NoError(t, err)

	_, err = p.convertMessages([]agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "c", Name: "fs_read", Input: json.RawMessage(`{broken`)},
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fs_read")
}

func TestAnthropicBuildParams(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-test"})
	require.NoError(t, err)

	params, err := p.buildParams(&agent.CompletionRequest{
		System:    "you are terse",
		Messages:  []agent.CompletionMessage{{Role: "user", Content: "hi"}},
		MaxTokens: 2048,
	}, "claude-sonnet-4-20250514")
	require.NoError(t, err)

	assert.EqualValues(t, "claude-sonnet-4-20250514", params.Model)
	assert.EqualValues(t, 2048, params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "you are terse", params.System[0].Text)
}

func TestAnthropicBuildParams_DefaultMaxTokens(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-test"})
	require.NoError(t, err)

	params, err := p.buildParams(&agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	}, "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.EqualValues(t, 4096, params.MaxTokens)
}

func TestParseDataURL(t *testing.T) {
	mediaType, data, ok := parseDataURL("data:image/png;base64,aGVsbG8=")
	require.True(t, ok)
	assert.Equal(t, "image/png", mediaType)
	assert.Equal(t, "aGVsbG8=", data)

	_, _, ok = parseDataURL("https://example.com/cat.png")
	assert.False(t, ok)

	_, _, ok = parseDataURL("data:image/png,not-base64-flagged")
	assert.False(t, ok)
}

func TestImageBlockFromAttachment_NonImageSkipped(t *testing.T) {
	_, ok := imageBlockFromAttachment(models.Attachment{MimeType: "text/plain", URL: "data:text/plain;base64,eA=="})
	assert.False(t, ok)

	_, ok = imageBlockFromAttachment(models.Attachment{MimeType: "image/png", URL: "https://example.com/cat.png"})
	assert.True(t, ok)
}
