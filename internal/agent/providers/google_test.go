package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/forgewright/coreloop/internal/agent"
	"github.com/forgewright/coreloop/pkg/models"
)

func newTestGoogleProvider(t *testing.T) *GoogleProvider {
	t.Helper()
	p, err := NewGoogleProvider(GoogleConfig{APIKey: "test-key"})
	require.NoError(t, err)
	return p
}

func TestNewGoogleProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewGoogleProvider(GoogleConfig{})
	require.Error(t, err)

	p := newTestGoogleProvider(t)
	assert.Equal(t, "google", p.Name())
	assert.True(t, p.SupportsTools())
	assert.Equal(t, "gemini-2.0-flash", p.defaultModel)
}

func TestGoogleConvertMessages(t *testing.T) {
	p := newTestGoogleProvider(t)

	messages := []agent.CompletionMessage{
		{Role: "system", Content: "carried via system instruction"},
		{Role: "user", Content: "list the files"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "fs_list", Input: json.RawMessage(`{"path":"."}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			models.TextOutput("fs_list", "call_1", `{"files":["a.go"]}`, false),
		}},
	}

	converted, err := p.convertMessages(messages)
	require.NoError(t, err)
	require.Len(t, converted, 3)

	assert.Equal(t, genai.RoleUser, converted[0].Role)
	assert.Equal(t, genai.RoleModel, converted[1].Role)
	require.Len(t, converted[1].Parts, 1)
	require.NotNil(t, converted[1].Parts[0].FunctionCall)
	assert.Equal(t, "fs_list", converted[1].Parts[0].FunctionCall.Name)

	// The function response is named directly from the result's tool name.
	require.Len(t, converted[2].Parts, 1)
	require.NotNil(t, converted[2].Parts[0].FunctionResponse)
	assert.Equal(t, "fs_list", converted[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, []any{"a.go"}, converted[2].Parts[0].FunctionResponse.Response["files"])
}

func TestGoogleConvertMessages_NonJSONToolResult(t *testing.T) {
	p := newTestGoogleProvider(t)

	converted, err := p.convertMessages([]agent.CompletionMessage{
		{Role: "tool", ToolResults: []models.ToolResult{
			models.TextOutput("shell", "call_1", "plain text output", true),
		}},
	})
	require.NoError(t, err)
	require.Len(t, converted, 1)

	resp := converted[0].Parts[0].FunctionResponse.Response
	assert.Equal(t, "plain text output", resp["result"])
	assert.Equal(t, true, resp["error"])
}

func TestGoogleBuildConfig(t *testing.T) {
	p := newTestGoogleProvider(t)

	config := p.buildConfig(&agent.CompletionRequest{
		System:    "be brief",
		MaxTokens: 1024,
	})

	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "be brief", config.SystemInstruction.Parts[0].Text)
	assert.EqualValues(t, 1024, config.MaxOutputTokens)
	assert.Nil(t, config.Tools)
}

func TestGoogleConvertAttachment_DataURL(t *testing.T) {
	p := newTestGoogleProvider(t)

	part, err := p.convertAttachment(models.Attachment{
		MimeType: "image/png",
		URL:      "data:image/png;base64,aGVsbG8=",
	})
	require.NoError(t, err)
	require.NotNil(t, part.InlineData)
	assert.Equal(t, "image/png", part.InlineData.MIMEType)
	assert.Equal(t, []byte("hello"), part.InlineData.Data)
}

func TestGoogleConvertAttachment_FileURI(t *testing.T) {
	p := newTestGoogleProvider(t)

	part, err := p.convertAttachment(models.Attachment{
		MimeType: "image/jpeg",
		URL:      "https://example.com/cat.jpg",
	})
	require.NoError(t, err)
	require.NotNil(t, part.FileData)
	assert.Equal(t, "https://example.com/cat.jpg", part.FileData.FileURI)
}
