package providers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgewright/coreloop/internal/agent"
	"github.com/forgewright/coreloop/pkg/models"
)

func TestCompatProviderConstructors(t *testing.T) {
	t.Run("openai requires key", func(t *testing.T) {
		_, err := NewOpenAIProvider(OpenAICompatConfig{})
		require.Error(t, err)

		p, err := NewOpenAIProvider(OpenAICompatConfig{APIKey: "sk-test"})
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
		assert.True(t, p.SupportsTools())
	})

	t.Run("azure requires endpoint and key", func(t *testing.T) {
		_, err := NewAzureProvider(OpenAICompatConfig{APIKey: "k"})
		require.Error(t, err)
		_, err = NewAzureProvider(OpenAICompatConfig{AzureEndpoint: "https://r.openai.azure.com"})
		require.Error(t, err)

		p, err := NewAzureProvider(OpenAICompatConfig{APIKey: "k", AzureEndpoint: "https://r.openai.azure.com"})
		require.NoError(t, err)
		assert.Equal(t, "azure", p.Name())
	})

	t.Run("openrouter defaults model", func(t *testing.T) {
		p, err := NewOpenRouterProvider(OpenAICompatConfig{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "openrouter", p.Name())
		assert.Equal(t, "openai/gpt-4o", p.defaultModel)
	})

	t.Run("ollama needs no key", func(t *testing.T) {
		p, err := NewOllamaProvider(OpenAICompatConfig{})
		require.NoError(t, err)
		assert.Equal(t, "ollama", p.Name())
		assert.Equal(t, "llama3.2", p.defaultModel)
	})

	t.Run("copilot proxy requires base URL", func(t *testing.T) {
		_, err := NewCopilotProxyProvider(OpenAICompatConfig{})
		require.Error(t, err)

		p, err := NewCopilotProxyProvider(OpenAICompatConfig{BaseURL: "http://localhost:8089/v1"})
		require.NoError(t, err)
		assert.Equal(t, "copilot-proxy", p.Name())
	})
}

func TestCompatConvertMessages(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAICompatConfig{APIKey: "sk-test"})
	require.NoError(t, err)

	messages := []agent.CompletionMessage{
		{Role: "user", Content: "run the tests"},
		{Role: "assistant", Content: "running", ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "shell", Input: json.RawMessage(`{"command":"go test ./..."}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			models.TextOutput("shell", "call_1", "ok", false),
		}},
	}

	converted := p.convertMessages(messages, "system prompt")

	require.Len(t, converted, 4)
	assert.Equal(t, "system", converted[0].Role)
	assert.Equal(t, "system prompt", converted[0].Content)
	assert.Equal(t, "user", converted[1].Role)

	require.Len(t, converted[2].ToolCalls, 1)
	assert.Equal(t, "call_1", converted[2].ToolCalls[0].ID)
	assert.Equal(t, "shell", converted[2].ToolCalls[0].Function.Name)

	assert.Equal(t, "tool", converted[3].Role)
	assert.Equal(t, "call_1", converted[3].ToolCallID)
	assert.Equal(t, "ok", converted[3].Content)
}

func TestCompatConvertMessages_ImageAttachments(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAICompatConfig{APIKey: "sk-test"})
	require.NoError(t, err)

	converted := p.convertMessages([]agent.CompletionMessage{
		{
			Role:    "user",
			Content: "what is in this image?",
			Attachments: []models.Attachment{
				{MimeType: "image/png", URL: "https://example.com/shot.png"},
				{MimeType: "text/plain", URL: "https://example.com/notes.txt"},
			},
		},
	}, "")

	require.Len(t, converted, 1)
	// Text part plus the one image attachment; the text/plain one is skipped.
	require.Len(t, converted[0].MultiContent, 2)
	assert.Equal(t, "what is in this image?", converted[0].MultiContent[0].Text)
	assert.Equal(t, "https://example.com/shot.png", converted[0].MultiContent[1].ImageURL.URL)
}

func TestCompatComplete_RequiresModel(t *testing.T) {
	p, err := NewCopilotProxyProvider(OpenAICompatConfig{BaseURL: "http://localhost:8089/v1"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")
}
