package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgewright/coreloop/internal/agent"
	"github.com/forgewright/coreloop/internal/agent/toolconv"
	"github.com/forgewright/coreloop/pkg/models"
)

// OpenAICompatProvider streams completions from any endpoint speaking the
// OpenAI chat-completions wire format. One implementation backs the direct
// OpenAI API, Azure OpenAI, OpenRouter, a local Ollama daemon, and a Copilot
// proxy; the variant constructors below differ only in client configuration.
type OpenAICompatProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	models       []agent.Model
	base         BaseProvider
}

// OpenAICompatConfig configures one OpenAI-compatible endpoint.
type OpenAICompatConfig struct {
	// APIKey authenticates the endpoint. Required except for local daemons.
	APIKey string

	// BaseURL overrides the endpoint URL (OpenRouter, Ollama, proxies).
	BaseURL string

	// AzureEndpoint, when set, configures Azure resource routing; APIVersion
	// then selects the Azure API version.
	AzureEndpoint string
	APIVersion    string

	// DefaultModel is used when a request does not name a model. For Azure
	// this is the deployment name.
	DefaultModel string

	// MaxRetries and RetryDelay tune the backoff around opening the stream.
	MaxRetries int
	RetryDelay time.Duration
}

// NewOpenAIProvider builds the provider against the direct OpenAI API.
func NewOpenAIProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return newCompatProvider("openai", clientConfig, cfg, []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true, SupportsParallelToolCalls: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini", ContextSize: 128000, SupportsVision: true, SupportsParallelToolCalls: true},
		{ID: "o1", Name: "o1", ContextSize: 200000, SupportsVision: true, SupportsReasoning: true},
	}), nil
}

// NewAzureProvider builds the provider against an Azure OpenAI resource.
func NewAzureProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.AzureEndpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("azure: API key is required")
	}
	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.AzureEndpoint)
	if cfg.APIVersion != "" {
		clientConfig.APIVersion = cfg.APIVersion
	}
	return newCompatProvider("azure", clientConfig, cfg, []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o (Azure)", ContextSize: 128000, SupportsVision: true, SupportsParallelToolCalls: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo (Azure)", ContextSize: 128000, SupportsVision: true, SupportsParallelToolCalls: true},
	}), nil
}

// NewOpenRouterProvider builds the provider against OpenRouter's unified
// multi-provider API.
func NewOpenRouterProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = "https://openrouter.ai/api/v1"
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4o"
	}
	return newCompatProvider("openrouter", clientConfig, cfg, []agent.Model{
		{ID: "openai/gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true, SupportsParallelToolCalls: true},
		{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true, SupportsParallelToolCalls: true},
		{ID: "google/gemini-2.0-flash-001", Name: "Gemini 2.0 Flash", ContextSize: 1000000, SupportsVision: true, SupportsParallelToolCalls: true},
	}), nil
}

// NewOllamaProvider builds the provider against a local Ollama daemon's
// OpenAI-compatible endpoint. No API key is required.
func NewOllamaProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	clientConfig := openai.DefaultConfig("ollama")
	clientConfig.BaseURL = "http://localhost:11434/v1"
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "llama3.2"
	}
	return newCompatProvider("ollama", clientConfig, cfg, []agent.Model{
		{ID: "llama3.2", Name: "Llama 3.2", ContextSize: 128000, SupportsVision: false},
		{ID: "qwen2.5-coder", Name: "Qwen 2.5 Coder", ContextSize: 32768, SupportsVision: false},
	}), nil
}

// NewCopilotProxyProvider builds the provider against a locally running
// Copilot API proxy.
func NewCopilotProxyProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("copilot-proxy: base URL is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	return newCompatProvider("copilot-proxy", clientConfig, cfg, nil), nil
}

func newCompatProvider(name string, clientConfig openai.ClientConfig, cfg OpenAICompatConfig, knownModels []agent.Model) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         name,
		defaultModel: cfg.DefaultModel,
		models:       knownModels,
		base:         NewBaseProvider(name, cfg.MaxRetries, cfg.RetryDelay),
	}
}

func (p *OpenAICompatProvider) Name() string         { return p.name }
func (p *OpenAICompatProvider) Models() []agent.Model { return p.models }
func (p *OpenAICompatProvider) SupportsTools() bool  { return true }

// Complete opens a chat-completion stream, retrying the connection on
// transient failures, and forwards deltas as CompletionChunks. Tool-call
// deltas are emitted as ToolCallPart fragments keyed by call id; the Stream
// Assembler reassembles them.
func (p *OpenAICompatProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, NewProviderError(p.name, "", errors.New("model is required"))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(toDefinitions(req.Tools))
	}

	var stream *openai.ChatCompletionStream
	err := p.base.Retry(ctx, IsRetryable, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return p.wrapError(err, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

func (p *OpenAICompatProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	// Later deltas for the same tool call omit the id and carry only an
	// index, so remember which call each index belongs to.
	callIDByIndex := make(map[int]string)

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				chunks <- &agent.CompletionChunk{Done: true}
				return
			}
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model), Done: true}
			return
		}

		if response.Usage != nil {
			chunks <- &agent.CompletionChunk{Usage: &models.Usage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
				TotalTokens:      response.Usage.TotalTokens,
			}}
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if tc.ID != "" {
				callIDByIndex[index] = tc.ID
			}
			part := &models.ToolCallPart{
				CallID:        callIDByIndex[index],
				Name:          tc.Function.Name,
				ArgumentsPart: tc.Function.Arguments,
			}
			if part.CallID == "" && part.Name == "" && part.ArgumentsPart == "" {
				continue
			}
			chunks <- &agent.CompletionChunk{ToolCallPart: part}
		}

		if choice.FinishReason != "" {
			chunks <- &agent.CompletionChunk{FinishReason: string(choice.FinishReason)}
		}
	}
}

// convertMessages flattens the engine's message shapes into the OpenAI chat
// format. Tool results become role=tool messages keyed by tool_call_id;
// image attachments become multi-part user content.
func (p *OpenAICompatProvider) convertMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.FlattenedText(),
					ToolCallID: tr.CallID,
				})
			}

		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)

		default:
			oaiMsg := openai.ChatCompletionMessage{Role: msg.Role}
			if parts := imageParts(msg); parts != nil {
				oaiMsg.MultiContent = parts
			} else {
				oaiMsg.Content = msg.Content
			}
			result = append(result, oaiMsg)
		}
	}

	return result
}

func imageParts(msg agent.CompletionMessage) []openai.ChatMessagePart {
	hasImage := false
	for _, att := range msg.Attachments {
		if isImage(att) {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return nil
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Attachments)+1)
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}
	for _, att := range msg.Attachments {
		if !isImage(att) {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    att.URL,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return parts
}

func isImage(att models.Attachment) bool {
	return len(att.MimeType) >= 6 && att.MimeType[:6] == "image/"
}

func (p *OpenAICompatProvider) wrapError(err error, model string) error {
	if err == nil || IsProviderError(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError(p.name, model, err).WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if apiErr.Message != "" {
			providerErr.Message = apiErr.Message
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError(p.name, model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	providerErr := NewProviderError(p.name, model, err)
	if errors.Is(err, context.DeadlineExceeded) {
		providerErr.Reason = FailoverTimeout
		providerErr.Status = http.StatusGatewayTimeout
	}
	return providerErr
}
