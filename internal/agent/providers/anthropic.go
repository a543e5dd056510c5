// Package providers implements the agent.LLMProvider interface for the
// upstream model APIs the orchestrator can be wired to: Anthropic, Google
// Gemini, and the family of OpenAI-compatible endpoints (OpenAI, Azure,
// OpenRouter, Ollama, Copilot proxy).
//
// Providers stream raw completion fragments: text deltas, tool-call parts,
// reasoning deltas, and usage snapshots. They never reassemble tool calls or
// buffer content themselves — the Stream Assembler is the single reduction
// point for every provider's output.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/forgewright/coreloop/internal/agent"
	"github.com/forgewright/coreloop/internal/agent/toolconv"
	"github.com/forgewright/coreloop/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive no-op events before the stream is
// treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider streams completions from Anthropic's Messages API.
// Safe for concurrent use; each Complete call owns an independent stream.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures NewAnthropicProvider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API. Required.
	APIKey string

	// BaseURL overrides the API base URL, for proxies and compatible
	// gateways.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewAnthropicProvider validates config and builds the provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true, SupportsParallelToolCalls: true, SupportsReasoning: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true, SupportsParallelToolCalls: true, SupportsReasoning: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true, SupportsParallelToolCalls: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000, SupportsVision: true, SupportsParallelToolCalls: true},
	}
}

func (p *AnthropicProvider) SupportsTools() bool { return true }

// Complete opens a streaming Messages request and translates its SSE events
// into CompletionChunks. Tool calls are emitted as ToolCallPart fragments
// (one carrying the call id and name, then one per argument JSON delta);
// reassembly happens downstream. Transient failures are retried by the
// caller's Retry Driver, not here.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, NewProviderError("anthropic", model, err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		stream := p.client.Messages.NewStreaming(ctx, params)
		p.processStream(ctx, stream, chunks, model)
	}()
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(toDefinitions(req.Tools))
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return params, nil
}

// processStream forwards SSE events as chunks until message_stop, an error
// event, or cancellation.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	// Tool-use blocks are keyed by content-block index; argument deltas
	// reference the index, parts downstream reference the call id.
	callIDByIndex := make(map[int64]string)
	usage := models.Usage{}
	emptyEvents := 0

	for stream.Next() {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.PromptTokens = int(start.Message.Usage.InputTokens)
			usage.CachedTokens = int(start.Message.Usage.CacheReadInputTokens)
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			snapshot := usage
			chunks <- &agent.CompletionChunk{Usage: &snapshot}
			processed = true

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				toolUse := blockStart.ContentBlock.AsToolUse()
				callIDByIndex[blockStart.Index] = toolUse.ID
				chunks <- &agent.CompletionChunk{
					ToolCallPart: &models.ToolCallPart{CallID: toolUse.ID, Name: toolUse.Name},
				}
				processed = true
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			delta := blockDelta.Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &agent.CompletionChunk{
						Thinking:        delta.Thinking,
						ReasoningDetail: &models.ReasoningDetail{Text: delta.Thinking},
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					chunks <- &agent.CompletionChunk{
						ToolCallPart: &models.ToolCallPart{
							CallID:        callIDByIndex[blockDelta.Index],
							ArgumentsPart: delta.PartialJSON,
						},
					}
					processed = true
				}
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(messageDelta.Usage.OutputTokens)
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				snapshot := usage
				chunks <- &agent.CompletionChunk{Usage: &snapshot}
			}
			processed = true

		case "message_stop":
			snapshot := usage
			chunks <- &agent.CompletionChunk{Done: true, Usage: &snapshot}
			return

		case "error":
			chunks <- &agent.CompletionChunk{Error: p.wrapError(errors.New("anthropic stream error"), model)}
			return
		}

		if processed {
			emptyEvents = 0
		} else if emptyEvents++; emptyEvents >= maxEmptyStreamEvents {
			chunks <- &agent.CompletionChunk{
				Error: p.wrapError(fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents), model),
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
	}
}

// convertMessages flattens the engine's message shapes into Anthropic
// content blocks. System messages are skipped (carried via params.System);
// tool-result messages fold into user messages per the Messages API.
func (p *AnthropicProvider) convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.CallID,
				toolResult.FlattenedText(),
				toolResult.IsError,
			))
		}

		for _, toolCall := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(toolCall.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", toolCall.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(toolCall.ID, input, toolCall.Name))
		}

		for _, att := range msg.Attachments {
			if block, ok := imageBlockFromAttachment(att); ok {
				content = append(content, block)
			}
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func imageBlockFromAttachment(att models.Attachment) (anthropic.ContentBlockParamUnion, bool) {
	if !strings.HasPrefix(att.MimeType, "image/") {
		return anthropic.ContentBlockParamUnion{}, false
	}
	if mediaType, data, ok := parseDataURL(att.URL); ok {
		return anthropic.NewImageBlockBase64(mediaType, data), true
	}
	if att.URL != "" {
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: att.URL}), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

// parseDataURL splits a base64 data: URL into media type and payload.
func parseDataURL(raw string) (string, string, bool) {
	if !strings.HasPrefix(raw, "data:") {
		return "", "", false
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	meta := strings.TrimPrefix(parts[0], "data:")
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType == "" {
		return "", "", false
	}
	return mediaType, parts[1], true
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil || IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError("anthropic", model, err).WithStatus(apiErr.StatusCode)
		providerErr.RequestID = apiErr.RequestID

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					providerErr.Message = payload.Error.Message
				}
				if payload.Error.Type != "" {
					providerErr = providerErr.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					providerErr.RequestID = payload.RequestID
				}
			}
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}

// toDefinitions projects a request's Tool values onto catalog entries for
// the toolconv converters.
func toDefinitions(tools []agent.Tool) []models.ToolDefinition {
	defs := make([]models.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = models.ToolDefinition{Name: t.Name(), Description: t.Description(), Schema: t.Schema()}
	}
	return defs
}
