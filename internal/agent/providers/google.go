package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/forgewright/coreloop/internal/agent"
	"github.com/forgewright/coreloop/internal/agent/toolconv"
	"github.com/forgewright/coreloop/pkg/models"
)

// GoogleProvider streams completions from the Gemini API via the Google Gen
// AI SDK. Gemini emits function calls whole rather than as argument deltas,
// so tool calls surface as complete ToolCall chunks with generated ids (the
// API supplies none).
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
}

// GoogleConfig configures NewGoogleProvider.
type GoogleConfig struct {
	// APIKey authenticates against the Gemini API. Required.
	APIKey string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewGoogleProvider validates config and builds the provider.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{client: client, defaultModel: config.DefaultModel}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000, SupportsVision: true, SupportsParallelToolCalls: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2000000, SupportsVision: true, SupportsParallelToolCalls: true},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextSize: 1000000, SupportsVision: true, SupportsParallelToolCalls: true},
	}
}

func (p *GoogleProvider) SupportsTools() bool { return true }

// Complete opens a streaming GenerateContent request and forwards its parts
// as CompletionChunks. Transient failures are retried by the caller's Retry
// Driver; retrying inside the provider would re-emit chunks already sent.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	config := p.buildConfig(req)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			select {
			case <-ctx.Done():
				chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
				return
			default:
			}

			if err != nil {
				chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model), Done: true}
				return
			}
			if resp == nil {
				continue
			}

			if resp.UsageMetadata != nil {
				chunks <- &agent.CompletionChunk{Usage: &models.Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
					CachedTokens:     int(resp.UsageMetadata.CachedContentTokenCount),
				}}
			}

			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						if part.Thought {
							chunks <- &agent.CompletionChunk{Thinking: part.Text}
						} else {
							chunks <- &agent.CompletionChunk{Text: part.Text}
						}
					}
					if part.FunctionCall != nil {
						argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
						if jsonErr != nil {
							argsJSON = []byte("{}")
						}
						chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
							ID:    "call_" + uuid.NewString(),
							Name:  part.FunctionCall.Name,
							Input: argsJSON,
						}}
					}
				}
			}
		}

		chunks <- &agent.CompletionChunk{Done: true}
	}()

	return chunks, nil
}

// convertMessages translates the engine's message shapes into Gemini
// contents. System messages are skipped (carried via SystemInstruction);
// tool results become FunctionResponse parts named directly from the
// result, which carries its tool name.
func (p *GoogleProvider) convertMessages(messages []agent.CompletionMessage) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case "assistant":
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, att := range msg.Attachments {
			if !strings.HasPrefix(att.MimeType, "image/") && !strings.HasPrefix(att.URL, "data:") {
				continue
			}
			part, err := p.convertAttachment(att)
			if err != nil {
				continue
			}
			content.Parts = append(content.Parts, part)
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		for _, tr := range msg.ToolResults {
			text := tr.FlattenedText()
			var response map[string]any
			if err := json.Unmarshal([]byte(text), &response); err != nil {
				response = map[string]any{"result": text, "error": tr.IsError}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: tr.Name, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

func (p *GoogleProvider) convertAttachment(att models.Attachment) (*genai.Part, error) {
	if mediaType, payload, ok := parseDataURL(att.URL); ok {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 data: %w", err)
		}
		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mediaType}}, nil
	}

	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return &genai.Part{FileData: &genai.FileData{FileURI: att.URL, MIMEType: mimeType}}, nil
}

func (p *GoogleProvider) buildConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(toDefinitions(req.Tools))
	}

	return config
}

// wrapError wraps err in a ProviderError, recovering a status code from the
// SDK's message text since the Gen AI SDK does not expose one structurally.
func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil || IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("google", model, err)

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(msg, "403"), strings.Contains(msg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(msg, "429"), strings.Contains(msg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(msg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(msg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr
}
