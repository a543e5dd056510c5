package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgewright/coreloop/internal/agent"
	"github.com/forgewright/coreloop/internal/agent/truncate"
)

const defaultFetchMaxChars = 10000

// FetchConfig controls web_fetch defaults.
type FetchConfig struct {
	// MaxChars caps the returned body; anything beyond it spills to a temp
	// file through the Output Truncator.
	MaxChars int
}

// WebFetchTool fetches one URL and reduces it to readable text, shaped by
// the Output Truncator's character cap.
type WebFetchTool struct {
	config    FetchConfig
	extractor *ContentExtractor
}

// WebFetchOption customizes WebFetchTool construction.
type WebFetchOption func(*WebFetchTool)

// WithExtractor overrides the default content extractor (used by tests to
// disable SSRF checks against local fixtures).
func WithExtractor(extractor *ContentExtractor) WebFetchOption {
	return func(tool *WebFetchTool) {
		if extractor != nil {
			tool.extractor = extractor
		}
	}
}

// NewWebFetchTool applies defaults and builds the tool.
func NewWebFetchTool(config *FetchConfig, opts ...WebFetchOption) *WebFetchTool {
	cfg := FetchConfig{MaxChars: defaultFetchMaxChars}
	if config != nil && config.MaxChars > 0 {
		cfg.MaxChars = config.MaxChars
	}
	tool := &WebFetchTool{config: cfg, extractor: NewContentExtractor()}
	for _, opt := range opts {
		opt(tool)
	}
	return tool
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch and extract readable content from a URL without full browser automation."
}

func (t *WebFetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to fetch (http/https only)."},
			"extract_mode": {"type": "string", "enum": ["markdown", "text"], "description": "Extraction mode (default: markdown)."},
			"max_chars": {"type": "integer", "description": "Maximum characters to return (default: 10000).", "minimum": 0}
		},
		"required": ["url"]
	}`)
}

// Execute fetches, extracts, and caps the body, spilling the full content
// to a temp file on truncation.
func (t *WebFetchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var raw map[string]any
	if err := json.Unmarshal(params, &raw); err != nil {
		return searchError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}

	// snake_case is canonical; the camelCase aliases survive for models
	// that emit JS-style keys.
	targetURL := stringParam(raw, "url")
	if targetURL == "" {
		return searchError("Missing required parameter: url"), nil
	}
	extractMode := normalizeExtractMode(stringParam(raw, "extract_mode", "extractMode"))

	limit := t.config.MaxChars
	if maxChars := intParam(raw, "max_chars", "maxChars"); maxChars > 0 && (limit == 0 || maxChars < limit) {
		limit = maxChars
	}

	content, err := t.extractor.Extract(ctx, targetURL)
	if err != nil {
		return searchError(fmt.Sprintf("Fetch failed: %v", err)), nil
	}

	shaped := truncate.Chars("fetch", content, limit)

	result := map[string]any{
		"url":          targetURL,
		"extract_mode": extractMode,
		"content":      shaped.Text,
	}
	if shaped.Truncated {
		result["truncated"] = true
		if shaped.TempFilePath != "" {
			result["full_content_path"] = shaped.TempFilePath
		}
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return searchError(fmt.Sprintf("Failed to format response: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func normalizeExtractMode(value string) string {
	if strings.ToLower(strings.TrimSpace(value)) == "text" {
		return "text"
	}
	return "markdown"
}

func stringParam(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if str, ok := raw[key].(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

func intParam(raw map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case json.Number:
			if parsed, err := v.Int64(); err == nil {
				return int(parsed)
			}
		}
	}
	return 0
}
