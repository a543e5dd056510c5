// Package compaction implements the Compactor: eviction-range selection over
// the context log (strategy.go) and the summarization pipeline that squeezes
// the selected range into a single assistant message, chunking oversized
// ranges so no single summarization request outgrows the summary model.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgewright/coreloop/pkg/models"
)

const (
	// DefaultMaxChunkTokens bounds one summarization request's input. Ranges
	// above the bound are summarized chunk-by-chunk and merged.
	DefaultMaxChunkTokens = 20000

	// DefaultParts is how many partitions SplitMessagesByTokenShare produces
	// when the caller does not say.
	DefaultParts = 2

	// OversizedThreshold is the fraction of the chunk budget above which a
	// single message is noted rather than fed to the summary model.
	OversizedThreshold = 0.5

	// DefaultSummaryFallback stands in when a range contains nothing
	// summarizable.
	DefaultSummaryFallback = "No prior history."
)

// EstimateTokens approximates one message's token count with the same
// ~4-chars/token rule Context.TokenCount uses.
func EstimateTokens(m models.ContextMessage) int {
	single := &models.Context{Messages: []models.ContextMessage{m}}
	return single.TokenCount()
}

// EstimateMessagesTokens sums EstimateTokens across messages.
func EstimateMessagesTokens(messages []models.ContextMessage) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m)
	}
	return total
}

// ChunkMessagesByMaxTokens splits messages into contiguous chunks, each at
// most maxTokens. A single message over the cap gets its own chunk.
func ChunkMessagesByMaxTokens(messages []models.ContextMessage, maxTokens int) [][]models.ContextMessage {
	if len(messages) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		return [][]models.ContextMessage{messages}
	}

	var result [][]models.ContextMessage
	var current []models.ContextMessage
	currentTokens := 0

	for _, m := range messages {
		tokens := EstimateTokens(m)

		if tokens > maxTokens {
			if len(current) > 0 {
				result = append(result, current)
				current = nil
				currentTokens = 0
			}
			result = append(result, []models.ContextMessage{m})
			continue
		}

		if currentTokens+tokens > maxTokens && len(current) > 0 {
			result = append(result, current)
			current = nil
			currentTokens = 0
		}

		current = append(current, m)
		currentTokens += tokens
	}

	if len(current) > 0 {
		result = append(result, current)
	}
	return result
}

// SplitMessagesByTokenShare partitions messages into parts of roughly equal
// token weight, preserving order.
func SplitMessagesByTokenShare(messages []models.ContextMessage, parts int) [][]models.ContextMessage {
	if len(messages) == 0 {
		return nil
	}
	if parts <= 0 {
		parts = DefaultParts
	}
	if parts == 1 || len(messages) < parts {
		return [][]models.ContextMessage{messages}
	}

	targetPerPart := EstimateMessagesTokens(messages) / parts

	result := make([][]models.ContextMessage, 0, parts)
	var current []models.ContextMessage
	currentTokens := 0

	for i, m := range messages {
		current = append(current, m)
		currentTokens += EstimateTokens(m)

		remainingParts := parts - len(result) - 1
		if i < len(messages)-1 && remainingParts > 0 && currentTokens >= targetPerPart {
			result = append(result, current)
			current = nil
			currentTokens = 0
		}
	}
	if len(current) > 0 {
		result = append(result, current)
	}
	return result
}

// IsOversizedForSummary reports whether a single message exceeds half the
// chunk budget and should be elided from summarization input.
func IsOversizedForSummary(m models.ContextMessage, maxChunkTokens int) bool {
	if maxChunkTokens <= 0 {
		return false
	}
	return float64(EstimateTokens(m)) > float64(maxChunkTokens)*OversizedThreshold
}

// summarizeRange produces the unwrapped summary text for one eviction range,
// choosing between a single summarization request and the chunked multi-pass
// path based on the range's token weight.
func summarizeRange(ctx context.Context, provider CompletionProvider, messages []models.ContextMessage, cfg *models.CompactionConfig, tag string) (string, error) {
	normal, notes := elideOversized(messages)
	if len(normal) == 0 {
		return appendNotes(DefaultSummaryFallback, notes), nil
	}

	if EstimateMessagesTokens(normal) <= DefaultMaxChunkTokens {
		summary, err := summarizeOnce(ctx, provider, normal, cfg, tag)
		if err != nil {
			return "", err
		}
		return appendNotes(summary, notes), nil
	}

	chunks := ChunkMessagesByMaxTokens(normal, DefaultMaxChunkTokens)
	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		summary, err := summarizeOnce(ctx, provider, chunk, cfg, tag)
		if err != nil {
			return "", fmt.Errorf("summarizing chunk %d: %w", i, err)
		}
		summaries = append(summaries, summary)
	}

	merged, err := mergeSummaries(ctx, provider, summaries, cfg, tag)
	if err != nil {
		return "", err
	}
	return appendNotes(merged, notes), nil
}

// elideOversized splits messages into the summarizable set and notes for
// those too large to feed the summary model.
func elideOversized(messages []models.ContextMessage) ([]models.ContextMessage, []string) {
	var normal []models.ContextMessage
	var notes []string
	for _, m := range messages {
		if IsOversizedForSummary(m, DefaultMaxChunkTokens) {
			notes = append(notes, fmt.Sprintf("[Oversized %s message with ~%d tokens - content omitted]", messageRole(m), EstimateTokens(m)))
			continue
		}
		normal = append(normal, m)
	}
	return normal, notes
}

func messageRole(m models.ContextMessage) string {
	if m.Kind == models.MessageTool {
		return "tool"
	}
	return string(m.Role)
}

func appendNotes(summary string, notes []string) string {
	if len(notes) == 0 {
		return summary
	}
	return summary + "\n\n" + strings.Join(notes, "\n")
}

// mergeSummaries folds per-chunk summaries into one via a final completion.
func mergeSummaries(ctx context.Context, provider CompletionProvider, summaries []string, cfg *models.CompactionConfig, tag string) (string, error) {
	if len(summaries) == 0 {
		return DefaultSummaryFallback, nil
	}
	if len(summaries) == 1 {
		return summaries[0], nil
	}

	var body strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&body, "Chunk %d summary:\n%s\n\n", i+1, s)
	}

	prompt := "Merge these chunk summaries into a single coherent summary. Preserve key details and maintain chronological flow. Wrap the result in <" + tag + ">...</" + tag + "> tags.\n\n" + body.String()

	raw, err := runCompletion(ctx, provider, prompt, cfg)
	if err != nil {
		return "", fmt.Errorf("merging summaries: %w", err)
	}
	return extractSummaryTag(raw, tag), nil
}

// runCompletion streams one user-prompt completion against cfg.Model and
// concatenates the text deltas.
func runCompletion(ctx context.Context, provider CompletionProvider, prompt string, cfg *models.CompactionConfig) (string, error) {
	req := &CompletionRequest{
		Model:    string(cfg.Model),
		Messages: []CompletionMessage{{Role: "user", Content: prompt}},
	}
	if cfg.MaxTokens != nil {
		req.MaxTokens = *cfg.MaxTokens
	}

	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var raw strings.Builder
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return "", chunk.Error
		}
		raw.WriteString(chunk.Text)
	}
	return raw.String(), nil
}
