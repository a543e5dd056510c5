package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgewright/coreloop/pkg/models"
)

func textMessage(role models.Role, size int) models.ContextMessage {
	return models.ContextMessage{
		Kind:    models.MessageText,
		Role:    role,
		Content: strings.Repeat("x", size),
	}
}

func TestEstimateTokens(t *testing.T) {
	// ~4 chars/token, rounded up; system messages don't count toward the
	// estimate (they survive every compaction).
	assert.Equal(t, 25, EstimateTokens(textMessage(models.RoleUser, 100)))
	assert.Equal(t, 1, EstimateTokens(textMessage(models.RoleAssistant, 1)))
	assert.Equal(t, 0, EstimateTokens(textMessage(models.RoleSystem, 100)))

	toolMsg := models.NewToolMessage(models.TextOutput("shell", "c1", strings.Repeat("y", 40), false))
	assert.Equal(t, 10, EstimateTokens(toolMsg))
}

func TestChunkMessagesByMaxTokens(t *testing.T) {
	messages := []models.ContextMessage{
		textMessage(models.RoleUser, 400),      // 100 tokens
		textMessage(models.RoleAssistant, 400), // 100 tokens
		textMessage(models.RoleUser, 400),      // 100 tokens
	}

	chunks := ChunkMessagesByMaxTokens(messages, 200)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 1)
}

func TestChunkMessagesByMaxTokens_OversizedMessageGetsOwnChunk(t *testing.T) {
	messages := []models.ContextMessage{
		textMessage(models.RoleUser, 100),
		textMessage(models.RoleAssistant, 4000), // 1000 tokens, over the cap
		textMessage(models.RoleUser, 100),
	}

	chunks := ChunkMessagesByMaxTokens(messages, 200)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[1], 1)
}

func TestChunkMessagesByMaxTokens_NoLimit(t *testing.T) {
	messages := []models.ContextMessage{textMessage(models.RoleUser, 100)}
	chunks := ChunkMessagesByMaxTokens(messages, 0)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 1)

	assert.Nil(t, ChunkMessagesByMaxTokens(nil, 100))
}

func TestSplitMessagesByTokenShare(t *testing.T) {
	messages := []models.ContextMessage{
		textMessage(models.RoleUser, 400),
		textMessage(models.RoleAssistant, 400),
		textMessage(models.RoleUser, 400),
		textMessage(models.RoleAssistant, 400),
	}

	parts := SplitMessagesByTokenShare(messages, 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 2)
	assert.Len(t, parts[1], 2)
}

func TestSplitMessagesByTokenShare_FewerMessagesThanParts(t *testing.T) {
	messages := []models.ContextMessage{textMessage(models.RoleUser, 10)}
	parts := SplitMessagesByTokenShare(messages, 4)
	require.Len(t, parts, 1)
}

func TestIsOversizedForSummary(t *testing.T) {
	small := textMessage(models.RoleUser, 100)
	assert.False(t, IsOversizedForSummary(small, DefaultMaxChunkTokens))

	// Over half the chunk budget.
	big := textMessage(models.RoleUser, DefaultMaxChunkTokens*4)
	assert.True(t, IsOversizedForSummary(big, DefaultMaxChunkTokens))

	assert.False(t, IsOversizedForSummary(big, 0))
}

// scriptedSummarizer returns one canned completion per call and records the
// prompts it saw.
type scriptedSummarizer struct {
	responses []string
	prompts   []string
}

func (s *scriptedSummarizer) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	idx := len(s.prompts)
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.prompts = append(s.prompts, req.Messages[0].Content)

	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Text: s.responses[idx]}
	close(ch)
	return ch, nil
}

func TestSummarize_SingleRequest(t *testing.T) {
	provider := &scriptedSummarizer{responses: []string{
		"<forge_context_summary>read main.go, fixed the loop</forge_context_summary>",
	}}
	cfg := models.NewCompactionConfig("summary-model")

	sub := &models.Context{Messages: []models.ContextMessage{
		textMessage(models.RoleUser, 40),
		textMessage(models.RoleAssistant, 40),
	}}

	wrapped, err := Summarize(context.Background(), provider, sub, cfg)
	require.NoError(t, err)

	assert.Len(t, provider.prompts, 1)
	assert.True(t, strings.HasPrefix(wrapped, summaryPreamble))
	assert.Contains(t, wrapped, "<summary>read main.go, fixed the loop</summary>")
}

func TestSummarize_RawResponseWithoutTag(t *testing.T) {
	provider := &scriptedSummarizer{responses: []string{"plain summary text"}}
	cfg := models.NewCompactionConfig("summary-model")

	sub := &models.Context{Messages: []models.ContextMessage{textMessage(models.RoleUser, 40)}}
	wrapped, err := Summarize(context.Background(), provider, sub, cfg)
	require.NoError(t, err)
	assert.Contains(t, wrapped, "<summary>plain summary text</summary>")
}

func TestSummarize_ChunksOversizedRange(t *testing.T) {
	// Two chunk summaries plus a merge pass.
	provider := &scriptedSummarizer{responses: []string{
		"<forge_context_summary>part one</forge_context_summary>",
		"<forge_context_summary>part two</forge_context_summary>",
		"<forge_context_summary>merged summary</forge_context_summary>",
	}}
	cfg := models.NewCompactionConfig("summary-model")

	// Three messages of ~9k tokens each: the range exceeds the 20k chunk
	// budget, no single message does.
	size := 36000 // chars, ~9000 tokens each
	sub := &models.Context{Messages: []models.ContextMessage{
		textMessage(models.RoleUser, size),
		textMessage(models.RoleAssistant, size),
		textMessage(models.RoleUser, size),
	}}

	wrapped, err := Summarize(context.Background(), provider, sub, cfg)
	require.NoError(t, err)

	require.Len(t, provider.prompts, 3)
	assert.Contains(t, provider.prompts[2], "part one")
	assert.Contains(t, provider.prompts[2], "part two")
	assert.Contains(t, wrapped, "<summary>merged summary</summary>")
}

func TestSummarize_ElidesOversizedMessage(t *testing.T) {
	provider := &scriptedSummarizer{responses: []string{
		"<forge_context_summary>the rest</forge_context_summary>",
	}}
	cfg := models.NewCompactionConfig("summary-model")

	sub := &models.Context{Messages: []models.ContextMessage{
		textMessage(models.RoleUser, 40),
		textMessage(models.RoleAssistant, DefaultMaxChunkTokens*4), // over half the budget
	}}

	wrapped, err := Summarize(context.Background(), provider, sub, cfg)
	require.NoError(t, err)

	// The oversized message never reaches the summary model; a note marks
	// the omission.
	assert.Len(t, provider.prompts, 1)
	assert.NotContains(t, provider.prompts[0], strings.Repeat("x", 200))
	assert.Contains(t, wrapped, "content omitted")
}
