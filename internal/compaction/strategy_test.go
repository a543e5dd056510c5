package compaction

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgewright/coreloop/pkg/models"
)

// contextFromPattern builds a Context from a DSL string: 's' system, 'u'
// user, 'a' assistant, 't' assistant-with-tool-call, 'r' tool-result.
// Mirrors the fixture builder in compaction_strategy.rs's test module.
func contextFromPattern(pattern string) *models.Context {
	toolCall := models.ToolCallFull{CallID: "call_123", Name: "fs_read", Arguments: json.RawMessage(`{"path":"/test/path"}`)}
	toolResult := models.TextOutput("fs_read", "call_123", `{"content":"File content"}`, false)

	ctx := &models.Context{}
	for _, c := range pattern {
		switch c {
		case 's':
			ctx.AddMessage(models.NewSystemMessage("System message"))
		case 'u':
			ctx.AddMessage(models.NewUserMessage("User message"))
		case 'a':
			ctx.AddMessage(models.NewAssistantMessage("Assistant message", nil, nil))
		case 't':
			ctx.AddMessage(models.NewAssistantMessage("Assistant message with tool call", []models.ToolCallFull{toolCall}, nil))
		case 'r':
			ctx.AddMessage(models.NewToolMessage(toolResult))
		}
	}
	return ctx
}

// seq renders the pattern with [ ] bracketing the selected eviction range,
// or the pattern unchanged if nothing was selected.
func seq(pattern string, preserveLastN int) string {
	ctx := contextFromPattern(pattern)
	start, end, ok := findSequencePreservingLastN(ctx, preserveLastN)
	if !ok {
		return pattern
	}
	out := []rune(pattern)
	result := string(out[:start]) + "[" + string(out[start:end+1]) + "]" + string(out[end+1:])
	return result
}

func TestFindSequencePreservingLastN(t *testing.T) {
	cases := []struct {
		pattern  string
		retain   int
		expected string
	}{
		{"suaaau", 0, "s[uaaau]"},
		{"sua", 0, "s[ua]"},
		{"suauaa", 0, "s[uauaa]"},
		{"suttu", 0, "s[uttu]"},
		{"sutraau", 0, "s[utraau]"},
		{"utrutru", 0, "[utrutru]"},
		{"uttarru", 0, "[uttarru]"},
		{"urru", 0, "[urru]"},
		{"uturu", 0, "[uturu]"},
		{"suaaaauaa", 0, "s[uaaaauaa]"},
		{"suaaaauaa", 3, "s[uaaaa]uaa"},
		{"suaaaauaa", 5, "s[uaa]aauaa"},
		{"suaaaauaa", 8, "suaaaauaa"},
		{"suauaaa", 0, "s[uauaaa]"},
		{"suauaaa", 2, "s[uaua]aa"},
		{"suauaaa", 1, "s[uauaa]a"},
		{"sutrtrtra", 0, "s[utrtrtra]"},
		{"sutrtrtra", 1, "s[utrtrtr]a"},
		{"sutrtrtra", 2, "s[utrtr]tra"},
		{"sutrtrtrra", 2, "s[utrtr]trra"},
		{"sutrtrtrra", 3, "s[utrtr]trra"},
		{"sutrrtrrtrra", 5, "s[utrr]trrtrra"},
		{"sutrrrrrra", 2, "s[u]trrrrrra"},
		{"suauauaua", 0, "s[uauauaua]"},
		{"suauauaua", 2, "s[uauaua]ua"},
		{"suauauaua", 6, "s[ua]uauaua"},
		{"sutruaua", 0, "s[utruaua]"},
		{"sutruaua", 3, "s[utru]aua"},
		{"saua", 0, "s[aua]"},
		{"suaut", 0, "s[uau]t"},
		{"", 0, ""},
		{"s", 0, "s"},
		{"sua", 3, "sua"},
		{"ut", 0, "[u]t"},
		{"suuu", 0, "s[uuu]"},
		{"ut", 1, "ut"},
		{"ua", 0, "[ua]"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, seq(tc.pattern, tc.retain), "pattern=%q retain=%d", tc.pattern, tc.retain)
	}
}

func TestRetainStrategyEvictionRange(t *testing.T) {
	ctx := contextFromPattern("uaua")
	strategy := Retain(1)
	start, end, ok := strategy.EvictionRange(ctx)
	require.True(t, ok)
	assert.Equal(t, 0, start)
	assert.Equal(t, 2, end)
}

func TestEvictStrategyToFixed(t *testing.T) {
	ctx := contextFromPattern("sua")
	strategy := Evict(0.4)
	assert.Equal(t, 2, strategy.ToFixed(ctx))

	clamped := Evict(1.5)
	assert.Equal(t, 2, clamped.ToFixed(ctx))
}

func TestMinMaxCombinators(t *testing.T) {
	ctx := contextFromPattern("uauau")
	evict := Evict(0.6)
	retain := Retain(evict.ToFixed(ctx))

	assert.Equal(t, evict.ToFixed(ctx), Min(evict, retain).ToFixed(ctx))
	assert.Equal(t, evict.ToFixed(ctx), Max(evict, retain).ToFixed(ctx))

	a, b, ok1 := evict.EvictionRange(ctx)
	c, d, ok2 := retain.EvictionRange(ctx)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, a, c)
	assert.Equal(t, b, d)
}

func TestSplice(t *testing.T) {
	ctx := contextFromPattern("suaua")
	spliced := Splice(ctx, 1, 3, "Continuing from a prior analysis.\n<summary>done</summary>")
	require.Len(t, spliced.Messages, 3)
	assert.True(t, spliced.Messages[0].HasRole(models.RoleSystem))
	assert.Equal(t, models.RoleAssistant, spliced.Messages[1].Role)
	assert.Contains(t, spliced.Messages[1].Content, "<summary>done</summary>")
	assert.True(t, spliced.Messages[2].HasRole(models.RoleAssistant))

	// original context is untouched
	assert.Len(t, ctx.Messages, 5)
}

func TestExtractSummaryTag(t *testing.T) {
	raw := "preamble noise <forge_context_summary>the summary</forge_context_summary> trailing"
	assert.Equal(t, "the summary", extractSummaryTag(raw, "forge_context_summary"))

	assert.Equal(t, "no tags here", extractSummaryTag("no tags here", "forge_context_summary"))
}
