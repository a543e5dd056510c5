package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgewright/coreloop/pkg/models"
)

func fixedComposer() *PromptComposer {
	return &PromptComposer{Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }}
}

func TestComposeSystemPrompt_ToolUnsupportedIncludesCatalog(t *testing.T) {
	c := fixedComposer()
	ctx := &models.Context{}
	ag := models.NewAgent("forge")
	ag.SystemPrompt = "time={{.CurrentTime}} tools={{.ToolInformation}}"

	tools := []models.ToolDefinition{{Name: "fs_read", Description: "Read a file."}}
	err := c.ComposeSystemPrompt(ctx, ag, false, false, nil, "", nil, nil, tools)
	require.NoError(t, err)
	require.Len(t, ctx.Messages, 1)
	assert.True(t, ctx.Messages[0].HasRole(models.RoleSystem))
	assert.Contains(t, ctx.Messages[0].Content, "2026-01-02")
	assert.Contains(t, ctx.Messages[0].Content, "fs_read")
}

func TestComposeSystemPrompt_ToolSupportedOmitsCatalog(t *testing.T) {
	c := fixedComposer()
	ctx := &models.Context{}
	ag := models.NewAgent("forge")
	ag.SystemPrompt = "tools=[{{.ToolInformation}}]"

	tools := []models.ToolDefinition{{Name: "fs_read", Description: "Read a file."}}
	err := c.ComposeSystemPrompt(ctx, ag, true, true, nil, "", nil, nil, tools)
	require.NoError(t, err)
	assert.Equal(t, "tools=[]", ctx.Messages[0].Content)
}

func TestComposeSystemPrompt_ReplacesExisting(t *testing.T) {
	c := fixedComposer()
	ctx := &models.Context{}
	ctx.AddMessage(models.NewSystemMessage("old"))
	ctx.AddMessage(models.NewUserMessage("hi"))

	ag := models.NewAgent("forge")
	ag.SystemPrompt = "new prompt"
	require.NoError(t, c.ComposeSystemPrompt(ctx, ag, true, false, nil, "", nil, nil, nil))

	require.Len(t, ctx.Messages, 2)
	assert.Equal(t, "new prompt", ctx.Messages[0].Content)
	assert.Equal(t, "hi", ctx.Messages[1].Content)
}

func TestComposeSystemPrompt_NoTemplateIsNoop(t *testing.T) {
	c := fixedComposer()
	ctx := &models.Context{}
	ag := models.NewAgent("forge")
	require.NoError(t, c.ComposeSystemPrompt(ctx, ag, true, false, nil, "", nil, nil, nil))
	assert.Empty(t, ctx.Messages)
}

func TestComposeUserPrompt_RendersTemplate(t *testing.T) {
	c := fixedComposer()
	ctx := &models.Context{}
	ag := models.NewAgent("forge")
	ag.UserPrompt = `Event: {{.Event.Name}}`

	event := models.Event{Name: "user_message", Value: json.RawMessage(`"hello"`)}
	require.NoError(t, c.ComposeUserPrompt(ctx, ag, event, nil))
	require.Len(t, ctx.Messages, 1)
	assert.Equal(t, "Event: user_message", ctx.Messages[0].Content)
}

func TestComposeUserPrompt_FallsBackToStringifiedValue(t *testing.T) {
	c := fixedComposer()
	ctx := &models.Context{}
	ag := models.NewAgent("forge")

	event := models.Event{Name: "user_message", Value: json.RawMessage(`"hello"`)}
	require.NoError(t, c.ComposeUserPrompt(ctx, ag, event, nil))
	require.Len(t, ctx.Messages, 1)
	assert.Equal(t, `"hello"`, ctx.Messages[0].Content)
}

func TestComposeUserPrompt_EmptyValueAppendsNothing(t *testing.T) {
	c := fixedComposer()
	ctx := &models.Context{}
	ag := models.NewAgent("forge")

	require.NoError(t, c.ComposeUserPrompt(ctx, ag, models.Event{Name: "tick"}, nil))
	assert.Empty(t, ctx.Messages)
}

func TestFoldAttachments(t *testing.T) {
	c := fixedComposer()
	ctx := &models.Context{}
	attachments := []models.Attachment{
		{Path: "/tmp/a.png", MimeType: "image/png", Data: []byte{1, 2, 3}},
		{Path: "/tmp/b.txt", MimeType: "text/plain", Data: []byte("line1\nline2"), TotalLine: 2},
	}
	c.FoldAttachments(ctx, attachments)

	require.Len(t, ctx.Messages, 2)
	assert.Equal(t, models.MessageImage, ctx.Messages[0].Kind)
	assert.True(t, ctx.Messages[1].HasRole(models.RoleUser))
	assert.Contains(t, ctx.Messages[1].Content, `path="/tmp/b.txt"`)
	assert.Contains(t, ctx.Messages[1].Content, "total_lines=2")
}
