package agent

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/forgewright/coreloop/pkg/models"
)

// SystemPromptVars is the variable set the system-prompt template renders
// against. ToolInformation is populated only when the agent's bound model
// cannot accept native tool-call completions, in which case the template is
// expected to spell out the tool catalog so the model can emit inline
// <forge_tool_call> XML instead.
type SystemPromptVars struct {
	CurrentTime               string
	Env                       map[string]string
	ToolInformation           string
	ToolSupported             bool
	SupportsParallelToolCalls bool
	Files                     []string
	CustomRules               string
	Variables                 map[string]any
}

// UserPromptVars is the variable set the user-prompt template renders
// against.
type UserPromptVars struct {
	Event       models.Event
	Variables   map[string]any
	CurrentTime string
}

// PromptComposer renders an agent's system and user prompt templates and
// folds event attachments into the context log, grounded on the teacher's
// text/template-based VariableEngine (internal/templates/variables.go)
// generalized from free-form variable substitution to the fixed prompt
// variable sets above.
type PromptComposer struct {
	// Now returns the current time used to render {{.CurrentTime}}. Exposed
	// so tests can pin it; defaults to time.Now in NewPromptComposer.
	Now func() time.Time
}

// NewPromptComposer returns a PromptComposer using the real wall clock.
func NewPromptComposer() *PromptComposer {
	return &PromptComposer{Now: time.Now}
}

// ComposeSystemPrompt renders agent.SystemPrompt and installs it as ctx's
// first system message, replacing any existing one; a blank SystemPrompt
// leaves ctx untouched and returns nil. tools is the catalog this turn exposes, used to build
// ToolInformation when !toolSupported.
func (c *PromptComposer) ComposeSystemPrompt(
	ctx *models.Context,
	ag models.Agent,
	toolSupported bool,
	supportsParallelToolCalls bool,
	files []string,
	customRules string,
	env map[string]string,
	variables map[string]any,
	tools []models.ToolDefinition,
) error {
	if strings.TrimSpace(ag.SystemPrompt) == "" {
		return nil
	}

	sortedFiles := append([]string(nil), files...)
	sort.Strings(sortedFiles)

	vars := SystemPromptVars{
		CurrentTime:               c.now().Format(time.RFC3339),
		Env:                       env,
		ToolSupported:             toolSupported,
		SupportsParallelToolCalls: supportsParallelToolCalls,
		Files:                     sortedFiles,
		CustomRules:               customRules,
		Variables:                 variables,
	}
	if !toolSupported {
		vars.ToolInformation = renderToolInformation(tools)
	}

	rendered, err := renderTemplate("system_prompt", ag.SystemPrompt, vars)
	if err != nil {
		return fmt.Errorf("render system prompt: %w", err)
	}
	ctx.SetFirstSystemMessage(rendered)
	return nil
}

// ComposeUserPrompt renders agent.UserPrompt against event (falling back to
// event.Value stringified when the agent has no template, or when the event
// carries no value) and appends it as a user message if the result is
// non-empty.
func (c *PromptComposer) ComposeUserPrompt(ctx *models.Context, ag models.Agent, event models.Event, variables map[string]any) error {
	var rendered string

	if strings.TrimSpace(ag.UserPrompt) != "" && len(event.Value) > 0 {
		vars := UserPromptVars{Event: event, Variables: variables, CurrentTime: c.now().Format(time.RFC3339)}
		out, err := renderTemplate("user_prompt", ag.UserPrompt, vars)
		if err != nil {
			return fmt.Errorf("render user prompt: %w", err)
		}
		rendered = out
	} else {
		rendered = strings.TrimSpace(string(event.Value))
	}

	if rendered == "" {
		return nil
	}
	ctx.AddMessage(models.NewUserMessage(rendered))
	return nil
}

// FoldAttachments appends one message per event attachment: an image
// message for image attachments, otherwise a user message wrapping the
// attachment's content in a <file_content> element.
func (c *PromptComposer) FoldAttachments(ctx *models.Context, attachments []models.Attachment) {
	for _, a := range attachments {
		if isImageAttachment(a) {
			ctx.AddMessage(models.ContextMessage{
				Kind:  models.MessageImage,
				Image: &models.Image{URL: a.URL, Data: a.Data, MimeType: a.MimeType},
			})
			continue
		}

		totalLines := a.TotalLine
		if totalLines == 0 {
			totalLines = strings.Count(string(a.Data), "\n") + 1
		}
		content := fmt.Sprintf(
			`<file_content path="%s" start_line=1 end_line=%d total_lines=%d>%s</file_content>`,
			a.Path, totalLines, totalLines, string(a.Data),
		)
		ctx.AddMessage(models.NewUserMessage(content))
	}
}

func isImageAttachment(a models.Attachment) bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

func (c *PromptComposer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// renderToolInformation builds the human-readable tool catalog a
// tool-unsupported model needs in order to emit inline <forge_tool_call>
// blocks instead of native tool-call completions.
func renderToolInformation(tools []models.ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You do not have native tool-calling support. To invoke a tool, emit exactly one of the following blocks at the end of your message:\n\n")
	b.WriteString("<forge_tool_call>{\"name\": \"<tool_name>\", \"arguments\": { ... }}</forge_tool_call>\n\n")
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		if len(t.Schema) > 0 {
			fmt.Fprintf(&b, "  schema: %s\n", string(t.Schema))
		}
	}
	return b.String()
}

func renderTemplate(name, tmplStr string, vars any) (string, error) {
	t, err := template.New(name).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
