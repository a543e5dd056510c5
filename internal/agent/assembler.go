package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/forgewright/coreloop/pkg/models"
)

// inlineToolCallPattern matches the inline tool-call protocol: exactly one
// <forge_tool_call>{"name":...,"arguments":{...}}</forge_tool_call> block
// per assistant message.
var inlineToolCallPattern = regexp.MustCompile(`(?s)<forge_tool_call>(.*?)</forge_tool_call>`)

const inlineToolCallCloseTag = "</forge_tool_call>"

// AssemblerConfig configures Stream Assembler behavior per provider/agent.
type AssemblerConfig struct {
	// InterruptOnInlineToolCall stops consuming the stream as soon as a
	// complete inline tool-call block appears in the accumulated content,
	// rather than waiting for the provider to close the stream itself.
	InterruptOnInlineToolCall bool
}

// partialCall accumulates a tool call's streamed argument fragments,
// grouped by call_id.
type partialCall struct {
	name    string
	argsBuf strings.Builder
}

// Assembler reconstructs one complete assistant turn (text, reasoning, and
// tool calls) from a stream of provider CompletionChunks.
type Assembler struct {
	cfg AssemblerConfig

	content          strings.Builder
	reasoningText    strings.Builder
	reasoningDetails []models.ReasoningDetail
	wholeCalls       []models.ToolCallFull
	parts            map[string]*partialCall
	partialOrder     []string
	usage            *models.Usage
	finishReason     string
	interrupted      bool
	inlineCall       *models.ToolCallFull
}

// NewAssembler returns an Assembler ready to Feed chunks.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	return &Assembler{cfg: cfg, parts: make(map[string]*partialCall)}
}

// Feed consumes one streamed chunk. It returns false once the assembler has
// decided to stop consuming further chunks — an inline tool-call block
// closed the stream early and the caller should cancel the underlying
// provider stream.
func (a *Assembler) Feed(chunk *CompletionChunk) bool {
	if chunk == nil {
		return true
	}

	if chunk.Text != "" {
		a.content.WriteString(chunk.Text)
	}
	if chunk.Thinking != "" {
		a.reasoningText.WriteString(chunk.Thinking)
	}
	if chunk.ReasoningDetail != nil {
		a.reasoningDetails = append(a.reasoningDetails, *chunk.ReasoningDetail)
	}
	if chunk.ToolCall != nil {
		a.wholeCalls = append(a.wholeCalls, models.FromToolCall(*chunk.ToolCall))
	}
	if chunk.ToolCallPart != nil {
		a.feedPart(chunk.ToolCallPart)
	}
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
	if chunk.FinishReason != "" {
		a.finishReason = chunk.FinishReason
	}

	if a.cfg.InterruptOnInlineToolCall && a.inlineCall == nil {
		if call, ok := extractInlineToolCall(a.content.String()); ok {
			a.inlineCall = &call
			a.interrupted = true
			return false
		}
	}
	return true
}

func (a *Assembler) feedPart(p *models.ToolCallPart) {
	acc, ok := a.parts[p.CallID]
	if !ok {
		acc = &partialCall{}
		a.parts[p.CallID] = acc
		a.partialOrder = append(a.partialOrder, p.CallID)
	}
	if p.Name != "" {
		acc.name = p.Name
	}
	acc.argsBuf.WriteString(p.ArgumentsPart)
}

// extractInlineToolCall scans content for a complete inline tool-call
// block and parses its JSON body into a fresh ToolCallFull with a newly
// assigned call id (the inline protocol carries no id of its own).
func extractInlineToolCall(content string) (models.ToolCallFull, bool) {
	m := inlineToolCallPattern.FindStringSubmatch(content)
	if m == nil {
		return models.ToolCallFull{}, false
	}
	var body struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &body); err != nil {
		return models.ToolCallFull{}, false
	}
	return models.ToolCallFull{
		CallID:    "call_" + uuid.NewString(),
		Name:      body.Name,
		Arguments: body.Arguments,
	}, true
}

// AssembledMessage is the Stream Assembler's output: one fully reassembled
// assistant turn, ready to append to the context log.
type AssembledMessage struct {
	Content          string
	ReasoningText    string
	ReasoningDetails []models.ReasoningDetail
	ToolCalls        []models.ToolCallFull
	Usage            *models.Usage
	FinishReason     string
	Interrupted      bool
}

// AssemblerError signals a retryable assembly failure: a partial tool
// call's concatenated argument fragments never formed valid JSON.
type AssemblerError struct {
	CallID  string
	Message string
}

func (e *AssemblerError) Error() string {
	return e.Message + " (call_id=" + e.CallID + ")"
}

// Finish reassembles partial tool-call fragments by call_id and combines
// every tool-call source in order: (a) whole calls, (b) reassembled
// partials, (c) the inline XML call. It is idempotent — calling
// Finish twice returns an identical result since it only reads
// accumulated state.
func (a *Assembler) Finish() (AssembledMessage, error) {
	content := a.content.String()

	if a.interrupted {
		if idx := strings.LastIndex(content, inlineToolCallCloseTag); idx >= 0 {
			content = content[:idx+len(inlineToolCallCloseTag)]
		}
		content += "\n<forge_feedback>Response interrupted by tool result. Use only one tool at the end of the message</forge_feedback>"
	}

	calls := make([]models.ToolCallFull, 0, len(a.wholeCalls)+len(a.partialOrder)+1)
	calls = append(calls, a.wholeCalls...)

	for _, id := range a.partialOrder {
		acc := a.parts[id]
		raw := acc.argsBuf.String()

		var args json.RawMessage
		switch {
		case strings.TrimSpace(raw) == "":
			args = json.RawMessage(`null`)
		case !json.Valid([]byte(raw)):
			return AssembledMessage{}, &AssemblerError{
				CallID:  id,
				Message: "tool call arguments did not form valid JSON after reassembly",
			}
		default:
			args = json.RawMessage(raw)
		}

		calls = append(calls, models.ToolCallFull{CallID: id, Name: acc.name, Arguments: args})
	}

	if a.inlineCall != nil {
		calls = append(calls, *a.inlineCall)
	}

	return AssembledMessage{
		Content:          content,
		ReasoningText:    a.reasoningText.String(),
		ReasoningDetails: foldReasoningDetails(a.reasoningDetails),
		ToolCalls:        calls,
		Usage:            a.usage,
		FinishReason:     a.finishReason,
		Interrupted:      a.interrupted,
	}, nil
}

// foldReasoningDetails groups consecutive fragments sharing a Signature
// into one, concatenating their text.
func foldReasoningDetails(details []models.ReasoningDetail) []models.ReasoningDetail {
	if len(details) == 0 {
		return nil
	}
	out := make([]models.ReasoningDetail, 0, len(details))
	for _, d := range details {
		if n := len(out); n > 0 && out[n-1].Signature == d.Signature {
			out[n-1].Text += d.Text
			continue
		}
		out = append(out, d)
	}
	return out
}
