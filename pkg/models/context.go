package models

// ReasoningConfig carries extended-thinking parameters through to providers
// that support it.
type ReasoningConfig struct {
	Enabled      bool `json:"enabled,omitempty"`
	BudgetTokens int  `json:"budget_tokens,omitempty"`
}

// Context is the ordered message log plus request-shaping parameters sent
// with every completion request. An assistant message bearing
// tool calls is always immediately followed by its matching tool-result
// messages. A system message, if present, occupies index 0.
type Context struct {
	ConversationID string           `json:"conversation_id,omitempty"`
	Messages       []ContextMessage `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	ToolChoice     *ToolChoice      `json:"tool_choice,omitempty"`
	MaxTokens      *int             `json:"max_tokens,omitempty"`
	Temperature    *float64         `json:"temperature,omitempty"`
	TopP           *float64         `json:"top_p,omitempty"`
	TopK           *int             `json:"top_k,omitempty"`
	Reasoning      *ReasoningConfig `json:"reasoning,omitempty"`
}

// Clone returns a deep-enough copy of the context for concurrent use: the
// Messages slice is copied so appends on one side never alias the other
//.
func (c *Context) Clone() *Context {
	if c == nil {
		return &Context{}
	}
	out := *c
	out.Messages = append([]ContextMessage(nil), c.Messages...)
	out.Tools = append([]ToolDefinition(nil), c.Tools...)
	return &out
}

// AddMessage appends a message to the log.
func (c *Context) AddMessage(msg ContextMessage) *Context {
	c.Messages = append(c.Messages, msg)
	return c
}

// AddToolResults appends one Tool-kind message per result, in order.
func (c *Context) AddToolResults(results []ToolResult) *Context {
	for _, r := range results {
		c.AddMessage(NewToolMessage(r))
	}
	return c
}

// SetFirstSystemMessage installs content as the system message at index 0,
// replacing an existing one in place or inserting a new one.
func (c *Context) SetFirstSystemMessage(content string) *Context {
	if len(c.Messages) == 0 {
		return c.AddMessage(NewSystemMessage(content))
	}
	if c.Messages[0].Kind == MessageText && c.Messages[0].Role == RoleSystem {
		c.Messages[0].Content = content
		return c
	}
	c.Messages = append([]ContextMessage{NewSystemMessage(content)}, c.Messages...)
	return c
}

// AppendMessage appends one assistant message carrying content, reasoning,
// and tool calls, followed by one tool-result message per record, in the
// order the calls and results correspond to each other.
func (c *Context) AppendMessage(content string, reasoning []ReasoningDetail, records []ToolCallResultPair) *Context {
	calls := make([]ToolCallFull, 0, len(records))
	for _, r := range records {
		calls = append(calls, r.Call)
	}
	c.AddMessage(NewAssistantMessage(content, calls, reasoning))
	for _, r := range records {
		c.AddMessage(NewToolMessage(r.Result))
	}
	return c
}

// ToolCallResultPair pairs one assembled tool call with its execution
// result, preserving the order they were issued and resolved in.
type ToolCallResultPair struct {
	Call   ToolCallFull
	Result ToolResult
}

// ToText renders the context as the flattened XML-ish text format used by
// the Compactor's summarization prompt.
func (c *Context) ToText() string {
	out := "<chat_history>"
	for _, m := range c.Messages {
		out += messageToText(m)
	}
	out += "</chat_history>"
	return out
}

func messageToText(m ContextMessage) string {
	switch m.Kind {
	case MessageText:
		s := "<message role=\"" + string(m.Role) + "\">"
		s += "<content>" + m.Content + "</content>"
		for _, call := range m.ToolCalls {
			s += "<forge_tool_call name=\"" + call.Name + "\"><![CDATA[" + string(call.Arguments) + "]]></forge_tool_call>"
		}
		s += "</message>"
		return s
	case MessageTool:
		if m.ToolResult == nil {
			return ""
		}
		return "<message role=\"tool\"><forge_tool_result name=\"" + m.ToolResult.Name + "\"><![CDATA[" + m.ToolResult.FlattenedText() + "]]></forge_tool_result></message>"
	case MessageImage:
		return `<image path="[base64 URL]">`
	default:
		return ""
	}
}

// TokenCount sums each message's character-based token estimate.
func (c *Context) TokenCount() int {
	total := 0
	for _, m := range c.Messages {
		total += messageTokenCount(m)
	}
	return total
}

// messageTokenCount approximates token count from character count (~4
// chars/token), matching the upstream estimator.
func messageTokenCount(m ContextMessage) int {
	var chars int
	switch m.Kind {
	case MessageText:
		if m.Role == RoleUser || m.Role == RoleAssistant {
			chars = len([]rune(m.Content))
			for _, tc := range m.ToolCalls {
				chars += len([]rune(tc.Name)) + len(tc.Arguments)
			}
		}
	case MessageTool:
		if m.ToolResult != nil {
			chars = len([]rune(m.ToolResult.FlattenedText()))
		}
	}
	return (chars + 3) / 4
}

// HasRole reports whether a Text message has the given role (Tool and Image
// messages never match System/Assistant; Image messages count as User).
func (m ContextMessage) HasRole(role Role) bool {
	switch m.Kind {
	case MessageText:
		return m.Role == role
	case MessageImage:
		return role == RoleUser
	default:
		return false
	}
}
