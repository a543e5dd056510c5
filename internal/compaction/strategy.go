package compaction

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/forgewright/coreloop/pkg/models"
)

// CompletionProvider is the minimal streaming-completion capability the
// Compactor's summarization pass needs from a language-model provider. It is
// declared locally (rather than importing internal/agent's richer
// LLMProvider) so this package stays a leaf the orchestrator can depend on
// without a cycle; the orchestrator adapts its own provider to this
// interface at the call site.
type CompletionProvider interface {
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// CompletionRequest is the Compactor's own narrow view of a completion
// request: a model id and a flat message list, since summarization never
// needs tool calls, attachments, or streaming thinking.
type CompletionRequest struct {
	Model     string
	Messages  []CompletionMessage
	MaxTokens int
}

// CompletionMessage is one message in a CompletionRequest.
type CompletionMessage struct {
	Role    string
	Content string
}

// CompletionChunk is one streamed fragment of a summarization completion.
type CompletionChunk struct {
	Text  string
	Error error
}

// CompactionStrategy unifies the two ways a compaction trigger can express
// how much of the context to retain: a fixed message count, or a percentage
// of tokens to evict (translated to an equivalent fixed count via ToFixed).
// Min/Max combine two strategies by picking the less/more conservative
// retention window.
//
// Ported in spirit from compaction_strategy.rs's CompactionStrategy enum.
type CompactionStrategy interface {
	// ToFixed resolves this strategy to a concrete retention_window value
	// (the number of trailing messages find_sequence never evicts) against
	// the given context.
	ToFixed(ctx *models.Context) int

	// EvictionRange returns the sub-range find_sequence selects for this
	// strategy, or ok=false if nothing should be compacted.
	EvictionRange(ctx *models.Context) (start, end int, ok bool)
}

// Evict retains whatever trailing fraction of total tokens remains once
// percentage of the context's tokens have been marked for eviction.
func Evict(percentage float64) CompactionStrategy {
	return evictStrategy{percentage: percentage}
}

// Retain keeps exactly n trailing messages un-evictable.
func Retain(n int) CompactionStrategy {
	return retainStrategy{n: n}
}

// Min selects whichever of a, b resolves to the smaller retention window
// (the more aggressive eviction).
func Min(a, b CompactionStrategy) CompactionStrategy {
	return minMaxStrategy{a: a, b: b, pickMin: true}
}

// Max selects whichever of a, b resolves to the larger retention window
// (the more conservative eviction).
func Max(a, b CompactionStrategy) CompactionStrategy {
	return minMaxStrategy{a: a, b: b, pickMin: false}
}

type evictStrategy struct{ percentage float64 }

func (s evictStrategy) ToFixed(ctx *models.Context) int {
	pct := s.percentage
	if pct > 1.0 {
		pct = 1.0
	}
	total := ctx.TokenCount()
	budget := int(pct * float64(total))
	if float64(budget) < pct*float64(total) {
		budget++ // ceil
	}

	for i, m := range ctx.Messages {
		if m.HasRole(models.RoleSystem) {
			continue
		}
		budget -= messageTokenEstimate(m)
		if budget <= 0 {
			return i
		}
	}
	if len(ctx.Messages) == 0 {
		return 0
	}
	return len(ctx.Messages) - 1
}

func (s evictStrategy) EvictionRange(ctx *models.Context) (int, int, bool) {
	return findSequencePreservingLastN(ctx, s.ToFixed(ctx))
}

type retainStrategy struct{ n int }

func (s retainStrategy) ToFixed(*models.Context) int { return s.n }

func (s retainStrategy) EvictionRange(ctx *models.Context) (int, int, bool) {
	return findSequencePreservingLastN(ctx, s.n)
}

type minMaxStrategy struct {
	a, b    CompactionStrategy
	pickMin bool
}

func (s minMaxStrategy) ToFixed(ctx *models.Context) int {
	av, bv := s.a.ToFixed(ctx), s.b.ToFixed(ctx)
	if s.pickMin {
		if av < bv {
			return av
		}
		return bv
	}
	if av > bv {
		return av
	}
	return bv
}

func (s minMaxStrategy) EvictionRange(ctx *models.Context) (int, int, bool) {
	return findSequencePreservingLastN(ctx, s.ToFixed(ctx))
}

// messageTokenEstimate approximates a single message's token contribution
// using the same ~4-chars/token rule as Context.TokenCount, but isolated so
// evictStrategy.ToFixed can walk the log incrementally.
func messageTokenEstimate(m models.ContextMessage) int {
	single := &models.Context{Messages: []models.ContextMessage{m}}
	return single.TokenCount()
}

// findSequencePreservingLastN finds the compressible sub-range [start, end]
// that preserves the last maxRetention messages, preserves tool-call and
// parallel-tool-result atomicity, and starts at the first non-system
// message. Ported line-for-line in spirit from
// find_sequence_preserving_last_n in compaction_strategy.rs.
func findSequencePreservingLastN(ctx *models.Context, maxRetention int) (start, end int, ok bool) {
	messages := ctx.Messages
	length := len(messages)
	if length == 0 {
		return 0, 0, false
	}

	start = -1
	for i, m := range messages {
		if !m.HasRole(models.RoleSystem) {
			start = i
			break
		}
	}
	if start < 0 || start >= length {
		return 0, 0, false
	}

	if maxRetention >= length {
		return 0, 0, false
	}

	end = length - maxRetention - 1
	if start > end || end >= length || end-start < 1 {
		return 0, 0, false
	}

	if messages[end].HasToolCalls() {
		if end == start {
			return 0, 0, false
		}
		return start, end - 1, true
	}

	if messages[end].IsToolResult() && end+1 < length && messages[end+1].IsToolResult() {
		for end >= start && messages[end].IsToolResult() {
			end--
		}
		end--
	}

	if end >= start {
		return start, end, true
	}
	return 0, 0, false
}

// defaultCompactionPromptTemplate is rendered with {{context}} and
// {{summary_tag}} when the agent's CompactionConfig carries no custom
// Prompt.
const defaultCompactionPromptTemplate = `Summarize the conversation history below. Capture every decision, file touched, and outstanding task so work can resume without re-reading the original messages. Wrap your summary in <{{summary_tag}}>...</{{summary_tag}}> tags.

<history>
{{context}}
</history>`

const summaryPreamble = "Continuing from a prior analysis. Below is a compacted summary of the ongoing session…"

// Summarize drives the secondary-model completion that produces a
// compressed replacement for context.Messages[start:end+1]: the range is
// summarized in one request (or chunk-by-chunk when it outweighs the chunk
// budget — see summarizeRange), the summary_tag block is extracted (falling
// back to the raw response), and the result is wrapped in the fixed
// preamble.
func Summarize(ctx context.Context, provider CompletionProvider, sub *models.Context, cfg *models.CompactionConfig) (string, error) {
	tag := cfg.SummaryTag
	if tag == "" {
		tag = models.DefaultSummaryTag
	}

	summary, err := summarizeRange(ctx, provider, sub.Messages, cfg, tag)
	if err != nil {
		return "", fmt.Errorf("compaction completion: %w", err)
	}
	return summaryPreamble + "\n<summary>" + summary + "</summary>", nil
}

// summarizeOnce renders the compaction prompt over one contiguous slice of
// messages and runs a single summarization completion.
func summarizeOnce(ctx context.Context, provider CompletionProvider, messages []models.ContextMessage, cfg *models.CompactionConfig, tag string) (string, error) {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultCompactionPromptTemplate
	}
	sub := &models.Context{Messages: messages}
	prompt = strings.ReplaceAll(prompt, "{{context}}", sub.ToText())
	prompt = strings.ReplaceAll(prompt, "{{summary_tag}}", tag)

	raw, err := runCompletion(ctx, provider, prompt, cfg)
	if err != nil {
		return "", err
	}
	return extractSummaryTag(raw, tag), nil
}

func extractSummaryTag(raw, tag string) string {
	pattern := regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(tag) + `>(.*?)</` + regexp.QuoteMeta(tag) + `>`)
	if m := pattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// Splice replaces ctx.Messages[start:end+1] with a single assistant message
// carrying the wrapped summary, leaving every other field of ctx unchanged.
func Splice(ctx *models.Context, start, end int, wrappedSummary string) *models.Context {
	out := ctx.Clone()
	summaryMsg := models.NewAssistantMessage(wrappedSummary, nil, nil)
	replaced := make([]models.ContextMessage, 0, len(out.Messages)-(end-start)+1)
	replaced = append(replaced, out.Messages[:start]...)
	replaced = append(replaced, summaryMsg)
	replaced = append(replaced, out.Messages[end+1:]...)
	out.Messages = replaced
	return out
}

// Compact runs the full Compactor pipeline for one agent: select the
// eviction range with strategy, summarize it against cfg.Model, and splice
// the result back in. It returns ok=false (ctx unchanged) when no range was
// selected.
func Compact(ctx context.Context, provider CompletionProvider, current *models.Context, cfg *models.CompactionConfig, strategy CompactionStrategy) (*models.Context, bool, error) {
	if cfg == nil || strategy == nil {
		return current, false, nil
	}
	start, end, ok := strategy.EvictionRange(current)
	if !ok {
		return current, false, nil
	}

	sub := &models.Context{Messages: append([]models.ContextMessage(nil), current.Messages[start:end+1]...)}
	wrapped, err := Summarize(ctx, provider, sub, cfg)
	if err != nil {
		return current, false, err
	}

	return Splice(current, start, end, wrapped), true, nil
}

// StrategyFromConfig builds the unified CompactionStrategy a CompactionConfig
// implies: Retain(retention_window), narrowed by Min with an Evict(50%)
// safety strategy whenever the config also sets a token budget, matching the
// combinator composition spec.md's percentage-to-fixed equivalence describes.
func StrategyFromConfig(cfg *models.CompactionConfig) CompactionStrategy {
	if cfg == nil {
		return nil
	}
	retain := Retain(cfg.RetentionWindow)
	if cfg.MaxTokens == nil {
		return retain
	}
	return Min(retain, Evict(0.5))
}
