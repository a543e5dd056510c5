// Package context tracks how much of a model's context window a
// conversation has consumed, so the turn loop can warn before a completion
// request no longer fits.
package context

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultContextWindow is assumed for unknown models.
	DefaultContextWindow = 128000

	// MinContextWindow is the remaining-token floor below which further
	// requests are likely to be rejected.
	MinContextWindow = 16000

	// WarnBelowTokens is the remaining-token level that triggers a warning.
	WarnBelowTokens = 32000

	// TokensPerChar approximates tokens from character count (~4 chars per
	// token).
	TokensPerChar = 0.25
)

// ModelContextWindows maps model id prefixes to context window sizes.
// Lookup prefers the longest matching prefix, so versioned ids like
// "claude-sonnet-4-20250514" resolve through their family entry.
var ModelContextWindows = map[string]int{
	"claude-sonnet-4":   200000,
	"claude-opus-4":     200000,
	"claude-3-5-sonnet": 200000,
	"claude-3-5-haiku":  200000,
	"claude-3":          200000,

	"gpt-4o":      128000,
	"gpt-4-turbo": 128000,
	"gpt-4":       8192,
	"o1":          200000,
	"o3-mini":     200000,

	"gemini-2.0-flash": 1048576,
	"gemini-1.5-pro":   2097152,
	"gemini-1.5-flash": 1048576,
}

// LookupModelContextWindow resolves a model id to its context window size by
// exact match, then longest prefix match.
func LookupModelContextWindow(modelID string) (int, bool) {
	if tokens, ok := ModelContextWindows[modelID]; ok {
		return tokens, true
	}

	bestLen, bestTokens := 0, 0
	for prefix, tokens := range ModelContextWindows {
		if strings.HasPrefix(modelID, prefix) && len(prefix) > bestLen {
			bestLen, bestTokens = len(prefix), tokens
		}
	}
	if bestLen > 0 {
		return bestTokens, true
	}
	return 0, false
}

// RegisterModelContextWindow adds or overrides a model's window size, for
// hosts wiring in models the table doesn't know.
func RegisterModelContextWindow(modelID string, tokens int) {
	ModelContextWindows[modelID] = tokens
}

// Window tracks used tokens against one model's window size.
type Window struct {
	totalTokens int
	usedTokens  int
	source      string
}

// NewWindow builds a Window of the given size; non-positive sizes fall back
// to the default.
func NewWindow(totalTokens int, source string) *Window {
	if totalTokens <= 0 {
		totalTokens = DefaultContextWindow
		source = "default"
	}
	return &Window{totalTokens: totalTokens, source: source}
}

// NewWindowForModel builds a Window sized from the model table.
func NewWindowForModel(modelID string) *Window {
	if tokens, ok := LookupModelContextWindow(modelID); ok {
		return NewWindow(tokens, "model")
	}
	return NewWindow(DefaultContextWindow, "default")
}

// SetUsed records the current used-token count (typically the estimated
// context size after a completion).
func (w *Window) SetUsed(tokens int) {
	w.usedTokens = tokens
}

// Remaining returns the unconsumed token count, floored at zero.
func (w *Window) Remaining() int {
	if remaining := w.totalTokens - w.usedTokens; remaining > 0 {
		return remaining
	}
	return 0
}

// CanFit reports whether tokens more would still fit.
func (w *Window) CanFit(tokens int) bool {
	return w.Remaining() >= tokens
}

// Info snapshots the window state.
func (w *Window) Info() *WindowInfo {
	var usedPercent float64
	if w.totalTokens > 0 {
		usedPercent = float64(w.usedTokens) / float64(w.totalTokens) * 100
	}
	return &WindowInfo{
		TotalTokens:     w.totalTokens,
		UsedTokens:      w.usedTokens,
		RemainingTokens: w.Remaining(),
		UsedPercent:     usedPercent,
		Source:          w.source,
	}
}

// WindowInfo is a point-in-time view of a Window.
type WindowInfo struct {
	TotalTokens     int     `json:"total_tokens"`
	UsedTokens      int     `json:"used_tokens"`
	RemainingTokens int     `json:"remaining_tokens"`
	UsedPercent     float64 `json:"used_percent"`
	Source          string  `json:"source"`
}

// ShouldWarn reports that the context is getting low.
func (w *WindowInfo) ShouldWarn() bool {
	return w.RemainingTokens < WarnBelowTokens
}

// ShouldBlock reports that the context is too low to continue.
func (w *WindowInfo) ShouldBlock() bool {
	return w.RemainingTokens < MinContextWindow
}

// Status is "ok", "warning", or "critical".
func (w *WindowInfo) Status() string {
	switch {
	case w.ShouldBlock():
		return "critical"
	case w.ShouldWarn():
		return "warning"
	default:
		return "ok"
	}
}

func (w *WindowInfo) String() string {
	return fmt.Sprintf("%d/%d tokens (%.1f%% used, %s)",
		w.UsedTokens, w.TotalTokens, w.UsedPercent, w.Status())
}

// EstimateTokens approximates the token count of text, Unicode-aware, with
// a minimum of one token for non-empty text.
func EstimateTokens(text string) int {
	charCount := utf8.RuneCountInString(text)
	tokens := int(float64(charCount) * TokensPerChar)
	if tokens == 0 && charCount > 0 {
		return 1
	}
	return tokens
}
