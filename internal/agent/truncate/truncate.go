// Package truncate shapes oversized tool output down to a context-friendly
// size: head/tail line clipping for shell streams, a single character cap
// for fetched bodies, and page-window slicing for search results. Whatever
// is clipped is spilled to a temp file so the full content stays
// recoverable from metadata.
//
// Grounded on internal/tools/exec/manager.go's limitedBuffer byte-cap
// pattern (generalized here from a byte cap to a line-counting head/tail
// clip with spill) and on the single character-count cap already used for
// fetch bodies.
package truncate

import (
	"fmt"
	"os"
	"strings"
)

// LineResult is the outcome of shaping one stream's output by line count.
type LineResult struct {
	// Text is the shaped output: unchanged if Truncated is false, otherwise
	// the head/tail clip with an embedded <truncated> marker.
	Text string

	// Truncated reports whether any lines were clipped.
	Truncated bool

	// HiddenLines is the count of lines omitted from the middle.
	HiddenLines int

	// TempFilePath holds the full, unclipped content on disk when Truncated
	// is true; empty otherwise.
	TempFilePath string
}

// Lines applies head/tail clipping to content, tagged as tag (e.g.
// "stdout", "stderr"). If the total line count is at or below
// prefixLines+suffixLines, the content is returned unchanged. Otherwise the
// first prefixLines and last suffixLines are kept, a <truncated> marker
// reports how many lines were hidden, and the full content is spilled to a
// temp file.
func Lines(tag, content string, prefixLines, suffixLines int) LineResult {
	if content == "" {
		return LineResult{Text: content}
	}

	all := splitLines(content)
	total := len(all)
	if total <= prefixLines+suffixLines {
		return LineResult{Text: content}
	}

	hidden := total - prefixLines - suffixLines
	head := strings.Join(all[:prefixLines], "\n")
	tail := strings.Join(all[total-suffixLines:], "\n")

	path, err := spill(tag, content)
	if err != nil {
		path = ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<%s lines=\"1-%d\">\n%s\n</%s>\n", tag, prefixLines, head, tag)
	fmt.Fprintf(&b, "<truncated>...(%d lines not shown", hidden)
	if path != "" {
		fmt.Fprintf(&b, ", full output saved to %s", path)
	}
	b.WriteString(")...</truncated>\n")
	fmt.Fprintf(&b, "<%s lines=\"%d-%d\">\n%s\n</%s>", tag, prefixLines+hidden+1, total, tail, tag)

	return LineResult{
		Text:         b.String(),
		Truncated:    true,
		HiddenLines:  hidden,
		TempFilePath: path,
	}
}

// CharResult is the outcome of shaping a body by a single character cap
// (used for HTTP fetch bodies, which have no natural line structure).
type CharResult struct {
	Text         string
	Truncated    bool
	TempFilePath string
}

// Chars truncates content to maxChars runes, spilling the full body to a
// temp file when it is cut. maxChars<=0 disables the cap.
func Chars(tag, content string, maxChars int) CharResult {
	if maxChars <= 0 {
		return CharResult{Text: content}
	}
	runes := []rune(content)
	if len(runes) <= maxChars {
		return CharResult{Text: content}
	}

	path, err := spill(tag, content)
	if err != nil {
		path = ""
	}

	clipped := string(runes[:maxChars])
	marker := fmt.Sprintf("\n<truncated>...(%d characters not shown", len(runes)-maxChars)
	if path != "" {
		marker += fmt.Sprintf(", full body saved to %s", path)
	}
	marker += ")...</truncated>"

	return CharResult{Text: clipped + marker, Truncated: true, TempFilePath: path}
}

// EffectiveSearchLimit resolves the paging limit for search tool output:
// min(envMax, inputMax), where either bound of zero/nil means "no limit
// from that source". If both are unset, 0 is returned (no limit).
func EffectiveSearchLimit(envMax int, inputMax *int) int {
	limit := envMax
	if inputMax != nil && *inputMax > 0 {
		if limit <= 0 || *inputMax < limit {
			limit = *inputMax
		}
	}
	return limit
}

// Page slices lines[startIndex-1:] (startIndex is 1-based) down to at most
// limit entries (0 meaning unlimited), returning the page and the 1-based
// index the next call should start from (0 once exhausted).
func Page(lines []string, startIndex, limit int) (page []string, nextIndex int) {
	if startIndex < 1 {
		startIndex = 1
	}
	if startIndex > len(lines) {
		return nil, 0
	}
	start := startIndex - 1
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	page = lines[start:end]
	if end < len(lines) {
		nextIndex = end + 1
	}
	return page, nextIndex
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// spill writes content to a uniquely named temp file tagged with prefix,
// returning its path.
func spill(prefix, content string) (string, error) {
	f, err := os.CreateTemp("", "forge-"+prefix+"-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", err
	}
	return f.Name(), nil
}
