package websearch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	// maxExtractBodyBytes caps how much of a page is read before text
	// extraction.
	maxExtractBodyBytes = 10 * 1024 * 1024

	// maxExtractChars caps the extracted text handed back to callers.
	maxExtractChars = 10000

	// maxBatchConcurrency limits concurrent extractions in ExtractBatch.
	maxBatchConcurrency = 5

	extractUserAgent = "Mozilla/5.0 (compatible; forgebot/1.0)"
)

// ContentExtractor fetches a page and reduces it to readable text: strip
// chrome tags, pull title/description, then the densest content container.
type ContentExtractor struct {
	httpClient    *http.Client
	skipSSRFCheck bool
}

// NewContentExtractor creates an extractor with SSRF protection enabled.
func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// NewContentExtractorForTesting allows localhost URLs. Tests only.
func NewContentExtractorForTesting() *ContentExtractor {
	return &ContentExtractor{
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		skipSSRFCheck: true,
	}
}

// isPrivateOrReservedIP reports whether ip must never be fetched: loopback,
// link-local, private ranges, unspecified, multicast, or the cloud metadata
// endpoint.
func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	return ip.Equal(net.ParseIP("169.254.169.254"))
}

// validateURLForSSRF rejects URLs that could reach internal services.
func validateURLForSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	lowerHost := strings.ToLower(hostname)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable here may still resolve through a proxy; let the
		// request decide.
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("URL resolves to private/reserved IP address")
		}
	}
	return nil
}

// Extract fetches targetURL and returns its readable text, capped at
// maxExtractChars.
func (e *ContentExtractor) Extract(ctx context.Context, targetURL string) (string, error) {
	if !e.skipSSRFCheck {
		if err := validateURLForSSRF(targetURL); err != nil {
			return "", fmt.Errorf("URL validation failed: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", extractUserAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExtractBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	content := e.extractReadableContent(string(body))
	if len(content) > maxExtractChars {
		content = content[:maxExtractChars] + "..."
	}
	return content, nil
}

// chromeTags are stripped wholesale before any content extraction.
var chromeTags = []string{"script", "style", "noscript", "iframe", "nav", "header", "footer", "aside"}

// extractReadableContent reduces raw HTML to "Title / Description / body
// text" form.
func (e *ContentExtractor) extractReadableContent(html string) string {
	for _, tag := range chromeTags {
		html = removeTagPattern(tag).ReplaceAllString(html, "")
	}

	title := e.extractTitle(html)
	description := e.extractMetaDescription(html)

	content := e.extractMainContent(html)
	if content == "" {
		content = e.extractFromBody(html)
	}
	content = cleanText(content)

	var result strings.Builder
	if title != "" {
		result.WriteString("Title: " + title + "\n\n")
	}
	if description != "" {
		result.WriteString("Description: " + description + "\n\n")
	}
	result.WriteString(content)
	return result.String()
}

var tagPatternCache = map[string]*regexp.Regexp{}

func removeTagPattern(tag string) *regexp.Regexp {
	if re, ok := tagPatternCache[tag]; ok {
		return re
	}
	re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
	tagPatternCache[tag] = re
	return re
}

var (
	titlePattern     = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)
	ogTitlePattern   = regexp.MustCompile(`(?i)<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']*)["']`)
	h1Pattern        = regexp.MustCompile(`(?i)<h1[^>]*>(.*?)</h1>`)
	metaDescPattern  = regexp.MustCompile(`(?i)<meta[^>]*name=["']description["'][^>]*content=["']([^"']*)["']`)
	ogDescPattern    = regexp.MustCompile(`(?i)<meta[^>]*property=["']og:description["'][^>]*content=["']([^"']*)["']`)
	bodyPattern      = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	anyTagPattern    = regexp.MustCompile(`<[^>]*>`)
	lineSpacePattern = regexp.MustCompile(`[^\S\n]+`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
)

// contentContainerPatterns match common main-content containers, in
// preference order.
var contentContainerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<main[^>]*>(.*?)</main>`),
	regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`),
	regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*content[^"']*["'][^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*article[^"']*["'][^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?is)<div[^>]*id=["']content["'][^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?is)<div[^>]*id=["']main["'][^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?is)<div[^>]*role=["']main["'][^>]*>(.*?)</div>`),
}

func (e *ContentExtractor) extractTitle(html string) string {
	for _, re := range []*regexp.Regexp{titlePattern, ogTitlePattern, h1Pattern} {
		if m := re.FindStringSubmatch(html); len(m) > 1 {
			return cleanText(m[1])
		}
	}
	return ""
}

func (e *ContentExtractor) extractMetaDescription(html string) string {
	for _, re := range []*regexp.Regexp{metaDescPattern, ogDescPattern} {
		if m := re.FindStringSubmatch(html); len(m) > 1 {
			return cleanText(m[1])
		}
	}
	return ""
}

func (e *ContentExtractor) extractMainContent(html string) string {
	for _, re := range contentContainerPatterns {
		if m := re.FindStringSubmatch(html); len(m) > 1 {
			text := extractText(m[1])
			// Containers with trivial text are navigation shells; keep
			// looking.
			if len(strings.TrimSpace(text)) > 200 {
				return text
			}
		}
	}
	return ""
}

func (e *ContentExtractor) extractFromBody(html string) string {
	if m := bodyPattern.FindStringSubmatch(html); len(m) > 1 {
		return extractText(m[1])
	}
	return ""
}

var blockTagPattern = regexp.MustCompile(`(?i)</?(?:p|div|h1|h2|h3|h4|h5|h6|li|br)[^>]*>`)

// extractText flattens HTML to plain text, turning block boundaries into
// newlines.
func extractText(html string) string {
	html = blockTagPattern.ReplaceAllString(html, "\n")
	return anyTagPattern.ReplaceAllString(html, "")
}

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
)

// cleanText decodes common entities and normalizes whitespace while
// preserving paragraph breaks.
func cleanText(text string) string {
	text = entityReplacer.Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(lineSpacePattern.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ExtractBatch extracts several URLs concurrently (bounded), returning only
// the successful extractions keyed by URL.
func (e *ContentExtractor) ExtractBatch(ctx context.Context, urls []string) map[string]string {
	type extraction struct {
		url     string
		content string
	}
	resultsChan := make(chan extraction, len(urls))
	sem := make(chan struct{}, maxBatchConcurrency)

	for _, u := range urls {
		sem <- struct{}{}
		go func(targetURL string) {
			defer func() { <-sem }()
			content, err := e.Extract(ctx, targetURL)
			if err != nil {
				content = ""
			}
			resultsChan <- extraction{targetURL, content}
		}(u)
	}

	results := make(map[string]string)
	for range urls {
		if r := <-resultsChan; r.content != "" {
			results[r.url] = r.content
		}
	}
	return results
}
