// Package websearch implements the web_search and web_fetch tools: multi-
// backend search with response caching and paged results, and page fetching
// reduced to readable text, both shaped through the Output Truncator before
// anything reaches the model.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/forgewright/coreloop/internal/agent"
	"github.com/forgewright/coreloop/internal/agent/truncate"
)

// envMaxSearchResults bounds how many results one web_search response may
// carry, regardless of what the caller requests.
const envMaxSearchResults = "FORGE_MAX_SEARCH_RESULTS"

// SearchBackend selects which upstream answers a query.
type SearchBackend string

const (
	BackendSearXNG     SearchBackend = "searxng"
	BackendDuckDuckGo  SearchBackend = "duckduckgo"
	BackendBraveSearch SearchBackend = "brave"
)

// SearchType selects web, image, or news search.
type SearchType string

const (
	SearchTypeWeb   SearchType = "web"
	SearchTypeImage SearchType = "image"
	SearchTypeNews  SearchType = "news"
)

const (
	maxCacheSize      = 1000
	maxResultCount    = 20
	searchUserAgent   = extractUserAgent
	defaultResultN    = 5
	defaultCacheTTLSeconds = 300
)

// Config wires backend credentials and defaults for the web_search tool.
type Config struct {
	SearXNGURL         string        `json:"searxng_url,omitempty"`
	BraveAPIKey        string        `json:"brave_api_key,omitempty"`
	DefaultBackend     SearchBackend `json:"default_backend"`
	ExtractContent     bool          `json:"extract_content"`
	DefaultResultCount int           `json:"default_result_count"`
	CacheTTL           int           `json:"cache_ttl"`
}

// SearchParams is the web_search tool's input.
type SearchParams struct {
	Query          string        `json:"query"`
	Type           SearchType    `json:"type,omitempty"`
	ResultCount    int           `json:"result_count,omitempty"`
	ExtractContent bool          `json:"extract_content,omitempty"`
	Backend        SearchBackend `json:"backend,omitempty"`

	// StartIndex pages through an already-fetched (possibly cached) result
	// set without re-querying the backend: 1-based, like the Output
	// Truncator's line paging.
	StartIndex int `json:"start_index,omitempty"`
}

// SearchResult is one result row.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	Content     string `json:"content,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// SearchResponse is the web_search tool's JSON output.
type SearchResponse struct {
	Query       string         `json:"query"`
	Type        SearchType     `json:"type"`
	Results     []SearchResult `json:"results"`
	ResultCount int            `json:"result_count"`
	Backend     SearchBackend  `json:"backend"`

	// NextIndex is the 1-based start_index a follow-up call should pass to
	// continue paging; zero once the result set is exhausted.
	NextIndex int `json:"next_index,omitempty"`
}

type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// WebSearchTool implements web_search over SearXNG, DuckDuckGo, or Brave,
// with a TTL cache keyed by query parameters so start_index paging never
// re-queries the backend.
type WebSearchTool struct {
	config     *Config
	httpClient *http.Client
	extractor  *ContentExtractor
	cache      map[string]*cacheEntry
	cacheMu    sync.RWMutex
}

// NewWebSearchTool applies defaults and builds the tool. With no explicit
// default backend, SearXNG is preferred when configured, DuckDuckGo
// otherwise (it needs no credentials).
func NewWebSearchTool(config *Config) *WebSearchTool {
	if config.DefaultResultCount == 0 {
		config.DefaultResultCount = defaultResultN
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = defaultCacheTTLSeconds
	}
	if config.DefaultBackend == "" {
		if config.SearXNGURL != "" {
			config.DefaultBackend = BackendSearXNG
		} else {
			config.DefaultBackend = BackendDuckDuckGo
		}
	}

	return &WebSearchTool{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		extractor:  NewContentExtractor(),
		cache:      make(map[string]*cacheEntry),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for information. Supports web, image, and news search; can extract full content from result URLs and page through large result sets via start_index."
}

func (t *WebSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query."},
			"type": {"type": "string", "enum": ["web", "image", "news"], "description": "Type of search (default: web)."},
			"result_count": {"type": "integer", "description": "Number of results to fetch (default: 5, max: 20).", "minimum": 1, "maximum": 20},
			"extract_content": {"type": "boolean", "description": "Extract full content from result URLs (default: false)."},
			"backend": {"type": "string", "enum": ["searxng", "duckduckgo", "brave"], "description": "Search backend (default: configured default)."},
			"start_index": {"type": "integer", "description": "1-based index to resume paging through a prior result set (see next_index in the response).", "minimum": 1}
		},
		"required": ["query"]
	}`)
}

// Execute answers from cache when possible, otherwise queries the selected
// backend (falling back to DuckDuckGo on failure), then pages and formats
// the response.
func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var searchParams SearchParams
	if err := json.Unmarshal(params, &searchParams); err != nil {
		return searchError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if searchParams.Query == "" {
		return searchError("Query parameter is required"), nil
	}

	if searchParams.Type == "" {
		searchParams.Type = SearchTypeWeb
	}
	switch {
	case searchParams.ResultCount == 0:
		searchParams.ResultCount = t.config.DefaultResultCount
	case searchParams.ResultCount > maxResultCount:
		searchParams.ResultCount = maxResultCount
	}
	if searchParams.Backend == "" {
		searchParams.Backend = t.config.DefaultBackend
	}
	if !searchParams.ExtractContent {
		searchParams.ExtractContent = t.config.ExtractContent
	}

	cacheKey := t.cacheKey(&searchParams)
	if cached := t.getFromCache(cacheKey); cached != nil {
		return formatResponse(pageResults(cached, searchParams.StartIndex)), nil
	}

	response, err := t.querySelectedBackend(ctx, &searchParams)
	if err != nil {
		return searchError(err.Error()), nil
	}

	if searchParams.ExtractContent && searchParams.Type == SearchTypeWeb {
		t.extractContentForResults(ctx, response)
	}

	t.putInCache(cacheKey, response)
	return formatResponse(pageResults(response, searchParams.StartIndex)), nil
}

// querySelectedBackend dispatches to the requested backend, falling back to
// DuckDuckGo when the primary backend fails (it is the one backend that
// needs no credentials).
func (t *WebSearchTool) querySelectedBackend(ctx context.Context, params *SearchParams) (*SearchResponse, error) {
	var response *SearchResponse
	var err error

	switch params.Backend {
	case BackendSearXNG:
		response, err = t.searchSearXNG(ctx, params)
	case BackendDuckDuckGo:
		return t.searchDuckDuckGo(ctx, params)
	case BackendBraveSearch:
		response, err = t.searchBrave(ctx, params)
	default:
		return nil, fmt.Errorf("Unknown backend: %s", params.Backend)
	}

	if err != nil {
		response, err = t.searchDuckDuckGo(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("Search failed: %w", err)
		}
		response.Backend = BackendDuckDuckGo
	}
	return response, nil
}

// pageResults windows response.Results to an env-bounded page starting at
// startIndex (1-based; <=1 pages from the beginning).
func pageResults(response *SearchResponse, startIndex int) *SearchResponse {
	envLimit := 0
	if raw := os.Getenv(envMaxSearchResults); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			envLimit = parsed
		}
	}
	limit := truncate.EffectiveSearchLimit(envLimit, nil)
	if startIndex <= 1 && limit == 0 {
		return response
	}
	if startIndex < 1 {
		startIndex = 1
	}

	paged := *response
	start := startIndex - 1
	if start >= len(response.Results) {
		paged.Results = nil
		paged.ResultCount = 0
		return &paged
	}

	end := len(response.Results)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	paged.Results = response.Results[start:end]
	paged.ResultCount = len(paged.Results)
	if end < len(response.Results) {
		paged.NextIndex = end + 1
	} else {
		paged.NextIndex = 0
	}
	return &paged
}

func formatResponse(response *SearchResponse) *agent.ToolResult {
	output, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return searchError(fmt.Sprintf("Failed to format response: %v", err))
	}
	return &agent.ToolResult{Content: string(output)}
}

func searchError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}

func (t *WebSearchTool) cacheKey(params *SearchParams) string {
	return fmt.Sprintf("%s:%s:%d:%v:%s",
		params.Backend, params.Type, params.ResultCount, params.ExtractContent, params.Query)
}

func (t *WebSearchTool) getFromCache(key string) *SearchResponse {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()

	entry, exists := t.cache[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

// putInCache stores a response with TTL, dropping expired entries first and
// evicting the soonest-to-expire entries if the cache is still full.
func (t *WebSearchTool) putInCache(key string, response *SearchResponse) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()

	now := time.Now()
	for k, v := range t.cache {
		if now.After(v.expiresAt) {
			delete(t.cache, k)
		}
	}
	for len(t.cache) >= maxCacheSize {
		oldestKey := ""
		var oldestTime time.Time
		for k, v := range t.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey, oldestTime = k, v.expiresAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(t.cache, oldestKey)
	}

	t.cache[key] = &cacheEntry{
		response:  response,
		expiresAt: now.Add(time.Duration(t.config.CacheTTL) * time.Second),
	}
}

// extractContentForResults fills Result.Content for each result URL,
// concurrently.
func (t *WebSearchTool) extractContentForResults(ctx context.Context, response *SearchResponse) {
	var wg sync.WaitGroup
	for i := range response.Results {
		wg.Add(1)
		go func(result *SearchResult) {
			defer wg.Done()
			if content, err := t.extractor.Extract(ctx, result.URL); err == nil && content != "" {
				result.Content = content
			}
		}(&response.Results[i])
	}
	wg.Wait()
}

// getJSON issues a GET against rawURL and decodes the JSON body into out.
func (t *WebSearchTool) getJSON(ctx context.Context, rawURL string, headers map[string]string, backend string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", backend, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (t *WebSearchTool) searchSearXNG(ctx context.Context, params *SearchParams) (*SearchResponse, error) {
	if t.config.SearXNGURL == "" {
		return nil, fmt.Errorf("SearXNG URL not configured")
	}
	searchURL, err := url.Parse(t.config.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid SearXNG URL: %w", err)
	}

	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("format", "json")
	query.Set("pageno", "1")
	switch params.Type {
	case SearchTypeImage:
		query.Set("categories", "images")
	case SearchTypeNews:
		query.Set("categories", "news")
	default:
		query.Set("categories", "general")
	}
	searchURL.Path = "/search"
	searchURL.RawQuery = query.Encode()

	var searxngResp struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Content       string `json:"content"`
			ImgSrc        string `json:"img_src,omitempty"`
			PublishedDate string `json:"publishedDate,omitempty"`
		} `json:"results"`
	}
	if err := t.getJSON(ctx, searchURL.String(), nil, "SearXNG", &searxngResp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, params.ResultCount)
	for _, r := range searxngResp.Results {
		if len(results) >= params.ResultCount {
			break
		}
		results = append(results, SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Content,
			ImageURL:    r.ImgSrc,
			PublishedAt: r.PublishedDate,
		})
	}

	return t.newResponse(params, results, BackendSearXNG), nil
}

func (t *WebSearchTool) searchDuckDuckGo(ctx context.Context, params *SearchParams) (*SearchResponse, error) {
	instantURL := "https://api.duckduckgo.com/?q=" + url.QueryEscape(params.Query) + "&format=json&no_html=1"

	var ddgResp struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := t.getJSON(ctx, instantURL, nil, "DuckDuckGo", &ddgResp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, params.ResultCount)
	if ddgResp.AbstractText != "" && ddgResp.AbstractURL != "" {
		results = append(results, SearchResult{
			Title:   ddgResp.Heading,
			URL:     ddgResp.AbstractURL,
			Snippet: ddgResp.AbstractText,
		})
	}
	for _, topic := range ddgResp.RelatedTopics {
		if len(results) >= params.ResultCount {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		results = append(results, SearchResult{
			Title:   topic.Text[:min(len(topic.Text), 100)],
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}

	return t.newResponse(params, results, BackendDuckDuckGo), nil
}

func (t *WebSearchTool) searchBrave(ctx context.Context, params *SearchParams) (*SearchResponse, error) {
	if t.config.BraveAPIKey == "" {
		return nil, fmt.Errorf("Brave API key not configured")
	}

	endpoint := "/web/search"
	switch params.Type {
	case SearchTypeImage:
		endpoint = "/images/search"
	case SearchTypeNews:
		endpoint = "/news/search"
	}

	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("count", strconv.Itoa(params.ResultCount))
	searchURL := "https://api.search.brave.com/res/v1" + endpoint + "?" + query.Encode()
	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": t.config.BraveAPIKey,
	}

	var results []SearchResult
	switch params.Type {
	case SearchTypeImage:
		var braveResp struct {
			Results []struct {
				Title     string `json:"title"`
				Thumbnail struct {
					Src string `json:"src"`
				} `json:"thumbnail"`
				Properties struct {
					URL string `json:"url"`
				} `json:"properties"`
			} `json:"results"`
		}
		if err := t.getJSON(ctx, searchURL, headers, "Brave API", &braveResp); err != nil {
			return nil, err
		}
		for _, r := range braveResp.Results {
			results = append(results, SearchResult{Title: r.Title, URL: r.Properties.URL, ImageURL: r.Thumbnail.Src})
		}

	case SearchTypeNews:
		var braveResp struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"age"`
			} `json:"results"`
		}
		if err := t.getJSON(ctx, searchURL, headers, "Brave API", &braveResp); err != nil {
			return nil, err
		}
		for _, r := range braveResp.Results {
			results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description, PublishedAt: r.Age})
		}

	default:
		var braveResp struct {
			Web struct {
				Results []struct {
					Title       string `json:"title"`
					URL         string `json:"url"`
					Description string `json:"description"`
				} `json:"results"`
			} `json:"web"`
		}
		if err := t.getJSON(ctx, searchURL, headers, "Brave API", &braveResp); err != nil {
			return nil, err
		}
		for _, r := range braveResp.Web.Results {
			results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
		}
	}

	return t.newResponse(params, results, BackendBraveSearch), nil
}

func (t *WebSearchTool) newResponse(params *SearchParams, results []SearchResult, backend SearchBackend) *SearchResponse {
	return &SearchResponse{
		Query:       params.Query,
		Type:        params.Type,
		Results:     results,
		ResultCount: len(results),
		Backend:     backend,
	}
}
