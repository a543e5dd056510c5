package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// searxngServer fakes a SearXNG instance returning n results and counts the
// requests it serves.
func searxngServer(t *testing.T, n int, hits *int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		results := make([]map[string]string, n)
		for i := range results {
			results[i] = map[string]string{
				"title":   fmt.Sprintf("Result %d", i+1),
				"url":     fmt.Sprintf("https://example.com/%d", i+1),
				"content": fmt.Sprintf("Snippet %d", i+1),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"query":   r.URL.Query().Get("q"),
			"results": results,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func searchWith(t *testing.T, tool *WebSearchTool, params map[string]any) SearchResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), raw)
	require.NoError(t, err)
	require.False(t, result.IsError, result.Content)

	var response SearchResponse
	require.NoError(t, json.Unmarshal([]byte(result.Content), &response))
	return response
}

func TestWebSearchTool_Schema(t *testing.T) {
	tool := NewWebSearchTool(&Config{})
	assert.Equal(t, "web_search", tool.Name())

	var schema map[string]any
	require.NoError(t, json.Unmarshal(tool.Schema(), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"query", "type", "result_count", "backend", "start_index"} {
		assert.Contains(t, props, field)
	}
}

func TestWebSearchTool_RequiresQuery(t *testing.T) {
	tool := NewWebSearchTool(&Config{})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = tool.Execute(context.Background(), json.RawMessage(`{broken`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWebSearchTool_SearXNG(t *testing.T) {
	server := searxngServer(t, 3, nil)
	tool := NewWebSearchTool(&Config{SearXNGURL: server.URL})

	response := searchWith(t, tool, map[string]any{"query": "golang"})

	assert.Equal(t, BackendSearXNG, response.Backend)
	require.Len(t, response.Results, 3)
	assert.Equal(t, "Result 1", response.Results[0].Title)
	assert.Equal(t, "Snippet 2", response.Results[1].Snippet)
}

func TestWebSearchTool_ResultCountCap(t *testing.T) {
	server := searxngServer(t, 30, nil)
	tool := NewWebSearchTool(&Config{SearXNGURL: server.URL})

	response := searchWith(t, tool, map[string]any{"query": "golang", "result_count": 50})
	// Requests above the cap are clamped to 20.
	assert.LessOrEqual(t, len(response.Results), 20)
}

func TestWebSearchTool_CachesResponses(t *testing.T) {
	hits := 0
	server := searxngServer(t, 2, &hits)
	tool := NewWebSearchTool(&Config{SearXNGURL: server.URL})

	_ = searchWith(t, tool, map[string]any{"query": "cached"})
	_ = searchWith(t, tool, map[string]any{"query": "cached"})
	assert.Equal(t, 1, hits)

	_ = searchWith(t, tool, map[string]any{"query": "different"})
	assert.Equal(t, 2, hits)
}

func TestWebSearchTool_PagingThroughCachedResults(t *testing.T) {
	t.Setenv(envMaxSearchResults, "2")

	hits := 0
	server := searxngServer(t, 5, &hits)
	tool := NewWebSearchTool(&Config{SearXNGURL: server.URL})

	first := searchWith(t, tool, map[string]any{"query": "paged"})
	require.Len(t, first.Results, 2)
	assert.Equal(t, "Result 1", first.Results[0].Title)
	assert.Equal(t, 3, first.NextIndex)

	// Follow-up pages come from the cache without re-querying the backend.
	second := searchWith(t, tool, map[string]any{"query": "paged", "start_index": first.NextIndex})
	require.Len(t, second.Results, 2)
	assert.Equal(t, "Result 3", second.Results[0].Title)
	assert.Equal(t, 5, second.NextIndex)

	last := searchWith(t, tool, map[string]any{"query": "paged", "start_index": second.NextIndex})
	require.Len(t, last.Results, 1)
	assert.Equal(t, 0, last.NextIndex)

	assert.Equal(t, 1, hits)
}

func TestWebSearchTool_StartIndexPastEnd(t *testing.T) {
	server := searxngServer(t, 2, nil)
	tool := NewWebSearchTool(&Config{SearXNGURL: server.URL})

	response := searchWith(t, tool, map[string]any{"query": "short", "start_index": 10})
	assert.Empty(t, response.Results)
	assert.Equal(t, 0, response.NextIndex)
}

func TestWebSearchTool_DefaultBackendSelection(t *testing.T) {
	withSearxng := NewWebSearchTool(&Config{SearXNGURL: "http://searx.local"})
	assert.Equal(t, BackendSearXNG, withSearxng.config.DefaultBackend)

	without := NewWebSearchTool(&Config{})
	assert.Equal(t, BackendDuckDuckGo, without.config.DefaultBackend)
}

func TestWebSearchTool_UnknownBackend(t *testing.T) {
	tool := NewWebSearchTool(&Config{})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"x","backend":"altavista"}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "Unknown backend")
}
