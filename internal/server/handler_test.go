package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkumaran/message-search/internal/index"
	"github.com/mkumaran/message-search/pkg/config"
	"github.com/mkumaran/message-search/pkg/health"
)

type searchResponse struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Results  []struct {
		ID string `json:"id"`
	} `json:"results"`
}

func newTestServer(t *testing.T, store *index.Store) *httptest.Server {
	t.Helper()
	h := New(Options{
		Engine: index.NewEngine(index.EngineOptions{MaxPageSize: 100, SubstringFallback: true}),
		Store:  store,
		Search: config.SearchConfig{MaxPageSize: 100, DefaultPageSize: 10},
	})
	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		if !store.Ready() {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no snapshot published yet"}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	srv := httptest.NewServer(h.Routes(checker))
	t.Cleanup(srv.Close)
	return srv
}

func readSearchResponse(t *testing.T, resp *http.Response) searchResponse {
	t.Helper()
	defer resp.Body.Close()
	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func publishedStore() *index.Store {
	store := index.NewStore()
	store.Publish(index.Build([]index.Record{
		{ID: "1", Text: "hello world"},
		{ID: "2", Text: "hello there"},
		{ID: "3", Text: "goodbye world"},
	}))
	return store
}

func TestSearchEndpoint(t *testing.T) {
	srv := newTestServer(t, publishedStore())

	resp, err := http.Get(srv.URL + "/api/v1/search?q=hello&page=1&page_size=10")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := readSearchResponse(t, resp)
	if body.Total != 2 {
		t.Errorf("total = %d, want 2", body.Total)
	}
	if len(body.Results) != 2 || body.Results[0].ID != "1" || body.Results[1].ID != "2" {
		t.Errorf("results = %+v, want records 1 and 2", body.Results)
	}
	if body.Page != 1 || body.PageSize != 10 {
		t.Errorf("pagination echoed wrong: page=%d page_size=%d", body.Page, body.PageSize)
	}
}

func TestSearchEndpointValidation(t *testing.T) {
	srv := newTestServer(t, publishedStore())

	tests := []struct {
		name string
		url  string
	}{
		{"missing q", "/api/v1/search"},
		{"page zero", "/api/v1/search?q=hello&page=0"},
		{"negative page", "/api/v1/search?q=hello&page=-2"},
		{"page_size zero", "/api/v1/search?q=hello&page_size=0"},
		{"non-numeric page", "/api/v1/search?q=hello&page=abc"},
		{"non-numeric page_size", "/api/v1/search?q=hello&page_size=ten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.url)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSearchEndpointOversizedPageClamped(t *testing.T) {
	srv := newTestServer(t, publishedStore())
	resp, err := http.Get(srv.URL + "/api/v1/search?q=hello&page_size=100000")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("oversized page_size rejected with %d, want clamped 200", resp.StatusCode)
	}
	body := readSearchResponse(t, resp)
	if body.PageSize != 100 {
		t.Errorf("page_size = %d, want clamped to 100", body.PageSize)
	}
}

func TestSearchEndpointHugePageNumber(t *testing.T) {
	srv := newTestServer(t, publishedStore())
	resp, err := http.Get(srv.URL + "/api/v1/search?q=hello&page=92233720368547760&page_size=100")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("huge page returned status %d, want 200 with empty page", resp.StatusCode)
	}
	body := readSearchResponse(t, resp)
	if body.Total != 2 || len(body.Results) != 0 {
		t.Errorf("huge page: total=%d results=%d, want total 2 and no items", body.Total, len(body.Results))
	}
}

func TestSearchEndpointZeroMatches(t *testing.T) {
	srv := newTestServer(t, publishedStore())
	resp, err := http.Get(srv.URL + "/api/v1/search?q=zzzzzz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("zero matches returned status %d, want 200", resp.StatusCode)
	}
	body := readSearchResponse(t, resp)
	if body.Total != 0 || len(body.Results) != 0 {
		t.Errorf("zero-match response: total=%d results=%d", body.Total, len(body.Results))
	}
}

func TestSearchEndpointBeforeFirstRefresh(t *testing.T) {
	srv := newTestServer(t, index.NewStore())

	resp, err := http.Get(srv.URL + "/api/v1/search?q=hello")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("not-ready search returned status %d, want 200 with empty result", resp.StatusCode)
	}
	body := readSearchResponse(t, resp)
	if body.Total != 0 || len(body.Results) != 0 {
		t.Errorf("not-ready response: total=%d results=%d", body.Total, len(body.Results))
	}
}

func TestReadinessFollowsFirstPublish(t *testing.T) {
	store := index.NewStore()
	srv := newTestServer(t, store)

	resp, err := http.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readiness before first publish = %d, want 503", resp.StatusCode)
	}

	store.Publish(index.Build(nil))

	resp, err = http.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readiness after publish = %d, want 200", resp.StatusCode)
	}
}

func TestLivenessAlwaysUp(t *testing.T) {
	srv := newTestServer(t, index.NewStore())
	resp, err := http.Get(srv.URL + "/health/live")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("liveness = %d, want 200", resp.StatusCode)
	}
}

func TestLegacySearchPath(t *testing.T) {
	srv := newTestServer(t, publishedStore())

	// The pre-v1 path accepts both its original search_query parameter and q.
	for _, query := range []string{"q=world", "search_query=world"} {
		resp, err := http.Get(srv.URL + "/search?" + query)
		if err != nil {
			t.Fatalf("GET ?%s: %v", query, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("legacy path ?%s status = %d, want 200", query, resp.StatusCode)
		}
		body := readSearchResponse(t, resp)
		if body.Total != 2 {
			t.Errorf("legacy path ?%s total = %d, want 2", query, body.Total)
		}
	}
}
