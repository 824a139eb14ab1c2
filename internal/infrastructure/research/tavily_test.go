package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PostForge/internal/config"
	"PostForge/internal/ports"
)

func TestTavilySearch(t *testing.T) {
	t.Parallel()

	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tvly-key" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"results":[
			{"url":"https://a.example","title":"A","content":"first","score":0.9},
			{"url":"https://b.example","title":"B","content":"second","score":0.4}
		]}`))
	}))
	defer srv.Close()

	client := NewTavilyClient(config.ResearchConfig{BaseURL: srv.URL, APIKey: "tvly-key"})
	sources, err := client.Search(context.Background(), ports.SearchQuery{
		Query:      "postmortems",
		Depth:      ports.DepthAdvanced,
		MaxResults: 5,
		Topic:      "news",
		TimeRange:  "month",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].URL != "https://a.example" || sources[0].Summary != "first" || sources[0].Score != 0.9 {
		t.Fatalf("unexpected first source %+v", sources[0])
	}
	if got.Query != "postmortems" || got.SearchDepth != "advanced" || got.MaxResults != 5 || got.Topic != "news" || got.TimeRange != "month" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestTavilySearchErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewTavilyClient(config.ResearchConfig{BaseURL: srv.URL, APIKey: "k"})
	if _, err := client.Search(context.Background(), ports.SearchQuery{Query: "x"}); err == nil {
		t.Fatal("expected status error")
	}
	if _, err := client.Search(context.Background(), ports.SearchQuery{Query: "  "}); err == nil {
		t.Fatal("expected empty query error")
	}

	noKey := NewTavilyClient(config.ResearchConfig{BaseURL: srv.URL})
	if _, err := noKey.Search(context.Background(), ports.SearchQuery{Query: "x"}); err == nil {
		t.Fatal("expected missing key error")
	}
}
