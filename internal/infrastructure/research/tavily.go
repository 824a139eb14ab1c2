package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"PostForge/internal/config"
	"PostForge/internal/domain"
	"PostForge/internal/ports"
)

// TavilyClient runs web searches against the Tavily search API.
type TavilyClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ ports.Researcher = (*TavilyClient)(nil)

// NewTavilyClient creates a reusable HTTP client.
func NewTavilyClient(cfg config.ResearchConfig) *TavilyClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.tavily.com"
	}
	return &TavilyClient{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"`
	Topic       string `json:"topic,omitempty"`
	TimeRange   string `json:"time_range,omitempty"`
}

type searchResponse struct {
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search sends the query and returns results in the order the service ranked them.
func (c *TavilyClient) Search(ctx context.Context, query ports.SearchQuery) ([]domain.Source, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("tavily: API key is required")
	}
	if strings.TrimSpace(query.Query) == "" {
		return nil, fmt.Errorf("tavily: empty query")
	}

	payload := searchRequest{
		Query:       query.Query,
		SearchDepth: string(query.Depth),
		MaxResults:  query.MaxResults,
		Topic:       query.Topic,
		TimeRange:   query.TimeRange,
	}

	var resp searchResponse
	if err := c.post(ctx, "/search", payload, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Source, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, domain.Source{
			URL:     r.URL,
			Title:   r.Title,
			Summary: r.Content,
			Score:   r.Score,
		})
	}
	return out, nil
}

func (c *TavilyClient) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
