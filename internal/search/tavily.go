package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/forensight/forensight/internal/circuitbreaker"
	"github.com/forensight/forensight/internal/config"
	"github.com/forensight/forensight/internal/metrics"
	"github.com/forensight/forensight/internal/tracing"
	"github.com/forensight/forensight/internal/util"
)

const (
	defaultBaseURL   = "https://api.tavily.com"
	defaultCacheSize = 256
	defaultCacheTTL  = 10 * time.Minute
	maxResponseBytes = 4 << 20
)

type tavilyRequest struct {
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth,omitempty"`
	MaxResults        int    `json:"max_results,omitempty"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// TavilyClient is a Gateway backed by the Tavily search API. Calls are rate
// limited, guarded by a circuit breaker and cached per (query, maxResults).
type TavilyClient struct {
	apiKey  string
	baseURL string
	depth   string
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	cache   *expirable.LRU[string, []Result]
	logger  *zap.Logger
}

// NewTavilyClient creates a client. Without an API key the client reports
// itself disabled and never touches the network.
func NewTavilyClient(cfg config.SearchConfig, cb circuitbreaker.Settings, logger *zap.Logger) *TavilyClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}

	return &TavilyClient{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		depth:   cfg.SearchDepth,
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "search", "tavily", cb, logger),
		limiter: rate.NewLimiter(limit, burst),
		cache:   expirable.NewLRU[string, []Result](size, nil, ttl),
		logger:  logger,
	}
}

// Enabled reports whether an API key is configured.
func (c *TavilyClient) Enabled() bool {
	return c.apiKey != ""
}

// Search returns up to maxResults snippets for query, or nil on any failure.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) []Result {
	query = strings.TrimSpace(query)
	if !c.Enabled() || query == "" {
		return nil
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	key := fmt.Sprintf("%d|%s", maxResults, query)
	if cached, ok := c.cache.Get(key); ok {
		metrics.SearchCacheHits.Inc()
		return append([]Result(nil), cached...)
	}
	metrics.SearchCacheMisses.Inc()

	results, err := c.do(ctx, query, maxResults)
	if err != nil {
		metrics.RecordSearch("error", 0)
		c.logger.Warn("External search failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	metrics.RecordSearch("success", len(results))
	c.cache.Add(key, results)
	return append([]Result(nil), results...)
}

func (c *TavilyClient) do(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(tavilyRequest{
		Query:       query,
		SearchDepth: c.depth,
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/search"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily status %d: %s", resp.StatusCode, util.TruncateString(string(raw), 200, false))
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	out := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, Result{Title: r.Title, URL: r.URL, Content: r.Content, Score: r.Score})
	}
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// Breaker exposes the breaker guarding the search endpoint.
func (c *TavilyClient) Breaker() *circuitbreaker.Breaker { return c.http.Breaker() }
