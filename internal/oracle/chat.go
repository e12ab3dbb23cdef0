package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/circuitbreaker"
	"github.com/forensight/forensight/internal/config"
	"github.com/forensight/forensight/internal/metrics"
	"github.com/forensight/forensight/internal/tracing"
)

const maxResponseBytes = 8 << 20

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Temperature    float64           `json:"temperature"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ChatClient is an Oracle backed by an OpenAI-compatible chat completions
// endpoint. Transport failures, 5xx and 429 are retried with exponential
// backoff; output that does not parse or validate is not.
type ChatClient struct {
	model       string
	apiKey      string
	baseURL     string
	temperature float64
	jsonMode    bool
	maxRetries  int
	http        *circuitbreaker.HTTPWrapper
	newBackoff  func() backoff.BackOff
	logger      *zap.Logger
}

// NewChatClient creates a client from the llm config section.
func NewChatClient(cfg config.LLMConfig, cb circuitbreaker.Settings, logger *zap.Logger) *ChatClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &ChatClient{
		model:       cfg.Model,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: cfg.Temperature,
		jsonMode:    cfg.JSONMode,
		maxRetries:  retries,
		http:        circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "oracle", "llm", cb, logger),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 4 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		logger: logger,
	}
}

// SupportsIteration is always true for a live model.
func (c *ChatClient) SupportsIteration() bool { return true }

// Generate sends one system+user exchange and returns the parsed object.
func (c *ChatClient) Generate(ctx context.Context, system, user string, schema Schema) (map[string]any, error) {
	purpose := PurposeFrom(ctx)
	ctx, span := tracing.StartSpan(ctx, "oracle.generate", attribute.String("oracle.purpose", purpose))
	start := time.Now()

	obj, err := c.generate(ctx, system, user, schema)

	status := "success"
	var te *TransportError
	var pe *ParseError
	switch {
	case errors.As(err, &te):
		status = "transport_error"
	case errors.As(err, &pe):
		status = "parse_error"
	case err != nil:
		status = "error"
	}
	metrics.RecordOracleCall(purpose, status, time.Since(start).Seconds())
	tracing.EndSpan(span, err)
	return obj, err
}

func (c *ChatClient) generate(ctx context.Context, system, user string, schema Schema) (map[string]any, error) {
	if len(schema) > 0 {
		hint, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema: %w", err)
		}
		user += "\n\nReturn JSON only that matches this schema (no markdown):\n" + string(hint)
	}
	payload := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	if c.jsonMode {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var content string
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			metrics.OracleTransportRetries.Inc()
		}
		text, err := c.post(ctx, body)
		if err != nil {
			var te *TransportError
			if errors.As(err, &te) {
				c.logger.Warn("Oracle call failed",
					zap.Int("attempt", attempt),
					zap.Int("status", te.StatusCode),
					zap.Error(te.Err))
				return err
			}
			return backoff.Permanent(err)
		}
		content = text
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackoff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}

	obj, err := ParseObject(content)
	if err != nil {
		return nil, err
	}
	if err := Validate(schema, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (c *ChatClient) post(ctx context.Context, body []byte) (string, error) {
	url := c.baseURL + "/v1/chat/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", &TransportError{StatusCode: resp.StatusCode, Err: errors.New(snippet(raw))}
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("oracle request rejected: status %d: %s", resp.StatusCode, snippet(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ParseError{Raw: snippet(raw), Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &ParseError{Raw: snippet(raw), Err: errors.New("no choices in response")}
	}
	return parsed.Choices[0].Message.Content, nil
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		b = b[:n]
	}
	return strings.TrimSpace(string(b))
}

// Breaker exposes the breaker guarding the chat endpoint.
func (c *ChatClient) Breaker() *circuitbreaker.Breaker { return c.http.Breaker() }
