// Package summarize drives LLM summary generation for the corpus: a
// chat-completions client that classifies every call, and a retrying
// wrapper that coordinates workers through the shared throttle.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/config"
)

// Outcome classifies a single remote call for the retry loop. The
// classification happens once, here at the HTTP boundary; nothing past
// it inspects status codes or error internals.
type Outcome int

const (
	// OutcomeSuccess carries a generated summary.
	OutcomeSuccess Outcome = iota
	// OutcomeRateLimited means the provider is shedding load (HTTP 429).
	OutcomeRateLimited
	// OutcomeTransient covers network errors, timeouts and 5xx replies.
	OutcomeTransient
	// OutcomePermanent covers malformed responses and non-retryable
	// rejections; the item fails without another attempt.
	OutcomePermanent
)

// String names the outcome for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Caller issues one summarization call and classifies its result.
type Caller interface {
	Complete(ctx context.Context, content string) (string, Outcome, error)
}

// Client talks to an OpenAI-style chat-completions endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	prompt      string
	temperature float64
	httpClient  *http.Client
	log         *zap.Logger
}

// NewClient builds a Client from the summarizer configuration.
func NewClient(cfg config.SummarizerConfig, log *zap.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		prompt:      cfg.Prompt,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		log:         log.Named("summarize"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat-completion request carrying the instruction
// prompt plus the article body and returns the generated summary.
func (c *Client) Complete(ctx context.Context, content string) (string, Outcome, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: c.prompt + "\n\n" + content},
		},
		Temperature: c.temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", OutcomePermanent, fmt.Errorf("encode chat request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", OutcomePermanent, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Debug("requesting summary", zap.String("model", c.model), zap.Int("content_bytes", len(content)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", OutcomeTransient, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", OutcomeRateLimited, fmt.Errorf("provider rate limited (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", OutcomeTransient, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	case resp.StatusCode != http.StatusOK:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", OutcomePermanent, fmt.Errorf("provider rejected request (status %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", OutcomePermanent, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", OutcomePermanent, fmt.Errorf("chat response carried no summary text")
	}

	return parsed.Choices[0].Message.Content, OutcomeSuccess, nil
}
