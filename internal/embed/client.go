// Package embed turns text into dense vectors through a remote
// embeddings endpoint.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
)

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	attempts   int
	retryDelay time.Duration
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.EmbeddingsConfig, log *zap.Logger) *Client {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		attempts:   attempts,
		retryDelay: cfg.RetryDelay(),
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		log:        log.Named("embed"),
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests a vector for text, retrying transient failures up to
// the configured attempt count.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			if err := c.pause(ctx); err != nil {
				return nil, err
			}
		}

		vec, retryable, err := c.call(ctx, text)
		if err == nil {
			metrics.ObserveEmbedCall("success")
			return vec, nil
		}
		lastErr = err
		if !retryable {
			metrics.ObserveEmbedCall("permanent")
			return nil, err
		}
		metrics.ObserveEmbedCall("transient")
		c.log.Warn("embedding request failed, will retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.attempts),
			zap.Error(err))
	}
	return nil, fmt.Errorf("embed failed after %d attempts: %w", c.attempts, lastErr)
}

// call performs one request. The second return reports whether the
// failure is worth retrying.
func (c *Client) call(ctx context.Context, text string) ([]float32, bool, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, false, fmt.Errorf("encode embed request: %w", err)
	}

	url := c.baseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("call %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, true, fmt.Errorf("embedding provider error (status %d): %s",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	case resp.StatusCode != http.StatusOK:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, false, fmt.Errorf("embedding provider rejected request (status %d): %s",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, false, fmt.Errorf("embed response carried no vector")
	}
	return parsed.Data[0].Embedding, false, nil
}

func (c *Client) pause(ctx context.Context) error {
	if c.retryDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
