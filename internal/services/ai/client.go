package ai

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

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wa-ai-bot-go/internal/config"
	"github.com/wa-ai-bot-go/internal/middleware"
)

// httpError carries the status code so callers can distinguish quota
// errors from generic unavailability.
type httpError struct {
	Status int
	Body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
}

// retryable reports whether a status class is worth retrying
func retryable(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusConflict, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

// Client is the shared OpenAI-compatible HTTP client. All remote
// generative capabilities (completion, moderation, image generation) go
// through it, with bounded timeouts, bounded retries with exponential
// backoff for retryable status classes, and client-side request
// throttling.
type Client struct {
	cfg        config.OpenAIConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *middleware.Metrics
	logger     *logrus.Logger
}

// NewClient creates the backend client from config
func NewClient(cfg config.OpenAIConfig, metrics *middleware.Metrics, logger *logrus.Logger) *Client {
	rps := float64(cfg.RequestsPerMinute) / 60.0
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout + 5*time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 5),
		metrics: metrics,
		logger:  logger,
	}
}

// post sends one JSON request with retries and decodes the response into out
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	maxAttempts := c.cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = c.postOnce(ctx, path, body, out)
		if lastErr == nil {
			return nil
		}

		var he *httpError
		if errors.As(lastErr, &he) && !retryable(he.Status) {
			return lastErr
		}

		c.logger.WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt,
			"error":   lastErr.Error(),
		}).Warn("Backend request failed")

		if attempt < maxAttempts {
			// Exponential backoff: 2s, 4s, 8s
			wait := time.Duration(2<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

func (c *Client) postOnce(ctx context.Context, path string, body []byte, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &httpError{Status: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
