package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/config"
)

// ErrNoResult means the query matched nothing
var ErrNoResult = errors.New("no search result")

// Result is one media lookup hit
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

// Service is the external search collaborator
type Service interface {
	Lookup(ctx context.Context, query string) (Result, error)
}

// HTTPSearch queries a JSON search endpoint and returns the first hit
type HTTPSearch struct {
	cfg        config.SearchConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewHTTPSearch creates the search collaborator
func NewHTTPSearch(cfg config.SearchConfig, logger *logrus.Logger) *HTTPSearch {
	return &HTTPSearch{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Lookup runs one search. Disabled search always reports no result.
func (s *HTTPSearch) Lookup(ctx context.Context, query string) (Result, error) {
	if !s.cfg.Enabled || strings.TrimSpace(query) == "" {
		return Result{}, ErrNoResult
	}

	endpoint := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/search?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create search request: %w", err)
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read search response: %w", err)
	}

	var parsed struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse search response: %w", err)
	}

	if len(parsed.Results) == 0 {
		return Result{}, ErrNoResult
	}
	return parsed.Results[0], nil
}
