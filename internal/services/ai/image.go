package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/config"
)

// ImageResult is a generated image as base64 data or a URL
type ImageResult struct {
	Base64    string
	URL       string
	Remaining int
}

// QuotaError is the structured rate-limit error for image generation
type QuotaError struct {
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("image quota exhausted: %d/%d used, resets in %s", e.Limit-e.Remaining, e.Limit, e.ResetIn)
}

// ImageGenerator is the image-generation collaborator
type ImageGenerator interface {
	Generate(ctx context.Context, chatID, prompt string) (ImageResult, error)
}

// ImageService generates images with a per-chat trailing-window quota.
// Usage is process-lifetime only: a restart silently resets everyone's
// quota (known limitation, documented rather than fixed).
type ImageService struct {
	client *Client
	cfg    config.ImageQuotaConfig
	usage  map[string][]time.Time
	mu     sync.Mutex
	now    func() time.Time
	logger *logrus.Logger
}

// NewImageService creates the image collaborator
func NewImageService(client *Client, cfg config.ImageQuotaConfig, logger *logrus.Logger) *ImageService {
	return &ImageService{
		client: client,
		cfg:    cfg,
		usage:  make(map[string][]time.Time),
		now:    time.Now,
		logger: logger,
	}
}

// SetClock swaps the time source, for tests
func (s *ImageService) SetClock(now func() time.Time) {
	s.now = now
}

// Generate renders one image for the chat, charging its quota on
// success. When the quota is spent it returns a *QuotaError without
// touching the backend.
func (s *ImageService) Generate(ctx context.Context, chatID, prompt string) (ImageResult, error) {
	remaining, resetIn := s.peekQuota(chatID)
	if remaining <= 0 {
		return ImageResult{}, &QuotaError{Limit: s.cfg.Limit, Remaining: 0, ResetIn: resetIn}
	}

	reqBody := map[string]interface{}{
		"model":           s.client.cfg.ImageModel,
		"prompt":          prompt,
		"n":               1,
		"size":            s.client.cfg.ImageSize,
		"response_format": "b64_json",
	}

	var result struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
			URL     string `json:"url"`
		} `json:"data"`
	}

	start := time.Now()
	err := s.client.post(ctx, "/images/generations", reqBody, &result)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.client.metrics.RecordAIRequest("image", status, time.Since(start))
	if err != nil {
		return ImageResult{}, err
	}

	if len(result.Data) == 0 || (result.Data[0].B64JSON == "" && result.Data[0].URL == "") {
		return ImageResult{}, fmt.Errorf("empty image response")
	}

	left := s.charge(chatID)
	s.logger.WithFields(logrus.Fields{
		"chat_id":   chatID,
		"remaining": left,
	}).Info("Image generated")

	return ImageResult{
		Base64:    result.Data[0].B64JSON,
		URL:       result.Data[0].URL,
		Remaining: left,
	}, nil
}

// peekQuota prunes expired timestamps and reports remaining uses plus
// the time until the oldest in-window use expires.
func (s *ImageService) peekQuota(chatID string) (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.cfg.Window)

	kept := s.usage[chatID][:0]
	for _, ts := range s.usage[chatID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.usage[chatID] = kept

	remaining := s.cfg.Limit - len(kept)
	var resetIn time.Duration
	if len(kept) > 0 {
		resetIn = kept[0].Add(s.cfg.Window).Sub(now)
	}
	return remaining, resetIn
}

func (s *ImageService) charge(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[chatID] = append(s.usage[chatID], s.now())
	return s.cfg.Limit - len(s.usage[chatID])
}
