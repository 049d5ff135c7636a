package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/config"
)

// Moderation kinds, part of the cache key so input and output verdicts
// never cross
const (
	ModerationInput  = "input"
	ModerationOutput = "output"
)

// ModerationResult is the verdict for one text
type ModerationResult struct {
	Flagged    bool
	Categories []string
}

// Moderator is the content-moderation collaborator. Callers treat a
// returned error as fail-open.
type Moderator interface {
	Moderate(ctx context.Context, text, kind string) (ModerationResult, error)
}

// ModerationService wraps the backend moderation endpoint with a bounded
// TTL cache. The cache is a performance optimization only.
type ModerationService struct {
	client *Client
	cfg    config.ModerationConfig
	cache  *cache.Cache
	logger *logrus.Logger
}

// NewModerationService creates the moderation collaborator
func NewModerationService(client *Client, cfg config.ModerationConfig, logger *logrus.Logger) *ModerationService {
	return &ModerationService{
		client: client,
		cfg:    cfg,
		cache:  cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		logger: logger,
	}
}

// Moderate checks one text. Disabled moderation always passes.
func (m *ModerationService) Moderate(ctx context.Context, text, kind string) (ModerationResult, error) {
	if !m.cfg.Enabled || strings.TrimSpace(text) == "" {
		return ModerationResult{}, nil
	}

	key := m.cacheKey(text, kind)
	if val, found := m.cache.Get(key); found {
		m.client.metrics.RecordModerationCacheHit()
		return val.(ModerationResult), nil
	}

	reqBody := map[string]interface{}{
		"model": m.cfg.Model,
		"input": text,
	}

	var result struct {
		Results []struct {
			Flagged    bool            `json:"flagged"`
			Categories map[string]bool `json:"categories"`
		} `json:"results"`
	}

	start := time.Now()
	err := m.client.post(ctx, "/moderations", reqBody, &result)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.client.metrics.RecordAIRequest("moderation", status, time.Since(start))
	if err != nil {
		return ModerationResult{}, err
	}

	verdict := ModerationResult{}
	if len(result.Results) > 0 {
		verdict.Flagged = result.Results[0].Flagged
		for category, hit := range result.Results[0].Categories {
			if hit {
				verdict.Categories = append(verdict.Categories, category)
			}
		}
	}

	if m.cache.ItemCount() >= m.cfg.CacheMax {
		m.cache.DeleteExpired()
	}
	m.cache.SetDefault(key, verdict)

	return verdict, nil
}

func (m *ModerationService) cacheKey(text, kind string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	hash := sha256.Sum256([]byte(kind + ":" + normalized))
	return hex.EncodeToString(hash[:])
}
