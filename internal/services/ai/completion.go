package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/wa-ai-bot-go/internal/models"
)

// Completer is the chat-completion collaborator
type Completer interface {
	Complete(ctx context.Context, messages []models.Message, temperature float64) (string, error)
}

// Complete requests a chat completion and returns the reply text. An
// empty completion is an error; the pipeline's fallback path turns any
// error into the degraded-service message.
func (c *Client) Complete(ctx context.Context, messages []models.Message, temperature float64) (string, error) {
	start := time.Now()

	reqBody := map[string]interface{}{
		"model":       c.cfg.Model,
		"messages":    messages,
		"temperature": temperature,
		"max_tokens":  c.cfg.MaxTokens,
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	err := c.post(ctx, "/chat/completions", reqBody, &result)
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordAIRequest("completion", status, time.Since(start))
	if err != nil {
		return "", err
	}

	if result.Error.Message != "" {
		return "", fmt.Errorf("backend error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion")
	}

	return result.Choices[0].Message.Content, nil
}
