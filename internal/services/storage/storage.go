package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/config"
	"github.com/wa-ai-bot-go/internal/models"
)

// Limits caps the FIFO-bounded collections per chat
type Limits struct {
	MaxHistory      int
	MaxQuickReplies int
	MaxResponses    int
}

// Store owns all per-chat conversation state. ChatState is created
// lazily on first access and mutated only through these operations.
type Store interface {
	// GetState returns the chat's state, creating an empty one if needed.
	// The returned value is a copy; callers never mutate it in place.
	GetState(ctx context.Context, chatID string) (*models.ChatState, error)

	// RecordInteraction appends the exchange to history and the response
	// log, and to the quick-reply log when the source is the predefined
	// keyword path. All three are FIFO-trimmed to their caps.
	RecordInteraction(ctx context.Context, chatID, message, reply, source string) error

	// ResponseLog returns the chat's durable log, oldest first
	ResponseLog(ctx context.Context, chatID string) ([]models.ResponseLogEntry, error)

	// Stats summarizes the response log by source tag
	Stats(ctx context.Context, chatID string) (models.ChatStats, error)

	// Reset clears history, quick replies and the response log for the
	// chat, forcing an immediate flush of the deletion.
	Reset(ctx context.Context, chatID string) error

	// Flush synchronously persists any pending writes
	Flush() error

	Close() error
}

// Manager selects and wraps the configured backend
type Manager struct {
	Store
	logger *logrus.Logger
}

// NewManager builds the store from config
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	limits := Limits{
		MaxHistory:      cfg.Limits.MaxSavedHistory,
		MaxQuickReplies: cfg.Limits.MaxSavedQuickReplies,
		MaxResponses:    cfg.Limits.MaxSavedResponses,
	}

	var store Store
	var err error

	switch cfg.Storage.Type {
	case "file", "":
		store, err = NewFileStore(cfg.Storage.File, limits, logger)
	case "redis":
		store, err = NewRedisStore(cfg.Storage.Redis, limits, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if err != nil {
		return nil, err
	}

	return &Manager{Store: store, logger: logger}, nil
}

// trimHistory keeps the newest entries, oldest evicted first
func trimHistory(history []models.Message, max int) []models.Message {
	if max > 0 && len(history) > max {
		return append([]models.Message(nil), history[len(history)-max:]...)
	}
	return history
}

func trimQuickReplies(qr []models.QuickReply, max int) []models.QuickReply {
	if max > 0 && len(qr) > max {
		return append([]models.QuickReply(nil), qr[len(qr)-max:]...)
	}
	return qr
}

func trimLog(log []models.ResponseLogEntry, max int) []models.ResponseLogEntry {
	if max > 0 && len(log) > max {
		return append([]models.ResponseLogEntry(nil), log[len(log)-max:]...)
	}
	return log
}

func statsFromLog(log []models.ResponseLogEntry) models.ChatStats {
	stats := models.ChatStats{BySource: make(map[string]int)}
	for _, entry := range log {
		stats.Total++
		stats.BySource[entry.Source]++
		if entry.Timestamp.After(stats.LastSeen) {
			stats.LastSeen = entry.Timestamp
		}
	}
	return stats
}

// applyInteraction mutates one chat record with a finished exchange
func applyInteraction(state *models.ChatState, log []models.ResponseLogEntry, message, reply, source string, limits Limits, now time.Time) []models.ResponseLogEntry {
	state.History = append(state.History,
		models.Message{Role: models.RoleUser, Content: message},
		models.Message{Role: models.RoleAssistant, Content: reply},
	)
	state.History = trimHistory(state.History, limits.MaxHistory)

	if source == models.SourcePredefined {
		state.QuickReplies = append(state.QuickReplies, models.QuickReply{
			UserMessage: message,
			Reply:       reply,
			Timestamp:   now,
		})
		state.QuickReplies = trimQuickReplies(state.QuickReplies, limits.MaxQuickReplies)
	}

	log = append(log, models.ResponseLogEntry{
		Message:   message,
		Reply:     reply,
		Source:    source,
		Timestamp: now,
	})
	return trimLog(log, limits.MaxResponses)
}
