package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/config"
	"github.com/wa-ai-bot-go/internal/models"
)

const responseLogFile = "responses.json"

// FileStore keeps all chat state in memory and persists the response
// log (the durable source of truth) to a pretty-printed JSON file.
// Writes are debounced through a write-behind flusher; Reset and Close
// flush immediately. History and quick replies are rehydrated from the
// log on startup.
type FileStore struct {
	path   string
	limits Limits
	logger *logrus.Logger

	mu     sync.Mutex
	chats  map[string]*chatRecord
	dirty  bool
	done   chan struct{}
	closed sync.Once
}

type chatRecord struct {
	state models.ChatState
	log   []models.ResponseLogEntry
}

// NewFileStore loads the response log (normalizing legacy records) and
// starts the flusher.
func NewFileStore(cfg config.FileStorage, limits Limits, logger *logrus.Logger) (*FileStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	s := &FileStore{
		path:   filepath.Join(cfg.Dir, responseLogFile),
		limits: limits,
		logger: logger,
		chats:  make(map[string]*chatRecord),
		done:   make(chan struct{}),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	go s.flushLoop(interval)

	return s, nil
}

// load reads the on-disk response log and rehydrates per-chat state.
// Malformed entries are normalized or dropped, never fatal.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read response log: %w", err)
	}

	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.WithError(err).Warn("Response log unreadable, starting empty")
		return nil
	}

	for chatID, rawEntries := range raw {
		log := normalizeEntries(rawEntries, s.logger)
		log = trimLog(log, s.limits.MaxResponses)

		record := &chatRecord{
			state: models.ChatState{ChatID: chatID},
			log:   log,
		}
		for _, entry := range log {
			record.state.History = append(record.state.History,
				models.Message{Role: models.RoleUser, Content: entry.Message},
				models.Message{Role: models.RoleAssistant, Content: entry.Reply},
			)
			if entry.Source == models.SourcePredefined {
				record.state.QuickReplies = append(record.state.QuickReplies, models.QuickReply{
					UserMessage: entry.Message,
					Reply:       entry.Reply,
					Timestamp:   entry.Timestamp,
				})
			}
		}
		record.state.History = trimHistory(record.state.History, s.limits.MaxHistory)
		record.state.QuickReplies = trimQuickReplies(record.state.QuickReplies, s.limits.MaxQuickReplies)
		s.chats[chatID] = record
	}

	s.logger.WithField("chats", len(s.chats)).Info("Response log loaded")
	return nil
}

// normalizeEntries coerces legacy record shapes: bare strings alternate
// user message / reply by index; unrecoverable entries are dropped.
func normalizeEntries(raw []json.RawMessage, logger *logrus.Logger) []models.ResponseLogEntry {
	entries := make([]models.ResponseLogEntry, 0, len(raw))
	var pendingMessage *string

	for _, r := range raw {
		var entry models.ResponseLogEntry
		if err := json.Unmarshal(r, &entry); err == nil && (entry.Message != "" || entry.Reply != "") {
			if entry.Source == "" {
				entry.Source = models.SourceOpenAI
			}
			entries = append(entries, entry)
			continue
		}

		var text string
		if err := json.Unmarshal(r, &text); err == nil {
			if pendingMessage == nil {
				pendingMessage = &text
			} else {
				entries = append(entries, models.ResponseLogEntry{
					Message: *pendingMessage,
					Reply:   text,
					Source:  models.SourceOpenAI,
				})
				pendingMessage = nil
			}
			continue
		}

		logger.Warn("Dropping unrecoverable response log entry")
	}

	return entries
}

func (s *FileStore) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			dirty := s.dirty
			s.mu.Unlock()
			if dirty {
				if err := s.Flush(); err != nil {
					s.logger.WithError(err).Error("Failed to flush response log")
				}
			}
		}
	}
}

func (s *FileStore) record(chatID string) *chatRecord {
	record, ok := s.chats[chatID]
	if !ok {
		record = &chatRecord{state: models.ChatState{ChatID: chatID}}
		s.chats[chatID] = record
	}
	return record
}

func (s *FileStore) GetState(ctx context.Context, chatID string) (*models.ChatState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.record(chatID).state
	state.History = append([]models.Message(nil), state.History...)
	state.QuickReplies = append([]models.QuickReply(nil), state.QuickReplies...)
	return &state, nil
}

func (s *FileStore) RecordInteraction(ctx context.Context, chatID, message, reply, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.record(chatID)
	record.log = applyInteraction(&record.state, record.log, message, reply, source, s.limits, time.Now())
	s.dirty = true
	return nil
}

func (s *FileStore) ResponseLog(ctx context.Context, chatID string) ([]models.ResponseLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.chats[chatID]
	if !ok {
		return nil, nil
	}
	return append([]models.ResponseLogEntry(nil), record.log...), nil
}

func (s *FileStore) Stats(ctx context.Context, chatID string) (models.ChatStats, error) {
	log, err := s.ResponseLog(ctx, chatID)
	if err != nil {
		return models.ChatStats{}, err
	}
	return statsFromLog(log), nil
}

func (s *FileStore) Reset(ctx context.Context, chatID string) error {
	s.mu.Lock()
	delete(s.chats, chatID)
	s.dirty = true
	s.mu.Unlock()

	return s.Flush()
}

// Flush writes the response log synchronously. Chats without log
// entries are omitted from the file.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	out := make(map[string][]models.ResponseLogEntry, len(s.chats))
	for chatID, record := range s.chats {
		if len(record.log) > 0 {
			out[chatID] = record.log
		}
	}
	s.dirty = false
	s.mu.Unlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response log: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write response log: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		err = s.Flush()
	})
	return err
}
