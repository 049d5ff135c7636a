package transport

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/models"
)

// LogSender writes replies to the log instead of a live session. Used in
// webhook mode and in tests, where no WhatsApp connection exists.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, chatID string, payload models.ReplyPayload, typingDelay time.Duration) error {
	s.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"kind":    payload.Kind,
		"text":    payload.DisplayText(),
	}).Info("Reply (log sender)")
	return nil
}

func (s *LogSender) GroupParticipants(ctx context.Context, chatID string) ([]string, error) {
	return nil, nil
}

func (s *LogSender) BotID() string {
	return ""
}
