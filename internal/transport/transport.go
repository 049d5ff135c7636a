package transport

import (
	"context"
	"time"

	"github.com/wa-ai-bot-go/internal/models"
)

// Inbound is one received text message, transport-neutral
type Inbound struct {
	ChatID       string
	SenderID     string
	SenderName   string
	IsGroup      bool
	Text         string
	MentionedIDs []string
}

// Sender delivers replies back to a chat. TypingDelay is a hint: the
// transport simulates typing for that long before the message goes out.
type Sender interface {
	Send(ctx context.Context, chatID string, payload models.ReplyPayload, typingDelay time.Duration) error

	// GroupParticipants lists contact ids for the mention-all reply
	GroupParticipants(ctx context.Context, chatID string) ([]string, error)

	// BotID is the bot's own contact id, used for @-mention detection
	BotID() string
}

// Handler consumes inbound messages; implemented by the pipeline
type Handler interface {
	HandleMessage(ctx context.Context, in Inbound)
}
