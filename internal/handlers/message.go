package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/config"
	"github.com/wa-ai-bot-go/internal/i18n"
	"github.com/wa-ai-bot-go/internal/matcher"
	"github.com/wa-ai-bot-go/internal/memory"
	"github.com/wa-ai-bot-go/internal/middleware"
	"github.com/wa-ai-bot-go/internal/models"
	"github.com/wa-ai-bot-go/internal/services/ai"
	"github.com/wa-ai-bot-go/internal/services/storage"
	"github.com/wa-ai-bot-go/internal/transport"
	"github.com/wa-ai-bot-go/pkg/markdown"
)

// MessageHandler runs the ordered decision pipeline that turns one
// inbound message into exactly one outbound reply (or a decision not to
// reply). Processing is serialized per chat: two messages from the same
// chat never race on its state.
type MessageHandler struct {
	cfg        *config.Config
	predefined *matcher.Matcher
	general    *matcher.Matcher
	recall     *memory.Engine
	security   *middleware.SecurityMiddleware
	limiter    middleware.RateLimiter
	moderator  ai.Moderator
	completer  ai.Completer
	store      storage.Store
	sender     transport.Sender
	router     *CommandRouter
	loc        *i18n.Localizer
	metrics    *middleware.Metrics
	logger     *logrus.Logger

	botNameRe *regexp.Regexp

	locksMu   sync.Mutex
	chatLocks map[string]*sync.Mutex
}

// NewMessageHandler wires the pipeline
func NewMessageHandler(
	cfg *config.Config,
	predefined *matcher.Matcher,
	general *matcher.Matcher,
	recall *memory.Engine,
	security *middleware.SecurityMiddleware,
	limiter middleware.RateLimiter,
	moderator ai.Moderator,
	completer ai.Completer,
	store storage.Store,
	sender transport.Sender,
	router *CommandRouter,
	loc *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		cfg:        cfg,
		predefined: predefined,
		general:    general,
		recall:     recall,
		security:   security,
		limiter:    limiter,
		moderator:  moderator,
		completer:  completer,
		store:      store,
		sender:     sender,
		router:     router,
		loc:        loc,
		metrics:    metrics,
		logger:     logger,
		botNameRe:  regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(cfg.Bot.Name) + `\b`),
		chatLocks:  make(map[string]*sync.Mutex),
	}
}

// chatLock returns the mutex serializing one chat's processing
func (h *MessageHandler) chatLock(chatID string) *sync.Mutex {
	h.locksMu.Lock()
	defer h.locksMu.Unlock()

	lock, ok := h.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		h.chatLocks[chatID] = lock
	}
	return lock
}

// HandleMessage is the pipeline entry point. It never panics outward
// and never returns an error: every stage degrades to a reply once the
// eligibility gate has passed.
func (h *MessageHandler) HandleMessage(ctx context.Context, in transport.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithFields(logrus.Fields{
				"chat_id": in.ChatID,
				"panic":   r,
			}).Error("Recovered from panic in message pipeline")
		}
	}()

	if strings.TrimSpace(in.Text) == "" {
		return
	}

	chatType := "private"
	if in.IsGroup {
		chatType = "group"
	}
	h.metrics.RecordMessageReceived(chatType)

	lock := h.chatLock(in.ChatID)
	lock.Lock()
	defer lock.Unlock()

	h.process(ctx, in)
}

func (h *MessageHandler) process(ctx context.Context, in transport.Inbound) {
	text := strings.TrimSpace(in.Text)

	if in.IsGroup {
		// Ambient checks run before addressing: the mention-all phrase
		// and the general table answer even when the bot isn't named.
		// They replace the pipeline only when they match.
		if h.handleAmbient(ctx, in, text) {
			return
		}

		addressed, stripped := h.addressedText(in, text)
		if !addressed || stripped == "" {
			return
		}
		text = stripped
	}

	// Commands are a trusted operator surface: no length, pattern or
	// moderation gates apply outside the command's own checks.
	if h.router.IsCommand(text) {
		payload, record := h.router.Route(ctx, in, text)
		h.deliver(ctx, in, text, payload, models.SourceCommand, record)
		return
	}

	if payload, source, blocked := h.safetyGates(ctx, in, text); blocked {
		h.deliver(ctx, in, text, payload, source, true)
		return
	}

	payload, source := h.buildReply(ctx, in, text)

	// Output moderation: a flagged reply never leaves the process
	if verdict, err := h.moderator.Moderate(ctx, payload.DisplayText(), ai.ModerationOutput); err == nil && verdict.Flagged {
		h.logger.WithFields(logrus.Fields{
			"chat_id":    in.ChatID,
			"categories": verdict.Categories,
		}).Warn("Outbound reply flagged by moderation")
		payload = models.TextReply(h.loc.Get(i18n.MsgSafeFailure, nil))
		source = models.SourceSafety
	} else if err != nil {
		h.logger.WithError(err).Warn("Output moderation failed, delivering unchecked")
	}

	h.deliver(ctx, in, text, payload, source, true)
}

// addressedText decides group eligibility: the bot's name as a whole
// word, or an explicit @-mention. The triggering text is stripped.
func (h *MessageHandler) addressedText(in transport.Inbound, text string) (bool, string) {
	botID := h.sender.BotID()
	for _, id := range in.MentionedIDs {
		if id == botID {
			stripped := strings.ReplaceAll(text, "@"+mentionTag(botID), "")
			return true, strings.TrimSpace(h.botNameRe.ReplaceAllString(stripped, ""))
		}
	}

	if h.botNameRe.MatchString(text) {
		return true, strings.TrimSpace(h.botNameRe.ReplaceAllString(text, ""))
	}

	return false, ""
}

// mentionTag extracts the user part of a contact id ("123@s.whatsapp.net"
// is rendered as "@123" in message text)
func mentionTag(contactID string) string {
	if idx := strings.Index(contactID, "@"); idx > 0 {
		return contactID[:idx]
	}
	return contactID
}

// handleAmbient runs the group-only short-circuit: the mention-all
// trigger phrase and the general keyword table. Inline gates apply in
// order (length, pattern, input moderation, cooldown); a block answers
// with its own canned message. No trigger match falls through silently.
func (h *MessageHandler) handleAmbient(ctx context.Context, in transport.Inbound, text string) bool {
	trigger := h.cfg.Bot.MentionAllTrigger
	mentionAll := trigger != "" && strings.Contains(strings.ToLower(text), strings.ToLower(trigger))

	var generalHit *models.ReplyPayload
	if !mentionAll {
		generalHit = h.general.Match(text)
		if generalHit == nil {
			return false
		}
	}

	if payload, source, blocked := h.safetyGates(ctx, in, text); blocked {
		h.deliver(ctx, in, text, payload, source, true)
		return true
	}

	if mentionAll {
		participants, err := h.sender.GroupParticipants(ctx, in.ChatID)
		if err != nil || len(participants) == 0 {
			h.logger.WithError(err).WithField("chat_id", in.ChatID).Warn("Failed to list group participants")
			return false
		}

		var b strings.Builder
		b.WriteString(h.loc.Get(i18n.MsgMentionAll, nil))
		for _, p := range participants {
			b.WriteString(" @" + mentionTag(p))
		}
		h.deliver(ctx, in, text, models.MentionReply(b.String(), participants), models.SourceMentionAll, true)
		return true
	}

	h.deliver(ctx, in, text, *generalHit, models.SourceGeneral, true)
	return true
}

// safetyGates applies the pre-generation checks in pipeline order:
// length, sensitive patterns, input moderation, cooldown. The first
// block wins and carries its canned reply.
func (h *MessageHandler) safetyGates(ctx context.Context, in transport.Inbound, text string) (models.ReplyPayload, string, bool) {
	if h.security.TooLong(text) {
		return models.TextReply(h.loc.Get(i18n.MsgLengthWarning, nil)), models.SourceSafety, true
	}

	if _, hit := h.security.SensitiveMatch(text); hit {
		return models.TextReply(h.loc.Get(i18n.MsgSensitiveWarning, nil)), models.SourceSafety, true
	}

	// Moderation fails open: an unreachable moderation backend must
	// never block the conversation.
	if verdict, err := h.moderator.Moderate(ctx, text, ai.ModerationInput); err != nil {
		h.logger.WithError(err).Warn("Input moderation failed, treating as not flagged")
	} else if verdict.Flagged {
		h.logger.WithFields(logrus.Fields{
			"chat_id":    in.ChatID,
			"categories": verdict.Categories,
		}).Warn("Inbound message flagged by moderation")
		return models.TextReply(h.loc.Get(i18n.MsgSafeFailure, nil)), models.SourceSafety, true
	}

	if !h.limiter.Allow(in.ChatID) {
		h.metrics.RecordRateLimitHit()
		return models.TextReply(h.loc.Get(i18n.MsgRateLimited, nil)), models.SourceSystem, true
	}

	return models.ReplyPayload{}, "", false
}

// buildReply walks the reply-source chain: predefined keyword match,
// memory recall, then the generative fallback. It always yields a
// non-empty reply; the generative path degrades instead of failing.
func (h *MessageHandler) buildReply(ctx context.Context, in transport.Inbound, text string) (models.ReplyPayload, string) {
	if hit := h.predefined.Match(text); hit != nil {
		return *hit, models.SourcePredefined
	}

	state, err := h.store.GetState(ctx, in.ChatID)
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", in.ChatID).Error("Failed to load chat state")
		state = &models.ChatState{ChatID: in.ChatID}
	}

	if content, ok := h.recall.Recall(state, text); ok {
		reply := h.loc.Get(i18n.MsgMemoryRecall, map[string]interface{}{"Content": content})
		return models.TextReply(reply), models.SourceMemory
	}

	return models.TextReply(h.generate(ctx, state, in, text)), models.SourceOpenAI
}

// generate assembles system prompt + rolling context + the new message
// and requests a completion. This is the fallback of last resort: any
// failure becomes the degraded-service message, never an error.
func (h *MessageHandler) generate(ctx context.Context, state *models.ChatState, in transport.Inbound, text string) string {
	systemPrompt := h.cfg.Bot.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = fmt.Sprintf("You are %s, a friendly WhatsApp assistant. Keep replies short and conversational.", h.cfg.Bot.Name)
	}

	history := state.History
	if limit := h.cfg.Limits.ContextLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: text})

	reply, err := h.completer.Complete(ctx, messages, h.cfg.OpenAI.Temperature)
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", in.ChatID).Error("Completion failed")
		return h.loc.Get(i18n.MsgDegradedService, nil)
	}

	return markdown.ToWhatsApp(reply)
}

// deliver sends the reply with a typing-simulation delay, records the
// interaction, and stamps the cooldown. Recording happens even when the
// send fails; skipping the reply entirely is the absolute last resort.
func (h *MessageHandler) deliver(ctx context.Context, in transport.Inbound, userText string, payload models.ReplyPayload, source string, record bool) {
	if err := h.sender.Send(ctx, in.ChatID, payload, h.cfg.Bot.TypingDelay); err != nil {
		h.logger.WithError(err).WithField("chat_id", in.ChatID).Error("Failed to send reply")
	}

	if record {
		if err := h.store.RecordInteraction(ctx, in.ChatID, userText, payload.DisplayText(), source); err != nil {
			h.logger.WithError(err).WithField("chat_id", in.ChatID).Error("Failed to record interaction")
		}
	}

	h.limiter.Stamp(in.ChatID)
	h.metrics.RecordReplySent(source)
}
