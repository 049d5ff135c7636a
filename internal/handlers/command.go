package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/config"
	"github.com/wa-ai-bot-go/internal/i18n"
	"github.com/wa-ai-bot-go/internal/middleware"
	"github.com/wa-ai-bot-go/internal/models"
	"github.com/wa-ai-bot-go/internal/services/ai"
	"github.com/wa-ai-bot-go/internal/services/search"
	"github.com/wa-ai-bot-go/internal/services/storage"
	"github.com/wa-ai-bot-go/internal/transport"
)

const historyRenderTurns = 6

// commandRequest carries everything a command handler needs
type commandRequest struct {
	in   transport.Inbound
	args string
}

// commandResult is a handler's reply plus whether the exchange should be
// recorded into the chat's state. Reset is the one command that must not
// be recorded, or it would immediately repopulate the state it clears.
type commandResult struct {
	payload models.ReplyPayload
	record  bool
}

type commandFunc func(ctx context.Context, req commandRequest) commandResult

// CommandRouter dispatches prefixed commands through a static name ->
// handler table built and validated at construction. Unknown names get
// the canned fallback, never an error.
type CommandRouter struct {
	cfg       *config.Config
	store     storage.Store
	completer ai.Completer
	moderator ai.Moderator
	images    ai.ImageGenerator
	searcher  search.Service
	loc       *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger

	handlers map[string]commandFunc
}

// NewCommandRouter builds the router and its dispatch table
func NewCommandRouter(
	cfg *config.Config,
	store storage.Store,
	completer ai.Completer,
	moderator ai.Moderator,
	images ai.ImageGenerator,
	searcher search.Service,
	loc *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *CommandRouter {
	r := &CommandRouter{
		cfg:       cfg,
		store:     store,
		completer: completer,
		moderator: moderator,
		images:    images,
		searcher:  searcher,
		loc:       loc,
		metrics:   metrics,
		logger:    logger,
	}

	r.handlers = map[string]commandFunc{
		"help":         r.handleHelp,
		"reset":        r.handleReset,
		"history":      r.handleHistory,
		"quickreplies": r.handleQuickReplies,
		"policy":       r.handlePolicy,
		"privacy":      r.handlePrivacy,
		"stats":        r.handleStats,
		"songs":        r.taskHandler("songs", "Suggest a short list of songs for the topic below. Keep it casual and include artists.", "something upbeat for a weekday"),
		"plan":         r.taskHandler("plan", "Draft a short, practical plan for the topic below, as a few numbered steps.", "a productive day"),
		"meal":         r.taskHandler("meal", "Suggest a simple meal idea for the topic below, with a rough ingredient list.", "an easy weeknight dinner"),
		"summary":      r.handleSummary,
		"translate":    r.handleTranslate,
		"image":        r.handleImage,
		"about":        r.handleAbout,
	}

	return r
}

// IsCommand reports whether the text starts with the command prefix
func (r *CommandRouter) IsCommand(text string) bool {
	return strings.HasPrefix(text, r.cfg.Bot.CommandPrefix)
}

// Route parses and dispatches one command. The text must already have
// been checked with IsCommand.
func (r *CommandRouter) Route(ctx context.Context, in transport.Inbound, text string) (models.ReplyPayload, bool) {
	stripped := strings.TrimPrefix(text, r.cfg.Bot.CommandPrefix)
	parts := strings.Fields(stripped)

	name := ""
	args := ""
	if len(parts) > 0 {
		name = strings.ToLower(parts[0])
		args = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(stripped), parts[0]))
	}

	handler, known := r.handlers[name]
	if !known {
		r.metrics.RecordCommandExecuted("unknown")
		return models.TextReply(r.loc.Get(i18n.MsgUnknownCommand, nil)), true
	}

	r.metrics.RecordCommandExecuted(name)
	r.logger.WithFields(logrus.Fields{
		"chat_id": in.ChatID,
		"command": name,
	}).Info("Dispatching command")

	result := handler(ctx, commandRequest{in: in, args: args})
	return result.payload, result.record
}

func (r *CommandRouter) handleHelp(ctx context.Context, req commandRequest) commandResult {
	return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgHelp, nil)), record: true}
}

func (r *CommandRouter) handleAbout(ctx context.Context, req commandRequest) commandResult {
	return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgAbout, nil)), record: true}
}

func (r *CommandRouter) handlePolicy(ctx context.Context, req commandRequest) commandResult {
	return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgPolicy, nil)), record: true}
}

func (r *CommandRouter) handlePrivacy(ctx context.Context, req commandRequest) commandResult {
	return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgPrivacy, nil)), record: true}
}

func (r *CommandRouter) handleReset(ctx context.Context, req commandRequest) commandResult {
	if err := r.store.Reset(ctx, req.in.ChatID); err != nil {
		r.logger.WithError(err).WithField("chat_id", req.in.ChatID).Error("Failed to reset chat state")
	}
	return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgResetDone, nil))}
}

func (r *CommandRouter) handleHistory(ctx context.Context, req commandRequest) commandResult {
	state, err := r.store.GetState(ctx, req.in.ChatID)
	if err != nil || len(state.History) == 0 {
		return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgHistoryEmpty, nil)), record: true}
	}

	turns := state.History
	if len(turns) > historyRenderTurns {
		turns = turns[len(turns)-historyRenderTurns:]
	}

	var b strings.Builder
	b.WriteString(r.loc.Get(i18n.MsgHistoryHeader, nil))
	for _, turn := range turns {
		speaker := r.cfg.Bot.Name
		if turn.Role == models.RoleUser {
			speaker = req.in.SenderName
			if speaker == "" {
				speaker = "You"
			}
		}
		b.WriteString(fmt.Sprintf("\n%s: %s", speaker, turn.Content))
	}

	return commandResult{payload: models.TextReply(b.String()), record: true}
}

func (r *CommandRouter) handleQuickReplies(ctx context.Context, req commandRequest) commandResult {
	state, err := r.store.GetState(ctx, req.in.ChatID)
	if err != nil || len(state.QuickReplies) == 0 {
		return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgQuickEmpty, nil)), record: true}
	}

	var b strings.Builder
	b.WriteString(r.loc.Get(i18n.MsgQuickHeader, nil))
	for _, qr := range state.QuickReplies {
		b.WriteString(fmt.Sprintf("\n[%s] %q -> %q", qr.Timestamp.Format("Jan 2 15:04"), qr.UserMessage, qr.Reply))
	}

	return commandResult{payload: models.TextReply(b.String()), record: true}
}

func (r *CommandRouter) handleStats(ctx context.Context, req commandRequest) commandResult {
	stats, err := r.store.Stats(ctx, req.in.ChatID)
	if err != nil || stats.Total == 0 {
		return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgStatsEmpty, nil)), record: true}
	}

	sources := make([]string, 0, len(stats.BySource))
	for source := range stats.BySource {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	var b strings.Builder
	b.WriteString(r.loc.Get(i18n.MsgStatsHeader, nil))
	b.WriteString(fmt.Sprintf("\nTotal replies: %d", stats.Total))
	for _, source := range sources {
		b.WriteString(fmt.Sprintf("\n  %s: %d", source, stats.BySource[source]))
	}
	if !stats.LastSeen.IsZero() {
		b.WriteString(fmt.Sprintf("\nLast activity: %s", stats.LastSeen.Format("Jan 2 15:04")))
	}

	return commandResult{payload: models.TextReply(b.String()), record: true}
}

// taskHandler builds a structured generative command (songs, plan,
// meal). An argument-less invocation falls back to the default topic.
func (r *CommandRouter) taskHandler(name, instruction, defaultTopic string) commandFunc {
	return func(ctx context.Context, req commandRequest) commandResult {
		topic := req.args
		if topic == "" {
			topic = defaultTopic
		}

		messages := []models.Message{
			{Role: models.RoleSystem, Content: instruction},
			{Role: models.RoleUser, Content: topic},
		}

		reply, err := r.completer.Complete(ctx, messages, r.cfg.OpenAI.Temperature)
		if err != nil {
			r.logger.WithError(err).WithField("command", name).Warn("Task completion failed")
			return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgTaskFailed, nil)), record: true}
		}

		if name == "songs" && r.searcher != nil {
			if hit, err := r.searcher.Lookup(ctx, topic); err == nil {
				reply += fmt.Sprintf("\n\nAlso found: %s by %s - %s", hit.Title, hit.Author, hit.URL)
			} else if !errors.Is(err, search.ErrNoResult) {
				r.logger.WithError(err).Debug("Media lookup failed")
			}
		}

		return commandResult{payload: models.TextReply(reply), record: true}
	}
}

func (r *CommandRouter) handleSummary(ctx context.Context, req commandRequest) commandResult {
	state, err := r.store.GetState(ctx, req.in.ChatID)
	if err != nil || len(state.History) == 0 {
		return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgSummaryEmpty, nil)), record: true}
	}

	var transcript strings.Builder
	for _, turn := range state.History {
		transcript.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
	}

	// A transcript full of flagged content must not reach the model
	if verdict, err := r.moderator.Moderate(ctx, transcript.String(), ai.ModerationInput); err == nil && verdict.Flagged {
		return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgSafeFailure, nil)), record: true}
	}

	instruction := "Summarize the following conversation in a few sentences."
	if req.args != "" {
		instruction = fmt.Sprintf("Summarize the following conversation in a few sentences, focusing on: %s.", req.args)
	}

	messages := []models.Message{
		{Role: models.RoleSystem, Content: instruction},
		{Role: models.RoleUser, Content: transcript.String()},
	}

	reply, err := r.completer.Complete(ctx, messages, r.cfg.OpenAI.Temperature)
	if err != nil {
		r.logger.WithError(err).Warn("Summary completion failed")
		return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgTaskFailed, nil)), record: true}
	}

	if verdict, err := r.moderator.Moderate(ctx, reply, ai.ModerationOutput); err == nil && verdict.Flagged {
		reply = r.loc.Get(i18n.MsgSafeFailure, nil)
	}

	return commandResult{payload: models.TextReply(reply), record: true}
}

func (r *CommandRouter) handleTranslate(ctx context.Context, req commandRequest) commandResult {
	lang, text := parseTranslateArgs(req.args)
	if lang == "" || text == "" {
		return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgTranslateUsage, nil)), record: true}
	}

	messages := []models.Message{
		{Role: models.RoleSystem, Content: fmt.Sprintf("Translate the user's text into %s. Reply with the translation only.", lang)},
		{Role: models.RoleUser, Content: text},
	}

	reply, err := r.completer.Complete(ctx, messages, r.cfg.OpenAI.Temperature)
	if err != nil {
		r.logger.WithError(err).Warn("Translation failed")
		return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgTaskFailed, nil)), record: true}
	}

	return commandResult{payload: models.TextReply(reply), record: true}
}

// parseTranslateArgs accepts "language: text", "language | text", or
// plain "language text...".
func parseTranslateArgs(args string) (string, string) {
	for _, sep := range []string{":", "|"} {
		if idx := strings.Index(args, sep); idx > 0 {
			return strings.TrimSpace(args[:idx]), strings.TrimSpace(args[idx+1:])
		}
	}

	parts := strings.Fields(args)
	if len(parts) < 2 {
		return "", ""
	}
	return parts[0], strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(args), parts[0]))
}

func (r *CommandRouter) handleImage(ctx context.Context, req commandRequest) commandResult {
	prompt := req.args
	if prompt == "" {
		return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgUnknownCommand, nil)), record: true}
	}

	result, err := r.images.Generate(ctx, req.in.ChatID, prompt)
	if err != nil {
		var quota *ai.QuotaError
		if errors.As(err, &quota) {
			return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgImageQuota, map[string]interface{}{
				"Limit": quota.Limit,
				"Reset": quota.ResetIn.Round(time.Second).String(),
			})), record: true}
		}
		r.logger.WithError(err).Warn("Image generation failed")
		return commandResult{payload: models.TextReply(r.loc.Get(i18n.MsgImageFailed, nil)), record: true}
	}

	caption := r.loc.Get(i18n.MsgImageCaption, map[string]interface{}{"Remaining": result.Remaining})
	return commandResult{payload: models.ReplyPayload{
		Kind:        models.ReplyMedia,
		Caption:     caption,
		MediaURL:    result.URL,
		MediaBase64: result.Base64,
	}, record: true}
}
