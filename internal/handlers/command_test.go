package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wa-ai-bot-go/internal/i18n"
	"github.com/wa-ai-bot-go/internal/models"
	"github.com/wa-ai-bot-go/internal/services/ai"
	"github.com/wa-ai-bot-go/internal/transport"
)

func routeText(h *harness, text string) (models.ReplyPayload, bool) {
	in := transport.Inbound{ChatID: "chat-a", SenderID: "1234", SenderName: "Dana", Text: text}
	return h.handler.router.Route(context.Background(), in, text)
}

func TestCommandRouter_UnknownCommand(t *testing.T) {
	h := newHarness(t, nil, nil)

	payload, record := routeText(h, "!frobnicate")
	assert.Equal(t, h.loc.Get(i18n.MsgUnknownCommand, nil), payload.Text)
	assert.True(t, record, "unknown commands still land in the log")
}

func TestCommandRouter_CommandNamesAreCaseInsensitive(t *testing.T) {
	h := newHarness(t, nil, nil)

	payload, _ := routeText(h, "!HELP")
	assert.Equal(t, h.loc.Get(i18n.MsgHelp, nil), payload.Text)
}

func TestCommandRouter_ResetDoesNotRecord(t *testing.T) {
	h := newHarness(t, nil, nil)

	_, record := routeText(h, "!reset")
	assert.False(t, record)
}

func TestCommandRouter_HistoryEmptyAndPopulated(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	payload, _ := routeText(h, "!history")
	assert.Equal(t, h.loc.Get(i18n.MsgHistoryEmpty, nil), payload.Text)

	require.NoError(t, h.store.RecordInteraction(ctx, "chat-a", "hello", "hi!", models.SourceOpenAI))

	payload, _ = routeText(h, "!history")
	assert.Contains(t, payload.Text, "Dana: hello")
	assert.Contains(t, payload.Text, "Aria: hi!")
}

func TestCommandRouter_StatsGroupsBySource(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	payload, _ := routeText(h, "!stats")
	assert.Equal(t, h.loc.Get(i18n.MsgStatsEmpty, nil), payload.Text)

	require.NoError(t, h.store.RecordInteraction(ctx, "chat-a", "a", "r", models.SourceOpenAI))
	require.NoError(t, h.store.RecordInteraction(ctx, "chat-a", "b", "r", models.SourcePredefined))

	payload, _ = routeText(h, "!stats")
	assert.Contains(t, payload.Text, "Total replies: 2")
	assert.Contains(t, payload.Text, "openai: 1")
	assert.Contains(t, payload.Text, "predefined: 1")
}

func TestCommandRouter_TaskCommandUsesDefaultTopic(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.completer.reply = "1. a song"

	payload, record := routeText(h, "!songs")
	assert.Equal(t, "1. a song", payload.Text)
	assert.True(t, record)
	assert.Equal(t, 1, h.completer.calls)
}

func TestCommandRouter_SummaryWithoutHistory(t *testing.T) {
	h := newHarness(t, nil, nil)

	payload, _ := routeText(h, "!summary")
	assert.Equal(t, h.loc.Get(i18n.MsgSummaryEmpty, nil), payload.Text)
	assert.Equal(t, 0, h.completer.calls)
}

func TestCommandRouter_SummaryModeratesTranscript(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.store.RecordInteraction(context.Background(), "chat-a", "hello", "hi", models.SourceOpenAI))
	h.moderator.flagInput = true

	payload, _ := routeText(h, "!summary")
	assert.Equal(t, h.loc.Get(i18n.MsgSafeFailure, nil), payload.Text)
	assert.Equal(t, 0, h.completer.calls, "flagged transcripts never reach the model")
}

func TestParseTranslateArgs(t *testing.T) {
	tests := []struct {
		name string
		args string
		lang string
		text string
	}{
		{name: "colon separator", args: "spanish: good morning", lang: "spanish", text: "good morning"},
		{name: "pipe separator", args: "french | hello there", lang: "french", text: "hello there"},
		{name: "first token fallback", args: "german how are you", lang: "german", text: "how are you"},
		{name: "missing text", args: "german", lang: "", text: ""},
		{name: "empty", args: "", lang: "", text: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang, text := parseTranslateArgs(tt.args)
			assert.Equal(t, tt.lang, lang)
			assert.Equal(t, tt.text, text)
		})
	}
}

func TestCommandRouter_TranslateUsageOnBadArgs(t *testing.T) {
	h := newHarness(t, nil, nil)

	payload, _ := routeText(h, "!translate")
	assert.Equal(t, h.loc.Get(i18n.MsgTranslateUsage, nil), payload.Text)
	assert.Equal(t, 0, h.completer.calls)
}

func TestCommandRouter_ImageQuotaMessage(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.handler.router.images = &stubImages{err: &ai.QuotaError{
		Limit:     3,
		Remaining: 0,
		ResetIn:   90*time.Minute + 30*time.Second,
	}}

	payload, _ := routeText(h, "!image a red fox")
	assert.Contains(t, payload.Text, "3")
	assert.Contains(t, payload.Text, "1h30m30s")
}

func TestCommandRouter_ImageSuccessBuildsMediaReply(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.handler.router.images = &stubImages{result: ai.ImageResult{
		Base64:    "aGVsbG8=",
		Remaining: 2,
	}}

	payload, record := routeText(h, "!image a red fox")
	assert.True(t, record)
	assert.Equal(t, models.ReplyMedia, payload.Kind)
	assert.Equal(t, "aGVsbG8=", payload.MediaBase64)
	assert.Contains(t, payload.Caption, "2")
}

func TestCommandRouter_IsCommand(t *testing.T) {
	h := newHarness(t, nil, nil)

	assert.True(t, h.handler.router.IsCommand("!help"))
	assert.False(t, h.handler.router.IsCommand("help!"))
	assert.False(t, h.handler.router.IsCommand("hello"))
}
