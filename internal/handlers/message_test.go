package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wa-ai-bot-go/internal/config"
	"github.com/wa-ai-bot-go/internal/i18n"
	"github.com/wa-ai-bot-go/internal/matcher"
	"github.com/wa-ai-bot-go/internal/memory"
	"github.com/wa-ai-bot-go/internal/middleware"
	"github.com/wa-ai-bot-go/internal/models"
	"github.com/wa-ai-bot-go/internal/services/ai"
	"github.com/wa-ai-bot-go/internal/services/storage"
	"github.com/wa-ai-bot-go/internal/transport"
)

// --- stubs ---

type sentReply struct {
	chatID  string
	payload models.ReplyPayload
}

type stubSender struct {
	mu           sync.Mutex
	sent         []sentReply
	participants []string
	botID        string
}

func (s *stubSender) Send(ctx context.Context, chatID string, payload models.ReplyPayload, typingDelay time.Duration) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentReply{chatID: chatID, payload: payload})
	s.mu.Unlock()
	return nil
}

func (s *stubSender) GroupParticipants(ctx context.Context, chatID string) ([]string, error) {
	return s.participants, nil
}

func (s *stubSender) BotID() string { return s.botID }

func (s *stubSender) lastText(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, s.sent, "expected a reply to have been sent")
	return s.sent[len(s.sent)-1].payload.DisplayText()
}

type stubCompleter struct {
	reply string
	err   error
	calls int
}

func (c *stubCompleter) Complete(ctx context.Context, messages []models.Message, temperature float64) (string, error) {
	c.calls++
	return c.reply, c.err
}

type stubModerator struct {
	flagInput  bool
	flagOutput bool
	err        error
}

func (m *stubModerator) Moderate(ctx context.Context, text, kind string) (ai.ModerationResult, error) {
	if m.err != nil {
		return ai.ModerationResult{}, m.err
	}
	flagged := (kind == ai.ModerationInput && m.flagInput) || (kind == ai.ModerationOutput && m.flagOutput)
	return ai.ModerationResult{Flagged: flagged}, nil
}

type stubImages struct {
	result ai.ImageResult
	err    error
}

func (s *stubImages) Generate(ctx context.Context, chatID, prompt string) (ai.ImageResult, error) {
	return s.result, s.err
}

// --- harness ---

type harness struct {
	cfg       *config.Config
	handler   *MessageHandler
	sender    *stubSender
	completer *stubCompleter
	moderator *stubModerator
	limiter   *middleware.CooldownLimiter
	store     storage.Store
	loc       *i18n.Localizer
}

func testConfig() *config.Config {
	return &config.Config{
		Bot: config.BotConfig{
			Name:              "Aria",
			CommandPrefix:     "!",
			MentionAllTrigger: "@everyone",
		},
		OpenAI: config.OpenAIConfig{Temperature: 0.7},
		Limits: config.LimitsConfig{
			MaxMessageLength:     1000,
			MaxSavedHistory:      30,
			MaxSavedQuickReplies: 20,
			MaxSavedResponses:    100,
			ContextLimit:         10,
			Cooldown:             3 * time.Second,
		},
	}
}

func newHarness(t *testing.T, predefinedRules, generalRules []matcher.Rule) *harness {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := testConfig()
	loc := i18n.Default()
	metrics := middleware.NewMetrics()

	store, err := storage.NewFileStore(config.FileStorage{
		Dir:           t.TempDir(),
		FlushInterval: time.Hour,
	}, storage.Limits{
		MaxHistory:      cfg.Limits.MaxSavedHistory,
		MaxQuickReplies: cfg.Limits.MaxSavedQuickReplies,
		MaxResponses:    cfg.Limits.MaxSavedResponses,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sender := &stubSender{botID: "9999", participants: []string{"111@s.whatsapp.net", "222@s.whatsapp.net"}}
	completer := &stubCompleter{reply: "generated reply"}
	moderator := &stubModerator{}
	limiter := middleware.NewCooldownLimiter(cfg.Limits.Cooldown, log)

	router := NewCommandRouter(cfg, store, completer, moderator, &stubImages{}, nil, loc, metrics, log)
	handler := NewMessageHandler(
		cfg,
		matcher.New(predefinedRules, log),
		matcher.New(generalRules, log),
		memory.NewEngine(),
		middleware.NewSecurityMiddleware(cfg.Limits.MaxMessageLength, log),
		limiter,
		moderator,
		completer,
		store,
		sender,
		router,
		loc,
		metrics,
		log,
	)

	return &harness{
		cfg:       cfg,
		handler:   handler,
		sender:    sender,
		completer: completer,
		moderator: moderator,
		limiter:   limiter,
		store:     store,
		loc:       loc,
	}
}

func (h *harness) send(text string) {
	h.handler.HandleMessage(context.Background(), transport.Inbound{
		ChatID:     "chat-a",
		SenderID:   "1234",
		SenderName: "Dana",
		Text:       text,
	})
	h.limiter.Reset("chat-a")
}

func (h *harness) sendGroup(text string, mentions ...string) {
	h.handler.HandleMessage(context.Background(), transport.Inbound{
		ChatID:       "group-a",
		SenderID:     "1234",
		SenderName:   "Dana",
		IsGroup:      true,
		Text:         text,
		MentionedIDs: mentions,
	})
	h.limiter.Reset("group-a")
}

// --- tests ---

func TestPipeline_GenerativeReplyRecordsHistory(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.send("!reset")
	h.send("hello there")

	assert.Equal(t, "generated reply", h.sender.lastText(t))

	state, err := h.store.GetState(context.Background(), "chat-a")
	require.NoError(t, err)
	require.Len(t, state.History, 2, "one exchange after reset")
	assert.Equal(t, "hello there", state.History[0].Content)
	assert.Equal(t, "generated reply", state.History[1].Content)

	log, err := h.store.ResponseLog(context.Background(), "chat-a")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, models.SourceOpenAI, log[0].Source)
}

func TestPipeline_ResetIsNotRecorded(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.send("hello")
	h.send("!reset")

	assert.Equal(t, h.loc.Get(i18n.MsgResetDone, nil), h.sender.lastText(t))

	state, err := h.store.GetState(context.Background(), "chat-a")
	require.NoError(t, err)
	assert.Empty(t, state.History, "reset's own confirmation never re-seeds history")
}

func TestPipeline_PredefinedBeatsGenerative(t *testing.T) {
	h := newHarness(t, []matcher.Rule{
		{Keywords: []string{"opening hours"}, Response: models.TextReply("9 to 18, every day")},
	}, nil)

	h.send("what are your opening hours?")

	assert.Equal(t, "9 to 18, every day", h.sender.lastText(t))
	assert.Equal(t, 0, h.completer.calls, "keyword hit skips the model")

	log, err := h.store.ResponseLog(context.Background(), "chat-a")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, models.SourcePredefined, log[0].Source)

	state, err := h.store.GetState(context.Background(), "chat-a")
	require.NoError(t, err)
	require.Len(t, state.QuickReplies, 1)
}

func TestPipeline_MemoryRecallBeatsGenerative(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.completer.reply = "sounds fun!"
	h.send("I love hiking on weekends")

	h.send("any hiking weekends ideas?")

	want := `Earlier you mentioned: "I love hiking on weekends"`
	assert.Equal(t, want, h.sender.lastText(t))
	assert.Equal(t, 1, h.completer.calls, "recall answered the second message")

	log, err := h.store.ResponseLog(context.Background(), "chat-a")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, models.SourceMemory, log[1].Source)
}

func TestPipeline_EmptyTextIsIgnored(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.send("   ")
	assert.Empty(t, h.sender.sent)
}

func TestPipeline_LengthGate(t *testing.T) {
	h := newHarness(t, nil, nil)

	long := make([]byte, 0, 1100)
	for i := 0; i < 1100; i++ {
		long = append(long, 'a')
	}
	h.send(string(long))

	assert.Equal(t, h.loc.Get(i18n.MsgLengthWarning, nil), h.sender.lastText(t))
	assert.Equal(t, 0, h.completer.calls)

	log, err := h.store.ResponseLog(context.Background(), "chat-a")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, models.SourceSafety, log[0].Source)
}

func TestPipeline_SensitivePatternGate(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.send("my card is 4111 1111 1111 1111")

	assert.Equal(t, h.loc.Get(i18n.MsgSensitiveWarning, nil), h.sender.lastText(t))
	assert.Equal(t, 0, h.completer.calls)
}

func TestPipeline_InputModerationGate(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.moderator.flagInput = true

	h.send("something awful")

	assert.Equal(t, h.loc.Get(i18n.MsgSafeFailure, nil), h.sender.lastText(t))
	assert.Equal(t, 0, h.completer.calls)
}

func TestPipeline_ModerationFailsOpen(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.moderator.err = errors.New("moderation backend down")

	h.send("hello")

	assert.Equal(t, "generated reply", h.sender.lastText(t), "unreachable moderation never blocks")
}

func TestPipeline_OutputModerationReplacesReply(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.moderator.flagOutput = true

	h.send("hello")

	assert.Equal(t, h.loc.Get(i18n.MsgSafeFailure, nil), h.sender.lastText(t))

	log, err := h.store.ResponseLog(context.Background(), "chat-a")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, models.SourceSafety, log[0].Source)
}

func TestPipeline_CooldownGate(t *testing.T) {
	h := newHarness(t, nil, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h.limiter.SetClock(func() time.Time { return now })

	in := transport.Inbound{ChatID: "chat-a", SenderID: "1234", Text: "hello"}
	h.handler.HandleMessage(context.Background(), in)
	assert.Equal(t, "generated reply", h.sender.lastText(t))

	now = now.Add(time.Second)
	h.handler.HandleMessage(context.Background(), in)
	assert.Equal(t, h.loc.Get(i18n.MsgRateLimited, nil), h.sender.lastText(t))

	now = now.Add(3 * time.Second)
	h.handler.HandleMessage(context.Background(), in)
	assert.Equal(t, "generated reply", h.sender.lastText(t))
}

func TestPipeline_DegradedServiceReply(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.completer.err = errors.New("backend down")
	h.completer.reply = ""

	h.send("hello")

	assert.Equal(t, h.loc.Get(i18n.MsgDegradedService, nil), h.sender.lastText(t))

	log, err := h.store.ResponseLog(context.Background(), "chat-a")
	require.NoError(t, err)
	require.Len(t, log, 1, "degraded replies are still recorded")
}

func TestPipeline_GroupRequiresAddressing(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.sendGroup("just chatting with friends")
	assert.Empty(t, h.sender.sent, "unaddressed group chatter is ignored")

	h.sendGroup("hey Aria what do you think?")
	assert.Equal(t, "generated reply", h.sender.lastText(t))
}

func TestPipeline_GroupNameMatchIsWholeWord(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.sendGroup("the Arianna concert was great")
	assert.Empty(t, h.sender.sent, "a name embedded in a longer word is not addressing")
}

func TestPipeline_GroupMentionAddresses(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.sendGroup("@9999 tell me a joke", "9999")
	assert.Equal(t, "generated reply", h.sender.lastText(t))
}

func TestPipeline_GroupMentionAll(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.sendGroup("@everyone meeting in five")

	require.NotEmpty(t, h.sender.sent)
	last := h.sender.sent[len(h.sender.sent)-1].payload
	assert.Equal(t, models.ReplyMention, last.Kind)
	assert.Equal(t, []string{"111@s.whatsapp.net", "222@s.whatsapp.net"}, last.MentionedIDs)
	assert.Contains(t, last.Text, "@111")
	assert.Contains(t, last.Text, "@222")

	log, err := h.store.ResponseLog(context.Background(), "group-a")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, models.SourceMentionAll, log[0].Source)
}

func TestPipeline_GroupGeneralTableAnswersUnaddressed(t *testing.T) {
	h := newHarness(t, nil, []matcher.Rule{
		{Keywords: []string{"meeting link"}, Response: models.TextReply("https://meet.example.com/team")},
	})

	h.sendGroup("anyone got the meeting link?")

	assert.Equal(t, "https://meet.example.com/team", h.sender.lastText(t))
	assert.Equal(t, 0, h.completer.calls)

	log, err := h.store.ResponseLog(context.Background(), "group-a")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, models.SourceGeneral, log[0].Source)
}

func TestPipeline_GroupCommandAfterAddressing(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.sendGroup("Aria !help")

	assert.Equal(t, h.loc.Get(i18n.MsgHelp, nil), h.sender.lastText(t))
}

func TestPipeline_ConcurrentChatsDoNotInterleaveState(t *testing.T) {
	h := newHarness(t, nil, nil)

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			h.handler.HandleMessage(context.Background(), transport.Inbound{
				ChatID: fmt.Sprintf("chat-%d", n),
				Text:   "hello",
			})
		}(i)
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	for i := 0; i < 4; i++ {
		state, err := h.store.GetState(context.Background(), fmt.Sprintf("chat-%d", i))
		require.NoError(t, err)
		assert.Len(t, state.History, 2)
	}
}
