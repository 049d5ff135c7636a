package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/wa-ai-bot-go/internal/config"
)

// Localizer resolves canned messages by ID
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer builds a localizer from the embedded English defaults plus
// any language files found in the configured directory. Missing files are
// not an error; the embedded defaults always apply.
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	if _, err := bundle.ParseMessageFileBytes([]byte(defaultMessages), "en.json"); err != nil {
		return nil, fmt.Errorf("failed to parse embedded messages: %w", err)
	}

	for _, lang := range cfg.Languages {
		path := filepath.Join(cfg.Directory, lang+".json")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", path, err)
		}
	}

	langs := append([]string{"en"}, cfg.Languages...)
	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range langs {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	defaultLang := cfg.DefaultLanguage
	if defaultLang == "" {
		defaultLang = "en"
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLang,
		localizers:      localizers,
	}, nil
}

// Default returns a localizer carrying only the embedded English messages,
// used by tests and as a last-resort fallback.
func Default() *Localizer {
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "en"})
	if err != nil {
		panic(err)
	}
	return l
}

// Get returns the localized message for an ID
func (l *Localizer) Get(messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[l.defaultLanguage]
	if !exists {
		localizer = l.localizers["en"]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}

	return msg
}

// Message IDs
const (
	MsgHelp             = "help"
	MsgAbout            = "about"
	MsgPolicy           = "policy"
	MsgPrivacy          = "privacy"
	MsgUnknownCommand   = "unknown_command"
	MsgResetDone        = "reset_done"
	MsgHistoryEmpty     = "history_empty"
	MsgHistoryHeader    = "history_header"
	MsgQuickEmpty       = "quick_empty"
	MsgQuickHeader      = "quick_header"
	MsgStatsHeader      = "stats_header"
	MsgStatsEmpty       = "stats_empty"
	MsgRateLimited      = "rate_limited"
	MsgLengthWarning    = "length_warning"
	MsgSensitiveWarning = "sensitive_warning"
	MsgSafeFailure      = "safe_failure"
	MsgDegradedService  = "degraded_service"
	MsgMemoryRecall     = "memory_recall"
	MsgMentionAll       = "mention_all"
	MsgTaskFailed       = "task_failed"
	MsgTranslateUsage   = "translate_usage"
	MsgImageCaption     = "image_caption"
	MsgImageQuota       = "image_quota"
	MsgImageFailed      = "image_failed"
	MsgSummaryEmpty     = "summary_empty"
)

// defaultMessages is the embedded English catalog. A file in the i18n
// directory with the same IDs overrides these.
const defaultMessages = `{
  "help": "Here's what I can do:\n!help - this message\n!reset - clear our conversation\n!history - recent conversation turns\n!quickreplies - recent quick replies\n!stats - conversation statistics\n!songs [topic] - song suggestions\n!plan [topic] - plan something\n!meal [topic] - meal ideas\n!summary [focus] - summarize our chat\n!translate language: text - translate text\n!image prompt - generate an image\n!policy / !privacy - how I handle your data\n!about - about me",
  "about": "I'm a WhatsApp assistant. Mention my name in a group or message me directly and I'll do my best to help.",
  "policy": "I only reply when addressed, I keep a short rolling history per chat, and I refuse to repeat sensitive data. Replies may be generated by a language model.",
  "privacy": "Conversation history is stored locally as JSON, capped to a small number of recent entries per chat. Use !reset at any time to erase it.",
  "unknown_command": "Sorry, I don't recognise that command. Try !help for the list.",
  "reset_done": "Done! I've cleared our conversation history.",
  "history_empty": "We don't have any conversation history yet.",
  "history_header": "Here's what we talked about recently:",
  "quick_empty": "No quick replies recorded yet.",
  "quick_header": "Recent quick replies:",
  "stats_header": "Conversation stats:",
  "stats_empty": "Nothing logged for this chat yet.",
  "rate_limited": "I'm still wrapping up another request - give me a moment and try again.",
  "length_warning": "That message is a bit too long for me. Could you shorten it?",
  "sensitive_warning": "That looks like it contains sensitive data, so I won't process it. Please don't share card or ID numbers here.",
  "safe_failure": "I can't help with that one, sorry.",
  "degraded_service": "Sorry, I'm having trouble thinking right now. Please try again in a bit.",
  "memory_recall": "Earlier you mentioned: \"{{.Content}}\"",
  "mention_all": "Calling everyone!",
  "task_failed": "I couldn't put that together right now. Please try again later.",
  "translate_usage": "Tell me the language and the text, e.g. !translate spanish: good morning",
  "image_caption": "Here you go! {{.Remaining}} image(s) left today.",
  "image_quota": "You've used all {{.Limit}} images for today. Quota resets in about {{.Reset}}.",
  "image_failed": "I couldn't draw that right now. Please try again later.",
  "summary_empty": "There's nothing to summarize yet."
}`
