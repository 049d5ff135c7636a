package models

import (
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Reply source tags, recorded with every logged interaction
const (
	SourcePredefined = "predefined"
	SourceGeneral    = "general"
	SourceMemory     = "memory"
	SourceOpenAI     = "openai"
	SourceCommand    = "command"
	SourceSafety     = "safety"
	SourceSystem     = "system"
	SourceMentionAll = "mention-all"
)

// Message represents one role-tagged turn of a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QuickReply records a keyword-matched exchange for the quickreplies command
type QuickReply struct {
	UserMessage string    `json:"userMessage"`
	Reply       string    `json:"reply"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChatState holds the in-memory conversation state of one chat.
// It is owned by the state store; other components read it through the
// store and never mutate it directly.
type ChatState struct {
	ChatID       string       `json:"chatId"`
	History      []Message    `json:"history"`
	QuickReplies []QuickReply `json:"quickReplies"`
}

// ResponseLogEntry is one line of the durable per-chat response log.
// History can be rehydrated from it.
type ResponseLogEntry struct {
	Message   string    `json:"message"`
	Reply     string    `json:"reply"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplyKind discriminates ReplyPayload variants
type ReplyKind int

const (
	ReplyText ReplyKind = iota
	ReplyMedia
	ReplyMention
)

// ReplyPayload is a tagged variant for outbound replies: plain text,
// a media reply, or a text reply that mentions contacts.
type ReplyPayload struct {
	Kind ReplyKind `json:"kind"`

	Text string `json:"text,omitempty"`

	// Media variant
	Caption     string `json:"caption,omitempty"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	StickerURL  string `json:"stickerUrl,omitempty"`
	MediaBase64 string `json:"mediaBase64,omitempty"`

	// Mention variant
	MentionedIDs []string `json:"mentions,omitempty"`
}

// TextReply builds a plain-text payload
func TextReply(text string) ReplyPayload {
	return ReplyPayload{Kind: ReplyText, Text: text}
}

// MentionReply builds a payload that mentions the given contacts
func MentionReply(text string, ids []string) ReplyPayload {
	return ReplyPayload{Kind: ReplyMention, Text: text, MentionedIDs: ids}
}

// DisplayText returns the human-visible text of a payload, used for
// logging and output moderation.
func (p ReplyPayload) DisplayText() string {
	if p.Text != "" {
		return p.Text
	}
	return p.Caption
}

// Valid reports whether the payload carries anything deliverable.
// Rules with invalid payloads are discarded at load time.
func (p ReplyPayload) Valid() bool {
	return p.Text != "" || p.Caption != "" || p.MediaURL != "" || p.StickerURL != "" || p.MediaBase64 != ""
}

// ChatStats summarizes a chat's response log by source tag
type ChatStats struct {
	Total    int            `json:"total"`
	BySource map[string]int `json:"bySource"`
	LastSeen time.Time      `json:"lastSeen"`
}
