package matcher

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/models"
)

// Rule maps a keyword set to a canned response. Rules are immutable after
// load; the first rule with a substring hit wins.
type Rule struct {
	Keywords      []string
	Response      models.ReplyPayload
	CaseSensitive bool
}

// ruleFile is the on-disk shape. The response field accepts either a bare
// string or a structured payload object.
type ruleFile struct {
	Keywords      []string        `json:"keywords"`
	Response      json.RawMessage `json:"response"`
	CaseSensitive bool            `json:"caseSensitive"`
}

// Matcher holds one loaded rule table
type Matcher struct {
	rules  []Rule
	logger *logrus.Logger
}

// New builds a matcher over an already-validated rule list
func New(rules []Rule, logger *logrus.Logger) *Matcher {
	return &Matcher{rules: rules, logger: logger}
}

// LoadFile reads a rule table from a JSON file. Rules with no usable
// keywords or an empty payload are dropped with a warning, never loaded.
// A missing file yields an empty matcher.
func LoadFile(path string, logger *logrus.Logger) (*Matcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.WithField("path", path).Info("Rule file not found, starting with no rules")
			return New(nil, logger), nil
		}
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}

	var raw []ruleFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}

	rules := make([]Rule, 0, len(raw))
	for i, rf := range raw {
		rule, ok := buildRule(rf)
		if !ok {
			logger.WithFields(logrus.Fields{
				"path":  path,
				"index": i,
			}).Warn("Dropping invalid rule")
			continue
		}
		rules = append(rules, rule)
	}

	logger.WithFields(logrus.Fields{
		"path":  path,
		"rules": len(rules),
	}).Info("Rule table loaded")

	return New(rules, logger), nil
}

func buildRule(rf ruleFile) (Rule, bool) {
	keywords := make([]string, 0, len(rf.Keywords))
	for _, k := range rf.Keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		keywords = append(keywords, k)
	}
	if len(keywords) == 0 {
		return Rule{}, false
	}

	payload, ok := parsePayload(rf.Response)
	if !ok || !payload.Valid() {
		return Rule{}, false
	}

	return Rule{
		Keywords:      keywords,
		Response:      payload,
		CaseSensitive: rf.CaseSensitive,
	}, true
}

func parsePayload(raw json.RawMessage) (models.ReplyPayload, bool) {
	if len(raw) == 0 {
		return models.ReplyPayload{}, false
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return models.ReplyPayload{}, false
		}
		return models.TextReply(text), true
	}

	var structured struct {
		Text        string `json:"text"`
		Caption     string `json:"caption"`
		MediaURL    string `json:"mediaUrl"`
		StickerURL  string `json:"stickerUrl"`
		MediaBase64 string `json:"mediaBase64"`
	}
	if err := json.Unmarshal(raw, &structured); err != nil {
		return models.ReplyPayload{}, false
	}

	payload := models.ReplyPayload{
		Kind:        models.ReplyMedia,
		Text:        structured.Text,
		Caption:     structured.Caption,
		MediaURL:    structured.MediaURL,
		StickerURL:  structured.StickerURL,
		MediaBase64: structured.MediaBase64,
	}
	if payload.MediaURL == "" && payload.StickerURL == "" && payload.MediaBase64 == "" {
		payload.Kind = models.ReplyText
	}
	return payload, payload.Valid()
}

// Match returns the response of the first rule with any keyword hit
// against the text, or nil when nothing matches. First match wins, not
// best match.
func (m *Matcher) Match(text string) *models.ReplyPayload {
	if text == "" {
		return nil
	}
	lowered := strings.ToLower(text)

	for i := range m.rules {
		rule := &m.rules[i]
		haystack := lowered
		if rule.CaseSensitive {
			haystack = text
		}
		for _, keyword := range rule.Keywords {
			needle := keyword
			if !rule.CaseSensitive {
				needle = strings.ToLower(keyword)
			}
			if strings.Contains(haystack, needle) {
				response := rule.Response
				return &response
			}
		}
	}

	return nil
}

// Len reports how many rules are loaded
func (m *Matcher) Len() int {
	return len(m.rules)
}
