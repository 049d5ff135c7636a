package memory

import (
	"strings"
	"unicode"

	"github.com/wa-ai-bot-go/internal/models"
)

// Acceptance thresholds: short queries must overlap almost entirely,
// longer ones only need about a third of their keywords to hit.
const (
	shortQueryKeywords = 2
	shortQueryScore    = 0.6
	longQueryScore     = 0.34
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "day": {}, "get": {}, "has": {}, "him": {},
	"his": {}, "how": {}, "man": {}, "new": {}, "now": {}, "old": {},
	"see": {}, "two": {}, "way": {}, "who": {}, "did": {}, "its": {},
	"let": {}, "she": {}, "too": {}, "use": {}, "that": {}, "with": {},
	"have": {}, "this": {}, "will": {}, "your": {}, "from": {},
	"they": {}, "know": {}, "want": {}, "been": {}, "good": {},
	"much": {}, "some": {}, "time": {}, "just": {}, "like": {},
	"what": {}, "when": {}, "about": {}, "there": {}, "their": {},
	"would": {}, "could": {}, "should": {},
}

// Engine scores a new message against prior user utterances in the same
// chat and surfaces the best one when confident. Pure with respect to
// chat state; the bounded history keeps the scan cheap.
type Engine struct{}

// NewEngine creates a recall engine
func NewEngine() *Engine {
	return &Engine{}
}

// Keywords tokenizes text for overlap scoring: lowercase, punctuation
// stripped, tokens of length <= 2 and stopwords dropped.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		keywords = append(keywords, f)
	}
	return keywords
}

// Recall returns the content of the best-matching prior user message,
// or ok=false when nothing clears the threshold.
func (e *Engine) Recall(state *models.ChatState, text string) (string, bool) {
	if state == nil {
		return "", false
	}

	queryKeywords := Keywords(text)
	if len(queryKeywords) == 0 {
		return "", false
	}

	querySet := make(map[string]struct{}, len(queryKeywords))
	for _, k := range queryKeywords {
		querySet[k] = struct{}{}
	}

	bestScore := 0.0
	bestContent := ""

	for _, entry := range state.History {
		if entry.Role != models.RoleUser {
			continue
		}

		overlap := 0
		seen := make(map[string]struct{})
		for _, k := range Keywords(entry.Content) {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			if _, hit := querySet[k]; hit {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}

		score := float64(overlap) / float64(len(querySet))
		// Ties keep the earliest entry
		if score > bestScore {
			bestScore = score
			bestContent = entry.Content
		}
	}

	threshold := longQueryScore
	if len(querySet) <= shortQueryKeywords {
		threshold = shortQueryScore
	}

	if bestScore < threshold {
		return "", false
	}
	return bestContent, true
}
