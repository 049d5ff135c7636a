package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wa-ai-bot-go/internal/models"
)

func historyOf(userMessages ...string) *models.ChatState {
	state := &models.ChatState{ChatID: "test"}
	for _, msg := range userMessages {
		state.History = append(state.History,
			models.Message{Role: models.RoleUser, Content: msg},
			models.Message{Role: models.RoleAssistant, Content: "ok"},
		)
	}
	return state
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "lowercases and strips punctuation",
			text: "I LOVE Hiking, on weekends!",
			want: []string{"love", "hiking", "weekends"},
		},
		{
			name: "drops short tokens and stopwords",
			text: "do you know what the plan is",
			want: []string{"plan"},
		},
		{
			name: "keeps numbers",
			text: "room 1204 is booked",
			want: []string{"room", "1204", "booked"},
		},
		{
			name: "empty text",
			text: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Keywords(tt.text))
		})
	}
}

func TestRecall_LongQueryThreshold(t *testing.T) {
	e := NewEngine()
	state := historyOf("I love hiking on weekends")

	// "hiking", "gear", "trip" -> 1/3 overlap ~ 0.33, below 0.34
	_, ok := e.Recall(state, "hiking gear trip")
	assert.False(t, ok, "one of three keywords is below the long-query threshold")

	// "hiking", "weekends", "gear" -> 2/3 overlap ~ 0.67
	content, ok := e.Recall(state, "hiking weekends gear")
	require.True(t, ok)
	assert.Equal(t, "I love hiking on weekends", content)
}

func TestRecall_ShortQueryThreshold(t *testing.T) {
	e := NewEngine()
	state := historyOf("I love hiking on weekends")

	// One of two keywords is 0.5, below the short-query 0.6 bar
	_, ok := e.Recall(state, "hiking boots")
	assert.False(t, ok)

	// Both keywords hit
	content, ok := e.Recall(state, "hiking weekends")
	require.True(t, ok)
	assert.Equal(t, "I love hiking on weekends", content)
}

func TestRecall_TieKeepsEarliestEntry(t *testing.T) {
	e := NewEngine()
	state := historyOf(
		"my favorite color is blue",
		"blue is also my favorite car color",
	)

	content, ok := e.Recall(state, "favorite color blue")
	require.True(t, ok)
	assert.Equal(t, "my favorite color is blue", content)
}

func TestRecall_IgnoresAssistantTurns(t *testing.T) {
	e := NewEngine()
	state := &models.ChatState{History: []models.Message{
		{Role: models.RoleAssistant, Content: "hiking weekends trails boots"},
	}}

	_, ok := e.Recall(state, "hiking weekends")
	assert.False(t, ok)
}

func TestRecall_EmptyInputs(t *testing.T) {
	e := NewEngine()

	_, ok := e.Recall(nil, "hiking weekends")
	assert.False(t, ok)

	_, ok = e.Recall(historyOf("I love hiking"), "a an it")
	assert.False(t, ok, "query with no usable keywords never recalls")
}

func TestRecall_DuplicateQueryKeywordsCountOnce(t *testing.T) {
	e := NewEngine()
	state := historyOf("I love hiking on weekends")

	// "hiking hiking" dedupes to one keyword: short query, full overlap
	content, ok := e.Recall(state, "hiking hiking hiking")
	require.True(t, ok)
	assert.Equal(t, "I love hiking on weekends", content)
}
