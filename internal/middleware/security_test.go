package middleware

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSecurityMiddleware_TooLong(t *testing.T) {
	s := NewSecurityMiddleware(10, logrus.New())

	assert.False(t, s.TooLong("short"))
	assert.False(t, s.TooLong(strings.Repeat("a", 10)), "limit is inclusive")
	assert.True(t, s.TooLong(strings.Repeat("a", 11)))

	// Runes, not bytes
	assert.False(t, s.TooLong(strings.Repeat("é", 10)))
}

func TestSecurityMiddleware_SensitiveMatch(t *testing.T) {
	s := NewSecurityMiddleware(1000, logrus.New())

	tests := []struct {
		name    string
		text    string
		pattern string
		hit     bool
	}{
		{
			name:    "card number with spaces",
			text:    "my card is 4111 1111 1111 1111 thanks",
			pattern: "payment_card",
			hit:     true,
		},
		{
			name:    "card number with dashes",
			text:    "4111-1111-1111-1111",
			pattern: "payment_card",
			hit:     true,
		},
		{
			name:    "ssn shape",
			text:    "mine is 123-45-6789",
			pattern: "ssn",
			hit:     true,
		},
		{
			name:    "nine digit id",
			text:    "id 123456789 here",
			pattern: "id_number",
			hit:     true,
		},
		{
			name: "ordinary numbers pass",
			text: "call me at 5 or maybe 10",
			hit:  false,
		},
		{
			name: "plain text passes",
			text: "what are your opening hours?",
			hit:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern, hit := s.SensitiveMatch(tt.text)
			assert.Equal(t, tt.hit, hit)
			if tt.hit {
				assert.Equal(t, tt.pattern, pattern)
			}
		})
	}
}
