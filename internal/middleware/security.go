package middleware

import (
	"regexp"

	"github.com/sirupsen/logrus"
)

// SecurityMiddleware runs the local, pre-generation safety checks:
// message length and sensitive-data patterns. Both are pure functions of
// the text.
type SecurityMiddleware struct {
	maxLength int
	patterns  []sensitivePattern
	logger    *logrus.Logger
}

type sensitivePattern struct {
	name string
	re   *regexp.Regexp
}

// Ordered: first match decides. Card-like runs before SSN-like groups.
var defaultPatterns = []sensitivePattern{
	{name: "payment_card", re: regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{name: "ssn", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{name: "id_number", re: regexp.MustCompile(`\b\d{9}\b`)},
}

// NewSecurityMiddleware creates the guard with the built-in pattern list
func NewSecurityMiddleware(maxLength int, logger *logrus.Logger) *SecurityMiddleware {
	return &SecurityMiddleware{
		maxLength: maxLength,
		patterns:  defaultPatterns,
		logger:    logger,
	}
}

// TooLong reports whether the text exceeds the configured limit
func (s *SecurityMiddleware) TooLong(text string) bool {
	return s.maxLength > 0 && len([]rune(text)) > s.maxLength
}

// SensitiveMatch tests the text against the ordered pattern list and
// returns the name of the first matching pattern.
func (s *SecurityMiddleware) SensitiveMatch(text string) (string, bool) {
	for _, p := range s.patterns {
		if p.re.MatchString(text) {
			s.logger.WithField("pattern", p.name).Warn("Sensitive pattern matched")
			return p.name, true
		}
	}
	return "", false
}
