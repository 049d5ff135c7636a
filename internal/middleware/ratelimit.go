package middleware

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter gates replies per chat
type RateLimiter interface {
	Allow(chatID string) bool
	Stamp(chatID string)
	Reset(chatID string)
}

// CooldownLimiter enforces a fixed minimum interval between replies to
// the same chat. Not a token bucket: the stamp records last outbound
// activity and is updated in the delivery step, regardless of which
// stage produced the reply. State is process-lifetime only.
type CooldownLimiter struct {
	cooldown time.Duration
	last     map[string]time.Time
	mu       sync.Mutex
	now      func() time.Time
	logger   *logrus.Logger
}

// NewCooldownLimiter creates a per-chat cooldown gate. A zero cooldown
// disables limiting.
func NewCooldownLimiter(cooldown time.Duration, logger *logrus.Logger) *CooldownLimiter {
	return &CooldownLimiter{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock swaps the time source, for tests
func (c *CooldownLimiter) SetClock(now func() time.Time) {
	c.now = now
}

// Allow reports whether the chat is outside its cooldown window. It does
// not update the stamp; Stamp does that once a reply actually goes out.
func (c *CooldownLimiter) Allow(chatID string) bool {
	if c.cooldown <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, seen := c.last[chatID]
	if !seen {
		return true
	}

	if c.now().Sub(last) < c.cooldown {
		c.logger.WithField("chat_id", chatID).Warn("Chat within cooldown window")
		return false
	}
	return true
}

// Stamp records outbound activity for the chat
func (c *CooldownLimiter) Stamp(chatID string) {
	c.mu.Lock()
	c.last[chatID] = c.now()
	c.mu.Unlock()
}

// Reset clears the cooldown state for a chat
func (c *CooldownLimiter) Reset(chatID string) {
	c.mu.Lock()
	delete(c.last, chatID)
	c.mu.Unlock()
}
