package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiterCap bounds the number of tracked per-IP limiters to prevent
// memory exhaustion from an attacker rotating source addresses.
const ipLimiterCap = 8192

// ipLimiters lazily creates one token-bucket limiter per client IP.
type ipLimiters struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rate.Limiter
}

func newIPLimiters(perMinute int) *ipLimiters {
	return &ipLimiters{perMin: perMinute, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request from ip may proceed, consuming one
// token from its bucket if so.
func (l *ipLimiters) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= ipLimiterCap {
			for k := range l.limiters {
				delete(l.limiters, k)
				break
			}
		}
		lim = rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.perMin)
		l.limiters[ip] = lim
	}
	return lim.Allow()
}

// conversationWindowCap bounds tracked conversation keys, mirroring the
// teacher's webhook rate limiter's defense against unbounded key growth.
const conversationWindowCap = 4096

type windowEntry struct {
	windowStart time.Time
	count       int
}

// conversationCallLimiter enforces a fixed-window cap on LLM calls per
// conversation (spec.md §5: "3 LLM calls per minute per conversation"):
// a window opens at the first call after the previous one expired.
// Adapted from the channel webhook rate limiter's bounded key map.
type conversationCallLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	maxHits int
	entries map[string]*windowEntry
}

func newConversationCallLimiter(maxPerMinute int) *conversationCallLimiter {
	return &conversationCallLimiter{
		window:  time.Minute,
		maxHits: maxPerMinute,
		entries: make(map[string]*windowEntry),
	}
}

// Allow reports whether conversationID may make another LLM call within
// the current window, recording the attempt either way.
func (c *conversationCallLimiter) Allow(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if len(c.entries) >= conversationWindowCap {
		for k, e := range c.entries {
			if now.Sub(e.windowStart) >= c.window {
				delete(c.entries, k)
			}
		}
		for len(c.entries) >= conversationWindowCap {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}

	e, ok := c.entries[conversationID]
	if !ok || now.Sub(e.windowStart) >= c.window {
		c.entries[conversationID] = &windowEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= c.maxHits
}
