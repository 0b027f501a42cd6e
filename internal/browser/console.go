package browser

import (
	"strings"
	"sync"
	"time"
)

// Console message levels as reported by the browser.
const (
	LevelLog     = "log"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// ConsoleMessage is one console entry observed in a session.
type ConsoleMessage struct {
	Level string
	Text  string
	URL   string
	Time  time.Time
}

// ConsoleSubscription collects console messages for the lifetime of one
// session. The scenario that owns the session drains it at teardown.
type ConsoleSubscription struct {
	mu       sync.Mutex
	messages []ConsoleMessage
	closed   bool
}

// NewConsoleSubscription returns an open, empty subscription.
func NewConsoleSubscription() *ConsoleSubscription {
	return &ConsoleSubscription{}
}

// Record appends msg. Messages arriving after Close are dropped.
func (c *ConsoleSubscription) Record(msg ConsoleMessage) {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.messages = append(c.messages, msg)
}

// Drain returns every recorded message and clears the buffer.
func (c *ConsoleSubscription) Drain() []ConsoleMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.messages
	c.messages = nil
	return out
}

// Errors returns the error-level messages recorded so far whose text does
// not contain any allowlisted fragment (case-insensitive). The buffer is
// left intact.
func (c *ConsoleSubscription) Errors(allow []string) []ConsoleMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FilterErrors(c.messages, allow)
}

// Close stops recording.
func (c *ConsoleSubscription) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// FilterErrors keeps error-level messages not matched by allow.
func FilterErrors(msgs []ConsoleMessage, allow []string) []ConsoleMessage {
	var out []ConsoleMessage
next:
	for _, m := range msgs {
		if m.Level != LevelError {
			continue
		}
		text := strings.ToLower(m.Text + " " + m.URL)
		for _, a := range allow {
			if a != "" && strings.Contains(text, strings.ToLower(a)) {
				continue next
			}
		}
		out = append(out, m)
	}
	return out
}
