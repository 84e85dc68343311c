package chat

import (
	"fmt"
	"strings"
	"sync"
)

// Exchange is one query/answer pair.
type Exchange struct {
	Query  string
	Answer string
}

// History is a bounded most-recent-N sequence of exchanges. Safe for
// concurrent use; one identity's ring is shared by every in-flight
// request carrying that session.
type History struct {
	max int

	mu      sync.Mutex
	entries []Exchange
}

// NewHistory creates a history keeping at most max exchanges.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 10
	}
	return &History{max: max}
}

// Add appends an exchange, evicting the oldest beyond the cap.
func (h *History) Add(query, answer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Exchange{Query: query, Answer: answer})
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Entries returns a copy of the exchanges, oldest first.
func (h *History) Entries() []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Exchange, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of retained exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Format renders the history for prompt inclusion.
func (h *History) Format() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return "No history"
	}
	lines := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		lines = append(lines, fmt.Sprintf("User: %s\nAI: %s", e.Query, e.Answer))
	}
	return strings.Join(lines, "\n")
}
