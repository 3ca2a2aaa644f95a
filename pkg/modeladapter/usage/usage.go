// Package usage tracks token consumption reported by a backend.
package usage

import (
	"fmt"
	"sync"
)

// TokenCount holds the token counts a backend reported for one call.
// ReasoningTokens is a subset of OutputTokens when the backend reports it.
type TokenCount struct {
	InputTokens     int
	OutputTokens    int
	ReasoningTokens int
}

// Total returns the sum of input and output tokens.
func (tc TokenCount) Total() int {
	return tc.InputTokens + tc.OutputTokens
}

func (tc TokenCount) String() string {
	return fmt.Sprintf("in=%d out=%d reasoning=%d", tc.InputTokens, tc.OutputTokens, tc.ReasoningTokens)
}

// Tracker accumulates token usage across calls. The zero value is ready to
// use and it is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries []TokenCount
}

// Add records the usage of one call.
func (t *Tracker) Add(tc TokenCount) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, tc)
}

// Last returns the most recent entry; ok is false when nothing was recorded.
func (t *Tracker) Last() (tc TokenCount, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return TokenCount{}, false
	}

	return t.entries[len(t.entries)-1], true
}

// Total sums every recorded entry.
func (t *Tracker) Total() TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total TokenCount
	for _, e := range t.entries {
		total.InputTokens += e.InputTokens
		total.OutputTokens += e.OutputTokens
		total.ReasoningTokens += e.ReasoningTokens
	}

	return total
}

// Count returns the number of recorded entries.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Reset drops every recorded entry.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = nil
}
