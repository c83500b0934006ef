// Package ledger associates chat messages with their tracker state.
//
// Entries are keyed by the stable message ID minted when a message first
// enters the chat store; ordinal positions live in a separate order index
// rebound on every chat mutation. Deleting a message leaves its entry
// unreachable rather than shifting its neighbors onto stale positions.
package ledger

import (
	"fable/internal/tracker"
)

// Ledger is the ordered collection of message-ID → state associations.
// It is exclusively owned by the reconciliation engine.
type Ledger struct {
	entries map[string]*tracker.State
	order   []string
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]*tracker.State)}
}

// Bind replaces the positional index with the chat's current message IDs,
// in sequence order. Entries whose ID no longer appears stay in the map as
// unreachable garbage.
func (l *Ledger) Bind(ids []string) {
	l.order = append(l.order[:0], ids...)
}

// Len returns the number of bound positions.
func (l *Ledger) Len() int {
	return len(l.order)
}

// IDAt returns the message ID bound at index, or "" if out of range.
func (l *Ledger) IDAt(index int) string {
	if index < 0 || index >= len(l.order) {
		return ""
	}
	return l.order[index]
}

// Get returns the state for a message ID, or nil.
func (l *Ledger) Get(id string) *tracker.State {
	if id == "" {
		return nil
	}
	return l.entries[id]
}

// At returns the state bound at an ordinal position, or nil for positions
// outside the current chat.
func (l *Ledger) At(index int) *tracker.State {
	return l.Get(l.IDAt(index))
}

// Set stores state for a message ID, overwriting any previous entry.
// Empty records carry no information and are never stored.
func (l *Ledger) Set(id string, state *tracker.State) bool {
	if id == "" || state.IsEmpty() {
		return false
	}
	l.entries[id] = state
	return true
}

// Delete removes the entry for a message ID. Used only for explicit
// manual clearing; ordinary message deletion just unbinds the position.
func (l *Ledger) Delete(id string) {
	delete(l.entries, id)
}

// MostRecentBefore scans backward from index-1 to 0 and returns the first
// non-empty state, or nil when no predecessor carries state. This is the
// sole inheritance mechanism; the chat is a single linear sequence.
func (l *Ledger) MostRecentBefore(index int) *tracker.State {
	if index > len(l.order) {
		index = len(l.order)
	}
	for i := index - 1; i >= 0; i-- {
		if state := l.entries[l.order[i]]; !state.IsEmpty() {
			return state
		}
	}
	return nil
}

// Last returns the state of the highest bound position that has one.
func (l *Ledger) Last() *tracker.State {
	return l.MostRecentBefore(len(l.order))
}
