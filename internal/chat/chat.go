// Package chat models the linear message sequence the engine reconciles
// over, and persists chats as JSONL files.
package chat

import (
	"crypto/rand"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"fable/internal/tracker"
)

const trackerMetaKey = "tracker"

// Message is one entry in a chat sequence. ID is a ULID minted when the
// message is first stored and never changes afterward; Meta is an opaque
// side-channel shared with other collaborators, in which the engine keeps
// its own state under one key.
type Message struct {
	ID       string          `json:"id"`
	FromUser bool            `json:"from_user"`
	Text     string          `json:"text"`
	Meta     json.RawMessage `json:"meta,omitempty"`
	TS       int64           `json:"ts"`
}

// Chat is an ordered message sequence.
type Chat struct {
	ID       string
	Messages []Message
}

// NewMessageID mints a stable message identifier.
func NewMessageID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NewMessage builds a message with a fresh ID and timestamp.
func NewMessage(fromUser bool, text string) Message {
	return Message{
		ID:       NewMessageID(),
		FromUser: fromUser,
		Text:     text,
		TS:       time.Now().Unix(),
	}
}

// MessageIDs returns the sequence's IDs in order, for ledger binding.
func (c *Chat) MessageIDs() []string {
	ids := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		ids = append(ids, m.ID)
	}
	return ids
}

// Append adds a message to the tail and returns its index.
func (c *Chat) Append(m Message) int {
	c.Messages = append(c.Messages, m)
	return len(c.Messages) - 1
}

// Remove deletes the message at index. Indices of all later messages
// shift down by one.
func (c *Chat) Remove(index int) bool {
	if index < 0 || index >= len(c.Messages) {
		return false
	}
	c.Messages = append(c.Messages[:index], c.Messages[index+1:]...)
	return true
}

// TrackerState reads the engine's state out of a message's side-channel,
// or nil when none was ever attached or it no longer decodes.
func (m *Message) TrackerState() *tracker.State {
	if len(m.Meta) == 0 {
		return nil
	}
	raw := gjson.GetBytes(m.Meta, trackerMetaKey)
	if !raw.Exists() {
		return nil
	}
	var state tracker.State
	if err := json.Unmarshal([]byte(raw.Raw), &state); err != nil {
		return nil
	}
	if state.IsEmpty() {
		return nil
	}
	return &state
}

// SetTrackerState writes the engine's state into the side-channel without
// disturbing keys owned by other collaborators.
func (m *Message) SetTrackerState(state *tracker.State) error {
	meta := m.Meta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	if state.IsEmpty() {
		updated, err := sjson.DeleteBytes(meta, trackerMetaKey)
		if err != nil {
			return err
		}
		m.Meta = updated
		return nil
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	updated, err := sjson.SetRawBytes(meta, trackerMetaKey, raw)
	if err != nil {
		return err
	}
	m.Meta = updated
	return nil
}

// DisplayText returns the message text with tracker blocks stripped.
func (m *Message) DisplayText() string {
	return tracker.Strip(m.Text)
}

// NormalizeChatID reports whether id is usable as a chat file name.
func NormalizeChatID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", false
	}
	return id, true
}
