// Package tracker holds the canonical narrative-state record and the pure
// transforms over it: the block parser, the legacy importer, the heart
// clamp, and the clock advancer.
package tracker

import (
	"fmt"
	"strings"
)

const (
	// BlockStart opens a tracker block in message text (case-insensitive).
	BlockStart = "[TRACKER]"
	// BlockEnd closes a tracker block.
	BlockEnd = "[/TRACKER]"
)

// Character is one tracked character's attributes. Name is the identity;
// everything else is free text. Insertion order across a record is
// significant: first-listed characters are primary.
type Character struct {
	Name        string `json:"name"`
	Outfit      string `json:"outfit"`
	State       string `json:"state"`
	Position    string `json:"position"`
	Description string `json:"description,omitempty"`
}

// State is the canonical narrative-state record for one message. Absent
// scalar fields are empty strings, an absent heart is a nil pointer, and
// the character list keeps its source order.
type State struct {
	Time       string      `json:"time,omitempty"`
	Location   string      `json:"location,omitempty"`
	Weather    string      `json:"weather,omitempty"`
	Heart      *int        `json:"heart,omitempty"`
	Characters []Character `json:"characters,omitempty"`
}

// HeartValue returns a pointer to v, for literal record construction.
func HeartValue(v int) *int {
	return &v
}

// IsEmpty reports whether the record carries no information at all. Empty
// records must never be stored in the ledger.
func (s *State) IsEmpty() bool {
	if s == nil {
		return true
	}
	return s.Time == "" && s.Location == "" && s.Weather == "" &&
		s.Heart == nil && len(s.Characters) == 0
}

// Clone returns a deep copy safe to mutate independently.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	copied := *s
	if s.Heart != nil {
		v := *s.Heart
		copied.Heart = &v
	}
	copied.Characters = append([]Character(nil), s.Characters...)
	return &copied
}

// Format renders a record as a canonical tracker block. Absent fields are
// omitted; characters keep their order. Format(Parse(text)) round-trips the
// scalar fields and character list of any valid block.
func Format(s *State) string {
	if s.IsEmpty() {
		return ""
	}

	var b strings.Builder
	b.WriteString(BlockStart)
	b.WriteString("\n")
	if s.Time != "" {
		fmt.Fprintf(&b, "time: %s\n", s.Time)
	}
	if s.Location != "" {
		fmt.Fprintf(&b, "location: %s\n", s.Location)
	}
	if s.Weather != "" {
		fmt.Fprintf(&b, "weather: %s\n", s.Weather)
	}
	if s.Heart != nil {
		fmt.Fprintf(&b, "heart: %d\n", *s.Heart)
	}
	if len(s.Characters) > 0 {
		b.WriteString("characters:\n")
		for _, c := range s.Characters {
			b.WriteString("- ")
			b.WriteString(formatCharacter(c))
			b.WriteString("\n")
		}
	}
	b.WriteString(BlockEnd)
	return b.String()
}

func formatCharacter(c Character) string {
	fields := []string{"name: " + c.Name}
	if c.Outfit != "" {
		fields = append(fields, "outfit: "+c.Outfit)
	}
	if c.State != "" {
		fields = append(fields, "state: "+c.State)
	}
	if c.Position != "" {
		fields = append(fields, "position: "+c.Position)
	}
	if c.Description != "" {
		fields = append(fields, "description: "+c.Description)
	}
	return strings.Join(fields, " | ")
}
