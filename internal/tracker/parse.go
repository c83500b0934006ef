package tracker

import (
	"bufio"
	"strconv"
	"strings"
)

const listMarker = "- "

// Parse extracts the first tracker block from raw message text and returns
// its canonical record, or nil when no block exists or the block carries no
// information. Malformed lines are skipped; Parse never fails.
func Parse(text string) *State {
	block, ok := extractBlock(text)
	if !ok {
		return nil
	}

	state := &State{}
	inCharacters := false

	scanner := bufio.NewScanner(strings.NewReader(block))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if inCharacters {
			if strings.HasPrefix(line, listMarker) {
				if c, ok := parseCharacterLine(strings.TrimPrefix(line, listMarker)); ok {
					state.Characters = append(state.Characters, c)
				}
				continue
			}
			// Any non-list line ends collection, even a blank one
			// followed by more list items.
			inCharacters = false
		}

		if line == "" {
			continue
		}

		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		if key == "characters" {
			inCharacters = true
			continue
		}
		applyScalar(state, key, value)
	}

	if state.IsEmpty() {
		return nil
	}
	return state
}

// Strip removes every tracker block from text, for display. Text without a
// block is returned unchanged.
func Strip(text string) string {
	out := text
	for {
		start, end, ok := blockBounds(out)
		if !ok {
			break
		}
		out = strings.TrimSpace(out[:start] + out[end:])
	}
	return out
}

func extractBlock(text string) (string, bool) {
	start, end, ok := blockBounds(text)
	if !ok {
		return "", false
	}
	inner := text[start+len(BlockStart) : end-len(BlockEnd)]
	return inner, true
}

// blockBounds returns the [start, end) byte range of the first block,
// markers included, matched case-insensitively.
func blockBounds(text string) (int, int, bool) {
	lower := strings.ToLower(text)
	start := strings.Index(lower, strings.ToLower(BlockStart))
	if start < 0 {
		return 0, 0, false
	}
	rest := lower[start+len(BlockStart):]
	endRel := strings.Index(rest, strings.ToLower(BlockEnd))
	if endRel < 0 {
		return 0, 0, false
	}
	end := start + len(BlockStart) + endRel + len(BlockEnd)
	return start, end, true
}

func parseCharacterLine(line string) (Character, bool) {
	var c Character
	for _, field := range strings.Split(line, "|") {
		key, value, ok := splitKeyValue(field)
		if !ok {
			continue
		}
		switch key {
		case "name":
			c.Name = value
		case "outfit":
			c.Outfit = value
		case "state":
			c.State = value
		case "position":
			c.Position = value
		case "description":
			c.Description = value
		}
	}
	if c.Name == "" {
		return Character{}, false
	}
	return c, true
}

// splitKeyValue splits "key: value" on the first colon. The key is
// lower-cased and may be bare ("characters" with no value); the value keeps
// interior spacing.
func splitKeyValue(s string) (string, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	key, value, found := strings.Cut(s, ":")
	if !found {
		key = s
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

func applyScalar(state *State, key, value string) {
	if value == "" {
		return
	}
	switch key {
	case "time":
		state.Time = value
	case "location":
		state.Location = value
	case "weather":
		state.Weather = value
	case "heart":
		if v, err := strconv.Atoi(value); err == nil {
			state.Heart = &v
		}
	}
}
