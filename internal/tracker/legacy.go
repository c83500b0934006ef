package tracker

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// LegacyStart opens an embedded legacy scene payload.
	LegacyStart = "<scene>"
	// LegacyEnd closes an embedded legacy scene payload.
	LegacyEnd = "</scene>"
)

// Historical key aliases, capitalized form first.
var (
	legacyTimeKeys     = []string{"Time", "time"}
	legacyLocationKeys = []string{"Location", "location"}
	legacyWeatherKeys  = []string{"Weather", "weather"}
	legacyHeartKeys    = []string{"Heart", "heart", "Affection", "affection"}
	legacyNamesKeys    = []string{"Characters", "characters", "Present", "present"}
	legacyDetailsKeys  = []string{"CharacterDetails", "characterDetails", "character_details"}

	legacyOutfitKeys      = []string{"Outfit", "outfit", "Clothes", "clothes"}
	legacyStateKeys       = []string{"State", "state", "StateOfDress", "state of dress", "State of Dress"}
	legacyPositionKeys    = []string{"Position", "position"}
	legacyDescriptionKeys = []string{"Description", "description"}
)

// ImportLegacy converts an alternate third-party state representation into
// the canonical record. It accepts a structured value (map, struct, or raw
// JSON) or a text payload carrying a <scene>…</scene> JSON object. Payloads
// that fail to parse, and records that would be entirely empty, yield nil.
func ImportLegacy(source any) *State {
	raw, ok := legacyJSON(source)
	if !ok {
		return nil
	}

	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil
	}

	state := &State{
		Time:     firstString(doc, legacyTimeKeys),
		Location: firstString(doc, legacyLocationKeys),
		Weather:  firstString(doc, legacyWeatherKeys),
	}
	if heart := firstResult(doc, legacyHeartKeys); heart.Exists() {
		switch heart.Type {
		case gjson.Number:
			v := int(heart.Int())
			state.Heart = &v
		case gjson.String:
			if v, err := strconv.Atoi(strings.TrimSpace(heart.String())); err == nil {
				state.Heart = &v
			}
		}
	}
	state.Characters = importLegacyCharacters(doc)

	if state.IsEmpty() {
		return nil
	}
	return state
}

// legacyJSON normalizes the source into a JSON document string.
func legacyJSON(source any) (string, bool) {
	switch v := source.(type) {
	case nil:
		return "", false
	case string:
		return extractLegacyPayload(v)
	case []byte:
		return extractLegacyPayload(string(v))
	case json.RawMessage:
		return extractLegacyPayload(string(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
}

// extractLegacyPayload pulls the delimited JSON object out of free text.
// Bare JSON objects are accepted as-is.
func extractLegacyPayload(text string) (string, bool) {
	payload := text
	lower := strings.ToLower(text)
	if start := strings.Index(lower, LegacyStart); start >= 0 {
		rest := lower[start+len(LegacyStart):]
		end := strings.Index(rest, LegacyEnd)
		if end < 0 {
			return "", false
		}
		payload = text[start+len(LegacyStart) : start+len(LegacyStart)+end]
	}
	payload = strings.TrimSpace(payload)
	if !gjson.Valid(payload) {
		return "", false
	}
	return payload, true
}

func importLegacyCharacters(doc gjson.Result) []Character {
	details := firstResult(doc, legacyDetailsKeys)

	var out []Character
	names := firstResult(doc, legacyNamesKeys)
	if names.IsArray() {
		for _, name := range names.Array() {
			n := strings.TrimSpace(name.String())
			if n == "" {
				continue
			}
			out = append(out, legacyCharacter(n, details.Get(gjsonEscape(n))))
		}
		return out
	}

	// No present-name list: fall back to the detail map's own order.
	if details.IsObject() {
		details.ForEach(func(key, value gjson.Result) bool {
			n := strings.TrimSpace(key.String())
			if n != "" {
				out = append(out, legacyCharacter(n, value))
			}
			return true
		})
	}
	return out
}

func legacyCharacter(name string, detail gjson.Result) Character {
	c := Character{Name: name}
	if !detail.IsObject() {
		return c
	}
	c.Outfit = firstString(detail, legacyOutfitKeys)
	c.State = firstString(detail, legacyStateKeys)
	c.Position = firstString(detail, legacyPositionKeys)
	c.Description = firstString(detail, legacyDescriptionKeys)
	return c
}

func firstResult(doc gjson.Result, keys []string) gjson.Result {
	for _, key := range keys {
		if r := doc.Get(gjsonEscape(key)); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func firstString(doc gjson.Result, keys []string) string {
	r := firstResult(doc, keys)
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return strings.TrimSpace(r.String())
}

// gjsonEscape quotes path metacharacters so character names and aliases
// containing dots or spaces address literal keys.
func gjsonEscape(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
