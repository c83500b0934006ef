package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"fable/internal/chat"
	"fable/internal/tracker"
)

const promptSystem = `You maintain a scene tracker for a roleplay chat. Read the conversation excerpt and report the narrative state as of the final message: in-fiction time, location, weather, the affinity meter, and each present character's outfit, state, and position. Report only the state; no prose.`

// legacyScene mirrors the historical scene-state object, reflected into a
// JSON schema so the model may answer in either wire format.
type legacyScene struct {
	Time             string                       `json:"Time" jsonschema_description:"In-fiction clock, e.g. 10:30 AM; 5/1/2040 (Tuesday)"`
	Location         string                       `json:"Location"`
	Weather          string                       `json:"Weather"`
	Heart            int                          `json:"Heart" jsonschema_description:"Affinity meter value"`
	Characters       []string                     `json:"Characters" jsonschema_description:"Present character names, primary first"`
	CharacterDetails map[string]legacySceneDetail `json:"CharacterDetails"`
}

type legacySceneDetail struct {
	Outfit   string `json:"Outfit"`
	State    string `json:"State"`
	Position string `json:"Position"`
}

var sceneSchemaReflector = jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

// sceneSchemaJSON reflects the legacy scene shape into raw JSON Schema.
func sceneSchemaJSON() (json.RawMessage, error) {
	schema := sceneSchemaReflector.Reflect(&legacyScene{})
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal scene schema: %w", err)
	}
	return raw, nil
}

// buildPrompt assembles the generation request for one message: the target
// plus up to contextWindow preceding messages (tracker blocks stripped),
// the previous ledgered state as an anchor, and output-format
// instructions covering both wire formats. The caller holds mu.
func (e *Engine) buildPrompt(index int) string {
	var b strings.Builder

	if anchor := e.ledger.MostRecentBefore(index); anchor != nil {
		b.WriteString("Last known state:\n")
		b.WriteString(tracker.Format(anchor))
		b.WriteString("\n\n")
	}

	start := index - e.contextWindow
	if start < 0 {
		start = 0
	}
	b.WriteString("Conversation:\n")
	for i := start; i <= index && i < len(e.active.Messages); i++ {
		msg := e.active.Messages[i]
		b.WriteString(speakerLabel(msg))
		b.WriteString(": ")
		b.WriteString(msg.DisplayText())
		b.WriteString("\n")
	}

	affinity := e.affinity
	fmt.Fprintf(&b, "\nThe affinity meter ranges 0 to %d and may move at most %d per reply.\n", affinity.Max, affinity.MaxShift())

	b.WriteString("\nAnswer with a block in exactly this form:\n")
	b.WriteString(tracker.BlockStart)
	b.WriteString("\ntime: ...\nlocation: ...\nweather: ...\nheart: ...\ncharacters:\n- name: ... | outfit: ... | state: ... | position: ...\n")
	b.WriteString(tracker.BlockEnd)
	b.WriteString("\n")

	if schema, err := sceneSchemaJSON(); err == nil {
		b.WriteString("\nAlternatively answer with ")
		b.WriteString(tracker.LegacyStart)
		b.WriteString("{...}")
		b.WriteString(tracker.LegacyEnd)
		b.WriteString(" holding one JSON object matching this schema:\n")
		b.Write(schema)
		b.WriteString("\n")
	}

	return b.String()
}

func speakerLabel(msg chat.Message) string {
	if msg.FromUser {
		return "User"
	}
	return "Character"
}
