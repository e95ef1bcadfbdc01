package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
)

// ParseModelOutput decodes an LLM reply of the form {"task_type": ..., "entities": {...}}.
// Code fences and surrounding prose are tolerated; nested entity objects are flattened
// into snake_case keys ("driver": {"name": ...} becomes driver_name).
func ParseModelOutput(raw string) (Extraction, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```JSON")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return Extraction{}, fmt.Errorf("%w: no JSON object", ErrUnparseable)
	}

	dec := json.NewDecoder(strings.NewReader(body[start : end+1]))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	label := ""
	for _, key := range []string{"task_type", "intent", "action"} {
		if s, ok := payload[key].(string); ok && s != "" {
			label = s
			break
		}
	}
	if label == "" {
		return Extraction{}, fmt.Errorf("%w: missing task_type", ErrUnparseable)
	}

	entities := make(map[string]any)
	for _, key := range []string{"entities", "fields", "payload"} {
		if m, ok := payload[key].(map[string]any); ok {
			flatten("", m, entities)
			break
		}
	}
	return Extraction{Intent: intent.Label(label), Entities: entities}, nil
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		switch t := v.(type) {
		case map[string]any:
			flatten(key, t, out)
		case []any:
			// lists are not field values
		default:
			out[key] = t
		}
	}
}
