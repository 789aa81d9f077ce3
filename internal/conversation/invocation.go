package conversation

import (
	"encoding/json"
	"strings"

	"github.com/antoniostano/voxline/internal/tools"
)

// parseInvocation reports whether text is a tool call: a JSON object with a
// non-empty string "tool" and an object "data". A surrounding Markdown code
// fence is ignored.
func parseInvocation(text string) (tools.Invocation, bool) {
	s := stripFence(strings.TrimSpace(text))
	if !strings.HasPrefix(s, "{") {
		return tools.Invocation{}, false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return tools.Invocation{}, false
	}
	var name string
	if err := json.Unmarshal(raw["tool"], &name); err != nil || strings.TrimSpace(name) == "" {
		return tools.Invocation{}, false
	}
	dataRaw, ok := raw["data"]
	if !ok {
		return tools.Invocation{}, false
	}
	var data map[string]any
	if err := json.Unmarshal(dataRaw, &data); err != nil || data == nil {
		return tools.Invocation{}, false
	}
	return tools.Invocation{Tool: strings.TrimSpace(name), Data: data}, true
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop an info string such as "json".
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
