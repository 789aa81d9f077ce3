// Package policy masks personal data before transcripts and tool payloads
// leave the process through logs or storage.
package policy

import (
	"regexp"
	"sort"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

type rule struct {
	pattern *regexp.Regexp
	mask    string
}

// Cards go before phones so a card number is not masked as a phone.
var rules = []rule{
	{emailPattern, "[REDACTED_EMAIL]"},
	{cardPattern, "[REDACTED_CARD]"},
	{phonePattern, "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card numbers and phone numbers.
func RedactPII(input string) (string, bool) {
	out := input
	changed := false
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.mask)
		if next != out {
			changed = true
			out = next
		}
	}
	return out, changed
}

// RedactFields returns a log-safe copy of a tool payload. String values are
// masked; other values are kept as is. Keys come back sorted for stable logs.
func RedactFields(data map[string]any) ([]string, map[string]any) {
	keys := make([]string, 0, len(data))
	out := make(map[string]any, len(data))
	for k, v := range data {
		keys = append(keys, k)
		if s, ok := v.(string); ok {
			s, _ = RedactPII(s)
			out[k] = s
			continue
		}
		out[k] = v
	}
	sort.Strings(keys)
	return keys, out
}
