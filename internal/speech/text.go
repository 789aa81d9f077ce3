package speech

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// spokenRewrites turn written conventions into what a caller should hear.
var spokenRewrites = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`([^`]*)`"), "$1"},
	{regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
	{regexp.MustCompile(`(?m)^[ \t]*(?:[-*•]|\d+[.)])[ \t]+`), ""},
}

var symbolWords = strings.NewReplacer(
	"&", " and ",
	"%", " percent",
	"@", " at ",
	"+", " plus ",
)

// markupRunes separate words when written but are never spoken.
const markupRunes = "*_\\/|#~<>"

// SanitizeText rewrites model text for the phone: markup, links and emoji
// go, symbols become words, and each list item or line ends on a pause.
func SanitizeText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, rw := range spokenRewrites {
		raw = rw.re.ReplaceAllString(raw, rw.repl)
	}
	raw = symbolWords.Replace(raw)

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		spoken := speakLine(line)
		if spoken == "" {
			continue
		}
		if n := len(lines); n > 0 {
			if last, _ := utf8.DecodeLastRuneInString(lines[n-1]); !pauses(last) {
				lines[n-1] += "."
			}
		}
		lines = append(lines, spoken)
	}
	return strings.Join(lines, " ")
}

func speakLine(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	space := false
	var last rune
	for _, r := range line {
		switch {
		case unicode.IsSpace(r) || strings.ContainsRune(markupRunes, r):
			space = true
			continue
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3', unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			continue
		case unicode.IsPunct(r) && !speakablePunct(r):
			space = true
			continue
		case sentenceEnd(r) && sentenceEnd(last):
			// "Great!!!" is read once.
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
		last = r
	}
	return b.String()
}

func speakablePunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '’', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}

func sentenceEnd(r rune) bool { return r == '.' || r == '!' || r == '?' }

func pauses(r rune) bool { return sentenceEnd(r) || r == ',' || r == ';' || r == ':' }
