package llm

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// CleanJSONResponse normalizes a model completion into parseable JSON:
// markdown code fences are stripped, and raw newlines or tabs that appear
// inside string literals are escaped. Models reliably produce both mistakes
// when asked for file contents inside JSON.
func CleanJSONResponse(text string) string {
	content := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
	}
	return escapeControlsInStrings(content)
}

// escapeControlsInStrings walks the text tracking whether the cursor is
// inside a JSON string literal and escapes bare newlines and tabs there.
// Already-escaped sequences pass through untouched.
func escapeControlsInStrings(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	inString := false
	escaped := false
	for _, r := range content {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\':
			escaped = true
			b.WriteRune(r)
		case r == '"':
			inString = !inString
			b.WriteRune(r)
		case inString && r == '\n':
			b.WriteString(`\n`)
		case inString && r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
