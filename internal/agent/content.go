// Copyright 2025 James Ross
package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	crlfRe     = regexp.MustCompile(`\r\n?`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	spaceRunRe = regexp.MustCompile(`[ \t]+`)
)

// NormalizeContent canonicalizes text destined for the context chain:
// unix newlines, single spaces, at most one blank line between
// paragraphs, no surrounding whitespace. Idempotent.
func NormalizeContent(s string) string {
	s = crlfRe.ReplaceAllString(s, "\n")
	s = spaceRunRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	s = blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}

// SafeStringify renders any value as a JSON string. Strings that already
// parse as JSON pass through untouched; other strings are quoted.
func SafeStringify(v any) string {
	if s, ok := v.(string); ok {
		if json.Valid([]byte(s)) {
			return s
		}
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprintf("%q", s)
		}
		return string(b)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
