// Copyright 2025 James Ross
package engine

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)```")

// StripCodeFences unwraps fenced code blocks from model output. Text
// with fences keeps only the fenced contents; text without fences is
// returned unchanged.
func StripCodeFences(s string) string {
	matches := fenceRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, strings.TrimSpace(m[1]))
	}
	return strings.Join(parts, "\n")
}

// ExtractJSON locates the last top-level JSON object or array in s.
// Models often preface or follow the payload with prose, or emit several
// payloads; the final one is the answer.
func ExtractJSON(s string) (string, bool) {
	var (
		last     string
		found    bool
		start    = -1
		depth    = 0
		inString = false
		escaped  = false
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := s[start : i+1]
				if json.Valid([]byte(candidate)) {
					last = candidate
					found = true
				}
				start = -1
			}
		}
	}
	return last, found
}
