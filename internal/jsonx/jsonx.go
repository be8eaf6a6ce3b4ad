// Package jsonx recovers JSON objects from untrusted text: language-model
// answers wrapped in prose or markdown fences, and state blobs embedded in
// server-rendered HTML.
package jsonx

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// StripFences returns the body of the first markdown code fence in text.
func StripFences(text string) (string, bool) {
	m := fenceRe.FindStringSubmatch(text)
	if m == nil {
		return text, false
	}
	return strings.TrimSpace(m[1]), true
}

// Balanced returns the index just past the value that opens at text[start],
// which must be '{' or '['. Brackets inside string literals are ignored.
func Balanced(text string, start int) (int, bool) {
	if start < 0 || start >= len(text) || (text[start] != '{' && text[start] != '[') {
		return 0, false
	}
	depth := 0
	inStr := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inStr {
			switch c {
			case '\\':
				i++
			case '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// OuterObject returns the first balanced {...} span in text. When the braces
// never balance it falls back to first '{' through last '}'.
func OuterObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	if end, ok := Balanced(text, start); ok {
		return text[start:end], true
	}
	end := strings.LastIndexByte(text, '}')
	if end > start {
		return text[start : end+1], true
	}
	return "", false
}

// Repair removes trailing commas before a closing bracket and control
// characters. Raw line breaks inside string literals become spaces.
func Repair(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case c == '\\' && i+1 < len(s):
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
			case c == '"':
				inStr = false
				b.WriteByte(c)
			case c == '\n' || c == '\r' || c == '\t':
				b.WriteByte(' ')
			case c < 0x20:
			default:
				b.WriteByte(c)
			}
			continue
		}
		switch {
		case c == '"':
			inStr = true
			b.WriteByte(c)
		case c == ',':
			if next := nextSignificant(s, i+1); next == '}' || next == ']' {
				continue
			}
			b.WriteByte(c)
		case c < 0x20 && c != '\n' && c != '\r' && c != '\t':
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func nextSignificant(s string, from int) byte {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\n', '\r', '\t':
			continue
		}
		return s[i]
	}
	return 0
}

// Clean isolates and repairs the JSON object carried by text.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	if body, ok := StripFences(text); ok {
		text = body
	}
	if obj, ok := OuterObject(text); ok {
		text = obj
	}
	return strings.TrimSpace(Repair(text))
}
