package command

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// repair makes a best effort at turning a truncated or sloppy JSON payload
// into something parseable. Stages run cheapest first and stop at the first
// valid result: the text as-is, unclosed strings and brackets closed,
// trailing commas stripped, and finally cropping to the outermost balanced
// object. Returns false when nothing worked; the caller leaves the text in
// the narrative.
func repair(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if gjson.Valid(s) {
		return s, true
	}
	if fixed := closeDelimiters(s); gjson.Valid(fixed) {
		return fixed, true
	}
	if fixed := closeDelimiters(stripTrailingCommas(s)); gjson.Valid(fixed) {
		return fixed, true
	}
	if fixed := crop(s); fixed != "" && gjson.Valid(fixed) {
		return fixed, true
	}
	return "", false
}

// closeDelimiters appends whatever closers a cut-off payload is missing:
// a quote for an unterminated string, then brackets in reverse order of
// opening. A payload cut mid-escape drops the dangling backslash so the
// added quote is not swallowed.
func closeDelimiters(s string) string {
	var stack []byte
	inString := false
	escaped := false
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
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		if escaped {
			s = s[:len(s)-1]
		}
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return s
}

var (
	innerCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	tailCommaRe  = regexp.MustCompile(`,\s*$`)
)

func stripTrailingCommas(s string) string {
	s = innerCommaRe.ReplaceAllString(s, "$1")
	return tailCommaRe.ReplaceAllString(s, "")
}

// crop cuts the payload down to the outermost open/close pair, shedding
// prose the model wrapped around the JSON.
func crop(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

// scanBalanced walks a JSON object from its opening brace at start and
// reports the byte offset just past the matching close. String contents
// are skipped so braces inside values do not confuse the depth count.
func scanBalanced(text string, start int) (end int, closed bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return len(text), false
}
