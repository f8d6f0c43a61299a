package command

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// span is one matched command occurrence: the byte range it claims in the
// source text (arguments included) and the invocations decoded from it.
type span struct {
	start, end int
	convention string
	invs       []partial
}

// partial is a decoded invocation before an id is assigned.
type partial struct {
	name string
	args map[string]any
}

var (
	fencedRe  = regexp.MustCompile("(?s)```command[ \\t]*\\r?\\n?(.*?)```")
	blockRe   = regexp.MustCompile(`(?s)\[COMMANDS\](.*?)\[/COMMANDS\]`)
	taggedRe  = regexp.MustCompile(`(?s)<command>(.*?)</command>`)
	openTagRe = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9_.-]*)>`)
	bareRe    = regexp.MustCompile(`\[COMMAND\]\s*([A-Za-z][A-Za-z0-9_.-]*)\s*\[/COMMAND\]`)
)

// matchFenced handles fenced code blocks tagged "command", each holding one
// {name, arguments} object.
func matchFenced(text string) []span {
	return matchEnvelope(text, fencedRe, "```command", "fenced")
}

// matchTaggedObject handles <command>...</command> envelopes, each holding
// one {name, arguments} object.
func matchTaggedObject(text string) []span {
	return matchEnvelope(text, taggedRe, "<command>", "tagged-object")
}

// matchEnvelope is the shared scan for single-object envelope conventions.
// A trailing block the model never closed is matched to end of text; the
// repair pipeline decides whether the payload is salvageable.
func matchEnvelope(text string, re *regexp.Regexp, openMarker, convention string) []span {
	var spans []span
	locs := re.FindAllStringSubmatchIndex(text, -1)
	for _, loc := range locs {
		if p, ok := envelopeFrom(text[loc[2]:loc[3]]); ok {
			spans = append(spans, span{
				start:      loc[0],
				end:        loc[1],
				convention: convention,
				invs:       []partial{p},
			})
		}
	}

	searchFrom := 0
	if n := len(locs); n > 0 {
		searchFrom = locs[n-1][1]
	}
	if idx := strings.Index(text[searchFrom:], openMarker); idx >= 0 {
		start := searchFrom + idx
		if p, ok := envelopeFrom(text[start+len(openMarker):]); ok {
			spans = append(spans, span{
				start:      start,
				end:        len(text),
				convention: convention,
				invs:       []partial{p},
			})
		}
	}
	return spans
}

// matchBlockList handles [COMMANDS]...[/COMMANDS] blocks holding a JSON list
// of {name, arguments} objects.
func matchBlockList(text string) []span {
	var spans []span
	locs := blockRe.FindAllStringSubmatchIndex(text, -1)
	for _, loc := range locs {
		if invs, ok := listFrom(text[loc[2]:loc[3]]); ok {
			spans = append(spans, span{
				start:      loc[0],
				end:        loc[1],
				convention: "block-list",
				invs:       invs,
			})
		}
	}

	searchFrom := 0
	if n := len(locs); n > 0 {
		searchFrom = locs[n-1][1]
	}
	if idx := strings.Index(text[searchFrom:], "[COMMANDS]"); idx >= 0 {
		start := searchFrom + idx
		if invs, ok := listFrom(text[start+len("[COMMANDS]"):]); ok {
			spans = append(spans, span{
				start:      start,
				end:        len(text),
				convention: "block-list",
				invs:       invs,
			})
		}
	}
	return spans
}

// matchNamedTag handles <opname>{...}</opname> pairs: the tag names the
// operation and the body is its arguments object. A pair with no object
// body is prose, not a command, and a tag that never closes is ignored;
// angle brackets are too common in ordinary text to claim on suspicion.
func matchNamedTag(text string) []span {
	var spans []span
	for _, loc := range openTagRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		if name == "command" {
			continue
		}
		closeTag := "</" + name + ">"
		rel := strings.Index(text[loc[1]:], closeTag)
		if rel < 0 {
			continue
		}
		args, ok := objectFrom(text[loc[1] : loc[1]+rel])
		if !ok {
			continue
		}
		spans = append(spans, span{
			start:      loc[0],
			end:        loc[1] + rel + len(closeTag),
			convention: "named-tag",
			invs:       []partial{{name: name, args: args}},
		})
	}
	return spans
}

// matchBareName handles [COMMAND]opname[/COMMAND] sentinels. The arguments
// object, if any, sits loose next to the sentinel: immediately after it by
// convention, though some models put it just before. No adjacent object
// means an argument-free invocation.
func matchBareName(text string) []span {
	var spans []span
	for _, loc := range bareRe.FindAllStringSubmatchIndex(text, -1) {
		sp := span{start: loc[0], end: loc[1], convention: "bare-name"}
		name := text[loc[2]:loc[3]]
		args := map[string]any{}

		if objStart, objEnd, ok := forwardObject(text, loc[1]); ok {
			if m, valid := objectFrom(text[objStart:objEnd]); valid {
				args = m
				sp.end = objEnd
			}
		} else if objStart, objEnd, ok := backwardObject(text, loc[0]); ok {
			if m, valid := objectFrom(text[objStart:objEnd]); valid {
				args = m
				sp.start = objStart
			}
		}

		sp.invs = []partial{{name: name, args: args}}
		spans = append(spans, sp)
	}
	return spans
}

// forwardObject locates a JSON object starting at the first non-space byte
// at or after from. An object the model never closed runs to end of text.
func forwardObject(text string, from int) (start, end int, ok bool) {
	i := from
	for i < len(text) && isSpace(text[i]) {
		i++
	}
	if i >= len(text) || text[i] != '{' {
		return 0, 0, false
	}
	if j, closed := scanBalanced(text, i); closed {
		return i, j, true
	}
	return i, len(text), true
}

// backwardObject locates a JSON object ending at the last non-space byte
// before limit. The backward scan counts depth without tracking strings;
// the candidate is verified by the JSON parser afterwards, so a brace
// hidden in a string value at worst fails the candidate.
func backwardObject(text string, limit int) (start, end int, ok bool) {
	j := limit - 1
	for j >= 0 && isSpace(text[j]) {
		j--
	}
	if j < 0 || text[j] != '}' {
		return 0, 0, false
	}
	depth := 0
	for i := j; i >= 0; i-- {
		switch text[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return i, j + 1, true
			}
		}
	}
	return 0, 0, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// envelopeFrom decodes a {name, arguments} object, repairing truncation
// first.
func envelopeFrom(raw string) (partial, bool) {
	fixed, ok := repair(raw)
	if !ok {
		return partial{}, false
	}
	parsed := gjson.Parse(fixed)
	if !parsed.IsObject() {
		return partial{}, false
	}
	return partialFrom(parsed)
}

// objectFrom decodes a bare arguments object, repairing truncation first.
func objectFrom(raw string) (map[string]any, bool) {
	fixed, ok := repair(raw)
	if !ok {
		return nil, false
	}
	parsed := gjson.Parse(fixed)
	if !parsed.IsObject() {
		return nil, false
	}
	m, ok := parsed.Value().(map[string]any)
	if !ok {
		return nil, false
	}
	return m, true
}

/// listFrom decodes the body of a command-list block: a JSON array of
// {name, arguments} objects, one bare object, or several adjacent objects
// without the list brackets. Elements without a usable name are dropped;
// a body yielding nothing is no match.
func listFrom(raw string) ([]partial, bool) {
	if fixed, ok := repair(raw); ok {
		parsed := gjson.Parse(fixed)
		switch {
		case parsed.IsArray():
			var out []partial
			parsed.ForEach(func(_, item gjson.Result) bool {
				if item.IsObject() {
					if p, ok := partialFrom(item); ok {
						out = append(out, p)
					}
				}
				return true
			})
			return out, len(out) > 0
		case parsed.IsObject():
			p, ok := partialFrom(parsed)
			if !ok {
				return nil, false
			}
			return []partial{p}, true
		}
		return nil, false
	}
	return adjacentObjects(raw)
}

// adjacentObjects salvages a block body written as objects side by side,
// which repair rejects because the whole body is not one JSON document.
// Each balanced object decodes independently; a truncated final object goes
// through repair like any other fragment.
func adjacentObjects(raw string) ([]partial, bool) {
	var out []partial
	i := 0
	for i < len(raw) {
		for i < len(raw) && raw[i] != '{' {
			i++
		}
		if i >= len(raw) {
			break
		}
		j, closed := scanBalanced(raw, i)
		if p, ok := envelopeFrom(raw[i:j]); ok {
			out = append(out, p)
		}
		if !closed {
			break
		}
		i = j
	}
	return out, len(out) > 0
}

// partialFrom reads the name and arguments fields of a decoded command
// object. The name must be a non-empty string; arguments may be absent or
// null but must be an object when present. Anything else is silently
// dropped, per the contract that malformed commands never fail a response.
func partialFrom(obj gjson.Result) (partial, bool) {
	nameField := obj.Get("name")
	if nameField.Type != gjson.String {
		return partial{}, false
	}
	name := strings.TrimSpace(nameField.String())
	if name == "" {
		return partial{}, false
	}

	args := map[string]any{}
	if a := obj.Get("arguments"); a.Exists() && a.Type != gjson.Null {
		m, ok := a.Value().(map[string]any)
		if !ok {
			return partial{}, false
		}
		args = m
	}
	return partial{name: name, args: args}, true
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// tidyNarrative collapses the holes left by stripped commands.
func tidyNarrative(s string) string {
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
