package ai

import (
	"encoding/json"
	"slices"
	"strings"
)

// maxValidations bounds the json.Valid calls per extraction.
const maxValidations = 32

// ExtractJSON locates the structured payload inside model output. Models wrap
// JSON in markdown fences and prose; the largest fenced block is preferred,
// then the longest balanced array or object span within it. Spans that parse
// as JSON win over ones that merely balance. It returns "" when nothing
// plausible is found. The cost is linear in the input, however malformed.
func ExtractJSON(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return ""
	}
	if block := largestFence(t); block != "" {
		t = block
	}

	spans := balancedSpans(t)
	// longest first; ties keep the earlier span
	slices.SortStableFunc(spans, func(a, b span) int { return (b.end - b.start) - (a.end - a.start) })
	for i, sp := range spans {
		if i == maxValidations {
			break
		}
		if json.Valid([]byte(t[sp.start:sp.end])) {
			return t[sp.start:sp.end]
		}
	}
	if len(spans) > 0 {
		return t[spans[0].start:spans[0].end]
	}

	// last resort: first opener to last closer
	first := strings.IndexAny(t, "[{")
	last := strings.LastIndexAny(t, "]}")
	if first < 0 || last <= first {
		return ""
	}
	return strings.TrimSpace(t[first : last+1])
}

// span is the half-open range of a balanced bracket pair.
type span struct{ start, end int }

// balancedSpans finds every balanced [...] or {...} range of t in one pass.
// Brackets inside string literals are ignored; strings are only tracked
// between an opener and its closer, so quotes in surrounding prose do not
// count. A mismatched closer invalidates every range still open.
func balancedSpans(t string) []span {
	var (
		out      []span
		open     []int // indexes of unclosed openers
		inString bool
		escaped  bool
	)
	for i := 0; i < len(t); i++ {
		c := t[i]
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
			if len(open) > 0 {
				inString = true
			}
		case '[', '{':
			open = append(open, i)
		case ']', '}':
			if len(open) == 0 {
				continue
			}
			top := open[len(open)-1]
			if closerFor(t[top]) != c {
				open = open[:0]
				continue
			}
			open = open[:len(open)-1]
			out = append(out, span{start: top, end: i + 1})
		}
	}
	return out
}

func closerFor(opener byte) byte {
	if opener == '[' {
		return ']'
	}
	return '}'
}

// largestFence returns the longest ``` fenced block with any language tag
// line removed.
func largestFence(t string) string {
	if !strings.Contains(t, "```") {
		return ""
	}
	parts := strings.Split(t, "```")
	best := ""
	for i := 1; i < len(parts); i += 2 {
		block := strings.TrimSpace(parts[i])
		if nl := strings.IndexByte(block, '\n'); nl >= 0 {
			first := strings.TrimSpace(block[:nl])
			if first != "" && !strings.ContainsAny(first, "[{") {
				block = strings.TrimSpace(block[nl+1:])
			}
		} else if strings.EqualFold(block, "json") {
			block = ""
		}
		if len(block) > len(best) {
			best = block
		}
	}
	return best
}
