package mistral

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Marker is the literal Mistral models prefix inline tool calls with.
const Marker = "[TOOL_CALLS]"

// InlineToolCall is one tool call recovered from inline text.
type InlineToolCall struct {
	Name      string
	Arguments json.RawMessage
}

// ContainsMarker reports whether text contains the inline tool-call marker.
func ContainsMarker(text string) bool {
	return strings.Contains(text, Marker)
}

// ParseInlineCalls extracts every [TOOL_CALLS]Name{...} sequence from text.
// The JSON object is scanned with balanced braces, honoring string literals
// and escapes. Objects that fail to parse are run through a repair pass
// before being skipped. Returns nil when the marker never appears.
func ParseInlineCalls(text string) []InlineToolCall {
	var calls []InlineToolCall

	pos := 0
	for {
		idx := strings.Index(text[pos:], Marker)
		if idx < 0 {
			break
		}

		pos += idx + len(Marker)

		name, next := scanName(text, pos)
		if name == "" {
			continue
		}

		pos = next

		// Allow whitespace between the name and its argument object.
		for pos < len(text) && (text[pos] == ' ' || text[pos] == '\t' || text[pos] == '\n') {
			pos++
		}

		if pos >= len(text) || text[pos] != '{' {
			continue
		}

		object, end, ok := scanBalancedObject(text, pos)
		if !ok {
			// Unbalanced braces: the rest of the text cannot contain a
			// complete object, stop scanning here.
			break
		}

		pos = end

		if args, ok := parseArguments(object); ok {
			calls = append(calls, InlineToolCall{Name: name, Arguments: args})
		}
	}

	return calls
}

func scanName(text string, pos int) (string, int) {
	start := pos
	for pos < len(text) && isNameChar(text[pos]) {
		pos++
	}

	return text[start:pos], pos
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// scanBalancedObject returns the {...} substring starting at pos, the index
// just past it, and whether a balanced object was found. Braces inside
// string literals do not count; backslash escapes are honored.
func scanBalancedObject(text string, pos int) (string, int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := pos; i < len(text); i++ {
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[pos : i+1], i + 1, true
			}
		}
	}

	return "", pos, false
}

func parseArguments(object string) (json.RawMessage, bool) {
	if json.Valid([]byte(object)) {
		return json.RawMessage(object), true
	}

	repaired, err := jsonrepair.JSONRepair(object)
	if err != nil || !json.Valid([]byte(repaired)) {
		return nil, false
	}

	return json.RawMessage(repaired), true
}
