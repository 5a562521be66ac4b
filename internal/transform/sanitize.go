// Package transform converts payloads between the Anthropic Messages dialect
// and the OpenAI Chat Completions dialect while enforcing the message
// sequence rules a Mistral-family backend imposes. Every function returns a
// new payload; inputs are never mutated.
package transform

import "strings"

const maxToolNameLength = 64

// SanitizeToolName rewrites a tool name into the [a-zA-Z0-9_-] alphabet a
// Mistral tokenizer accepts, capped at 64 characters.
func SanitizeToolName(name string) string {
	name = strings.TrimSpace(name)

	var b strings.Builder
	b.Grow(len(name))

	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}

	sanitized := strings.Trim(b.String(), "_")

	if len(sanitized) > maxToolNameLength {
		sanitized = sanitized[:maxToolNameLength]
	}

	if sanitized == "" {
		return "unknown_tool"
	}

	return sanitized
}
