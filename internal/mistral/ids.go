// Package mistral contains the quirks layer for Mistral-family backends:
// the nine-character tool-call ID rule and the inline [TOOL_CALLS] text
// format some models emit instead of structured tool calls.
package mistral

import (
	"hash/fnv"
	"strings"

	"github.com/google/uuid"
)

const (
	// IDLength is the exact tool-call ID length Mistral tokenizers accept.
	IDLength = 9

	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// IsValidToolID reports whether id is already in the accepted shape:
// exactly nine characters from [a-zA-Z0-9].
func IsValidToolID(id string) bool {
	if len(id) != IDLength {
		return false
	}

	for i := 0; i < len(id); i++ {
		c := id[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			continue
		}

		return false
	}

	return true
}

// NormalizeToolID maps an arbitrary tool-call ID onto the nine-character
// alphanumeric form. IDs already in shape pass through verbatim, which makes
// the function idempotent; everything else gets a deterministic FNV-1a
// derivation projected into the 62-character alphabet.
func NormalizeToolID(id string) string {
	if IsValidToolID(id) {
		return id
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	state := h.Sum64()

	var b [IDLength]byte
	for i := range b {
		b[i] = idAlphabet[state%uint64(len(idAlphabet))]
		state /= uint64(len(idAlphabet))
	}

	return string(b[:])
}

// NewToolCallID synthesizes a fresh valid ID, used when a tool call is
// recovered from inline text and has no upstream ID at all.
func NewToolCallID() string {
	return NormalizeToolID("call_" + uuid.NewString())
}

// IDMap is the request-scoped bijection between original tool-call IDs and
// their normalized forms. Not safe for concurrent use; each request builds
// its own.
type IDMap struct {
	ids map[string]string
}

func NewIDMap() *IDMap {
	return &IDMap{ids: make(map[string]string)}
}

// Assign records and returns the normalized form of id.
func (m *IDMap) Assign(id string) string {
	if normalized, ok := m.ids[id]; ok {
		return normalized
	}

	normalized := NormalizeToolID(id)
	m.ids[id] = normalized

	return normalized
}

// Lookup returns the normalized form of an ID seen by Assign. IDs never
// assigned report ok=false; callers leave those references unchanged so the
// backend rejects the orphan, which is the correct failure.
func (m *IDMap) Lookup(id string) (string, bool) {
	normalized, ok := m.ids[id]
	return normalized, ok
}

// UsesInlineToolCalls reports whether the model is a Mistral-family model
// that may emit [TOOL_CALLS] markers in plain text output.
func UsesInlineToolCalls(model string) bool {
	model = strings.ToLower(model)

	for _, family := range []string{"mistral", "devstral", "codestral"} {
		if strings.Contains(model, family) {
			return true
		}
	}

	return false
}
