// Package tokencount estimates prompt sizes for the count_tokens endpoint
// and for usage reporting when the backend omits prompt_tokens.
package tokencount

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Davincible/claude-vllm-proxy/internal/types"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// tokenizer returns the shared cl100k_base encoding. Loading it pulls the
// BPE ranks into memory, so it happens once and failures fall back to the
// character heuristic.
func tokenizer() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})

	return encoding
}

// CountText returns the token count for a single string.
func CountText(text string) int {
	if text == "" {
		return 0
	}

	if enc := tokenizer(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}

	// Rough fallback: ~4 characters per token, rounded up.
	return (len(text) + 3) / 4
}

// CountRequest estimates the input tokens of a messages request: every text
// part, tool inputs and results as JSON, the system prompt, and each tool
// definition's name, description and schema.
func CountRequest(req *types.MessagesRequest) int {
	total := 0

	if req.System != nil {
		total += CountText(req.System.Text())
	}

	for _, msg := range req.Messages {
		total += countMessage(msg)
	}

	for _, tool := range req.Tools {
		total += CountText(tool.Name)
		total += CountText(tool.Description)
		total += countJSON(tool.InputSchema)
	}

	return total
}

func countMessage(msg types.Message) int {
	if msg.Content.Plain != nil {
		return CountText(*msg.Content.Plain)
	}

	total := 0

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case types.BlockTypeText:
			total += CountText(block.Text)
		case types.BlockTypeToolUse:
			total += CountText(block.Name)
			total += countJSON(block.Input)
		case types.BlockTypeToolResult:
			total += countJSON(block.Content)
		}
	}

	return total
}

func countJSON(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	return CountText(string(raw))
}
