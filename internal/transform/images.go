package transform

import (
	"fmt"
	"strings"

	"github.com/Davincible/claude-vllm-proxy/internal/types"
)

// MessagesRequestHasImages reports whether any Anthropic message carries an
// image block.
func MessagesRequestHasImages(req *types.MessagesRequest) bool {
	for _, msg := range req.Messages {
		for _, block := range msg.Content.Blocks {
			if block.Type == types.BlockTypeImage {
				return true
			}
		}
	}

	return false
}

// ChatRequestHasImages reports whether any OpenAI message carries an
// image_url part.
func ChatRequestHasImages(req *types.ChatRequest) bool {
	for _, msg := range req.Messages {
		if messageHasImage(msg) {
			return true
		}
	}

	return false
}

func messageHasImage(msg types.ChatMessage) bool {
	for _, part := range msg.Content.Parts {
		if part.Type == "image_url" {
			return true
		}
	}

	return false
}

// StripImages removes image parts from a request bound for a text-only
// backend. Images in history become numbered placeholders; images in the
// final image-bearing user message are dropped outright (their description
// would come from the vision collaborator, which is not in play here).
// The image bytes are never fetched or forwarded.
func StripImages(req *types.ChatRequest) *types.ChatRequest {
	if !ChatRequestHasImages(req) {
		return req
	}

	lastWithImage := -1

	for i, msg := range req.Messages {
		if msg.Role == types.RoleUser && messageHasImage(msg) {
			lastWithImage = i
		}
	}

	out := cloneRequest(req)
	imageN := 0

	for i, msg := range out.Messages {
		if !messageHasImage(msg) {
			continue
		}

		var parts []types.ChatContentPart

		for _, part := range msg.Content.Parts {
			if part.Type != "image_url" {
				parts = append(parts, part)
				continue
			}

			imageN++

			if i != lastWithImage {
				parts = append(parts, types.ChatContentPart{
					Type: "text",
					Text: fmt.Sprintf("[Image %d - previously analyzed]", imageN),
				})
			}
		}

		out.Messages[i].Content = collapseParts(parts)
	}

	return out
}

// collapseParts folds an all-text part list back into plain string content.
func collapseParts(parts []types.ChatContentPart) types.ChatContent {
	var text strings.Builder

	for i, part := range parts {
		if part.Type != "text" {
			return types.ChatContent{Parts: parts}
		}

		if i > 0 {
			text.WriteString("\n")
		}

		text.WriteString(part.Text)
	}

	return types.ChatText(text.String())
}
