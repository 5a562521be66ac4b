package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Davincible/claude-vllm-proxy/internal/mistral"
	"github.com/Davincible/claude-vllm-proxy/internal/types"
)

// SentinelUserMessage is appended when the outbound message list would
// otherwise end with a bare assistant message, which Mistral rejects.
const SentinelUserMessage = "Continue."

// VisionSystemPrompt is prepended when the request is routed to the vision
// backend, ahead of the caller's own system prompt.
const VisionSystemPrompt = "You are a vision-capable assistant. Describe and analyze any provided images precisely before answering."

// RequestOptions steers the Anthropic-to-OpenAI conversion.
type RequestOptions struct {
	// Model overrides the declared model with the backend's configured one.
	Model string

	// Vision prepends the vision instruction system message.
	Vision bool
}

// AnthropicToOpenAI converts a Messages request into the Chat Completions
// form the backend accepts: system prompt folded into a leading system
// message, tool_use/tool_result blocks rewritten as tool_calls/tool
// messages with normalized IDs, images as data-URL parts, and the trailing
// message rule enforced.
func AnthropicToOpenAI(req *types.MessagesRequest, opts RequestOptions) (*types.ChatRequest, error) {
	ids := mistral.NewIDMap()

	// First sweep: every tool_use ID gets its normalized form before any
	// tool_result can reference it.
	for _, msg := range req.Messages {
		if msg.Role != types.RoleAssistant {
			continue
		}

		for _, block := range msg.Content.Blocks {
			if block.Type == types.BlockTypeToolUse && block.ID != "" {
				ids.Assign(block.ID)
			}
		}
	}

	messages := make([]types.ChatMessage, 0, len(req.Messages)+2)

	if opts.Vision {
		messages = append(messages, types.ChatMessage{
			Role:    types.RoleSystem,
			Content: types.ChatText(VisionSystemPrompt),
		})
	}

	if req.System != nil {
		if text := req.System.Text(); text != "" {
			messages = append(messages, types.ChatMessage{
				Role:    types.RoleSystem,
				Content: types.ChatText(text),
			})
		}
	}

	for _, msg := range req.Messages {
		converted, err := convertMessage(msg, ids)
		if err != nil {
			return nil, err
		}

		messages = append(messages, converted...)
	}

	messages = enforceTrailingRule(messages)

	out := &types.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		ToolChoice:  req.ToolChoice,
	}

	if opts.Model != "" {
		out.Model = opts.Model
	}

	if req.Stream {
		out.Stream = true
		out.StreamOptions = &types.StreamOptions{IncludeUsage: true}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, types.ChatTool{
			Type: "function",
			Function: types.ToolFunction{
				Name:        SanitizeToolName(tool.Name),
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	return out, nil
}

func convertMessage(msg types.Message, ids *mistral.IDMap) ([]types.ChatMessage, error) {
	if msg.Content.Plain != nil {
		return []types.ChatMessage{{
			Role:    msg.Role,
			Content: types.ChatText(*msg.Content.Plain),
		}}, nil
	}

	switch msg.Role {
	case types.RoleAssistant:
		converted, err := convertAssistantMessage(msg.Content.Blocks, ids)
		if err != nil {
			return nil, err
		}

		return []types.ChatMessage{converted}, nil
	case types.RoleUser:
		return convertUserMessage(msg.Content.Blocks, ids)
	default:
		return nil, fmt.Errorf("unsupported message role %q", msg.Role)
	}
}

func convertAssistantMessage(blocks []types.ContentBlock, ids *mistral.IDMap) (types.ChatMessage, error) {
	var (
		text      strings.Builder
		toolCalls []types.ToolCall
	)

	for _, block := range blocks {
		switch block.Type {
		case types.BlockTypeText:
			text.WriteString(block.Text)
		case types.BlockTypeToolUse:
			arguments := "{}"
			if len(block.Input) > 0 {
				arguments = string(block.Input)
			}

			toolCalls = append(toolCalls, types.ToolCall{
				ID:   ids.Assign(block.ID),
				Type: "function",
				Function: types.FunctionCall{
					Name:      SanitizeToolName(block.Name),
					Arguments: arguments,
				},
			})
		default:
			// Forward-compat: unknown blocks ride along as serialized text.
			text.WriteString(string(block.Raw))
		}
	}

	msg := types.ChatMessage{Role: types.RoleAssistant, ToolCalls: toolCalls}

	if text.Len() > 0 {
		msg.Content = types.ChatText(text.String())
	}

	return msg, nil
}

// convertUserMessage turns one user message into one or more outbound
// messages. tool_result blocks each become a separate tool message; any text
// riding in the same message is dropped because a user turn may not sit
// between a tool message and the next assistant turn.
func convertUserMessage(blocks []types.ContentBlock, ids *mistral.IDMap) ([]types.ChatMessage, error) {
	var toolMessages []types.ChatMessage

	for _, block := range blocks {
		if block.Type != types.BlockTypeToolResult {
			continue
		}

		// An orphan reference with no matching tool_use keeps its original
		// ID; the backend rejects it rather than us guessing.
		toolCallID := block.ToolUseID
		if mapped, ok := ids.Lookup(block.ToolUseID); ok {
			toolCallID = mapped
		}

		toolMessages = append(toolMessages, types.ChatMessage{
			Role:       types.RoleTool,
			ToolCallID: toolCallID,
			Content:    types.ChatText(toolResultText(block.Content)),
		})
	}

	if len(toolMessages) > 0 {
		return toolMessages, nil
	}

	var (
		parts    []types.ChatContentPart
		hasImage bool
	)

	for _, block := range blocks {
		switch block.Type {
		case types.BlockTypeText:
			parts = append(parts, types.ChatContentPart{Type: "text", Text: block.Text})
		case types.BlockTypeImage:
			hasImage = true
			parts = append(parts, types.ChatContentPart{
				Type:     "image_url",
				ImageURL: &types.ImageURL{URL: imageDataURL(block.Source)},
			})
		default:
			parts = append(parts, types.ChatContentPart{Type: "text", Text: string(block.Raw)})
		}
	}

	// Text-only messages collapse to a plain string, which every backend
	// accepts; part lists are reserved for image-bearing messages.
	if !hasImage {
		var text strings.Builder

		for i, part := range parts {
			if i > 0 {
				text.WriteString("\n")
			}

			text.WriteString(part.Text)
		}

		return []types.ChatMessage{{Role: types.RoleUser, Content: types.ChatText(text.String())}}, nil
	}

	return []types.ChatMessage{{Role: types.RoleUser, Content: types.ChatContent{Parts: parts}}}, nil
}

func imageDataURL(source *types.ImageSource) string {
	if source == nil {
		return ""
	}

	if source.URL != "" {
		return source.URL
	}

	return fmt.Sprintf("data:%s;base64,%s", source.MediaType, source.Data)
}

// toolResultText renders a tool_result's content as the plain string a tool
// message carries: strings pass through, block lists concatenate their text
// blocks, anything else keeps its JSON encoding.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []types.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		allText := true

		for _, block := range blocks {
			if block.Type != types.BlockTypeText {
				allText = false
				break
			}
		}

		if allText {
			var text strings.Builder

			for _, block := range blocks {
				text.WriteString(block.Text)
			}

			return text.String()
		}
	}

	return string(raw)
}

// enforceTrailingRule appends the sentinel user message when the list would
// otherwise end with an assistant message that carries no tool calls. A
// trailing tool message is a legal terminator and is left alone.
func enforceTrailingRule(messages []types.ChatMessage) []types.ChatMessage {
	if len(messages) == 0 {
		return messages
	}

	last := messages[len(messages)-1]
	if last.Role == types.RoleAssistant && len(last.ToolCalls) == 0 {
		return append(messages, types.ChatMessage{
			Role:    types.RoleUser,
			Content: types.ChatText(SentinelUserMessage),
		})
	}

	return messages
}
