package transform

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/Davincible/claude-vllm-proxy/internal/mistral"
	"github.com/Davincible/claude-vllm-proxy/internal/types"
)

// OpenAIToAnthropic rebuilds the Anthropic response shape from an OpenAI
// completion. model is the declared output model, not whatever the upstream
// reports. When the backend emitted tool calls inline as [TOOL_CALLS] text
// instead of structured tool_calls, they are recovered here.
func OpenAIToAnthropic(resp *types.ChatResponse, model string) (*types.MessagesResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in upstream response")
	}

	choice := resp.Choices[0]

	message := choice.Message
	if message == nil {
		message = choice.Delta
	}

	if message == nil {
		return nil, errors.New("no message in upstream choice")
	}

	var (
		content    []types.ContentBlock
		inlineUsed bool
	)

	if message.Content != nil && *message.Content != "" {
		text := *message.Content

		if len(message.ToolCalls) == 0 && mistral.ContainsMarker(text) {
			prefix := text[:strings.Index(text, mistral.Marker)]
			if prefix != "" {
				content = append(content, types.TextBlock(prefix))
			}

			for _, call := range mistral.ParseInlineCalls(text) {
				content = append(content, types.ContentBlock{
					Type:  types.BlockTypeToolUse,
					ID:    mistral.NewToolCallID(),
					Name:  SanitizeToolName(call.Name),
					Input: call.Arguments,
				})
				inlineUsed = true
			}

			if !inlineUsed {
				content = append(content, types.TextBlock(text))
			}
		} else {
			content = append(content, types.TextBlock(text))
		}
	}

	for _, call := range message.ToolCalls {
		content = append(content, types.ContentBlock{
			Type:  types.BlockTypeToolUse,
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: parseToolArguments(call.Function.Arguments),
		})
	}

	if len(content) == 0 {
		content = append(content, types.TextBlock(""))
	}

	out := &types.MessagesResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       types.RoleAssistant,
		Model:      model,
		Content:    content,
		StopReason: MapFinishReason(choice.FinishReason),
	}

	if inlineUsed {
		toolUse := types.StopReasonToolUse
		out.StopReason = &toolUse
	}

	if resp.Usage != nil {
		out.Usage = types.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// parseToolArguments turns an arguments string into the structured input
// object. Malformed JSON gets a repair pass; irreparable input is preserved
// under a "raw" key instead of being dropped.
func parseToolArguments(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage("{}")
	}

	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}

	if repaired, err := jsonrepair.JSONRepair(arguments); err == nil && json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired)
	}

	wrapped, err := json.Marshal(map[string]string{"raw": arguments})
	if err != nil {
		return json.RawMessage("{}")
	}

	return wrapped
}

// MapFinishReason translates an OpenAI finish_reason into an Anthropic
// stop_reason. Unknown values pass through verbatim; absent stays absent.
func MapFinishReason(reason *string) *string {
	if reason == nil {
		return nil
	}

	mapped := *reason

	switch *reason {
	case "stop":
		mapped = types.StopReasonEndTurn
	case "tool_calls", "function_call":
		mapped = types.StopReasonToolUse
	case "length":
		mapped = types.StopReasonMaxTokens
	}

	return &mapped
}
