package transform

import (
	"github.com/Davincible/claude-vllm-proxy/internal/mistral"
	"github.com/Davincible/claude-vllm-proxy/internal/types"
)

// Step is one normalization pass over an OpenAI-form request. Steps return a
// new request and never mutate their input.
type Step func(*types.ChatRequest) *types.ChatRequest

// Pipe composes steps left to right.
func Pipe(steps ...Step) Step {
	return func(req *types.ChatRequest) *types.ChatRequest {
		for _, step := range steps {
			req = step(req)
		}

		return req
	}
}

// ChatPipeline is the normalization applied to straight OpenAI traffic
// before dispatch: Mistral tool-ID and tool-name rules, the trailing-message
// rule, model defaulting, and usage reporting on streams.
func ChatPipeline(defaultModel string) Step {
	return Pipe(
		NormalizeToolCallIDs,
		SanitizeToolNames,
		EnforceMessageSequence,
		DefaultModel(defaultModel),
		EnsureStreamUsage,
	)
}

func cloneRequest(req *types.ChatRequest) *types.ChatRequest {
	out := *req
	out.Messages = append([]types.ChatMessage(nil), req.Messages...)
	out.Tools = append([]types.ChatTool(nil), req.Tools...)

	return &out
}

// NormalizeToolCallIDs rewrites every tool-call ID in the request into the
// nine-character form, preserving the tool_calls / tool_call_id linkage.
// IDs referenced by a tool message without a matching tool call are left
// unchanged.
func NormalizeToolCallIDs(req *types.ChatRequest) *types.ChatRequest {
	out := cloneRequest(req)
	ids := mistral.NewIDMap()

	for i, msg := range out.Messages {
		if msg.Role != types.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}

		calls := append([]types.ToolCall(nil), msg.ToolCalls...)
		for j := range calls {
			calls[j].ID = ids.Assign(calls[j].ID)
		}

		out.Messages[i].ToolCalls = calls
	}

	for i, msg := range out.Messages {
		if msg.Role != types.RoleTool || msg.ToolCallID == "" {
			continue
		}

		if normalized, ok := ids.Lookup(msg.ToolCallID); ok {
			out.Messages[i].ToolCallID = normalized
		}
	}

	return out
}

// SanitizeToolNames applies the tool-name alphabet rule to declared tools
// and to assistant tool calls.
func SanitizeToolNames(req *types.ChatRequest) *types.ChatRequest {
	out := cloneRequest(req)

	for i := range out.Tools {
		out.Tools[i].Function.Name = SanitizeToolName(out.Tools[i].Function.Name)
	}

	for i, msg := range out.Messages {
		if len(msg.ToolCalls) == 0 {
			continue
		}

		calls := append([]types.ToolCall(nil), msg.ToolCalls...)
		for j := range calls {
			calls[j].Function.Name = SanitizeToolName(calls[j].Function.Name)
		}

		out.Messages[i].ToolCalls = calls
	}

	return out
}

// EnforceMessageSequence applies the trailing-message rule to an OpenAI-form
// request.
func EnforceMessageSequence(req *types.ChatRequest) *types.ChatRequest {
	out := cloneRequest(req)
	out.Messages = enforceTrailingRule(out.Messages)

	return out
}

// DefaultModel substitutes the backend's configured model when the caller
// left the field empty.
func DefaultModel(model string) Step {
	return func(req *types.ChatRequest) *types.ChatRequest {
		if req.Model != "" || model == "" {
			return req
		}

		out := cloneRequest(req)
		out.Model = model

		return out
	}
}

// EnsureStreamUsage asks the backend for usage on streaming responses, so
// the translated message_delta can report real token counts.
func EnsureStreamUsage(req *types.ChatRequest) *types.ChatRequest {
	if !req.Stream || req.StreamOptions != nil {
		return req
	}

	out := cloneRequest(req)
	out.StreamOptions = &types.StreamOptions{IncludeUsage: true}

	return out
}
