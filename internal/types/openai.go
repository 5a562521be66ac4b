package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OpenAI Chat Completions shapes, narrowed to what a vLLM-hosted
// Mistral-family backend accepts and returns.

type ChatRequest struct {
	Model         string          `json:"model"`
	Messages      []ChatMessage   `json:"messages"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	Stop          []string        `json:"stop,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StreamOptions *StreamOptions  `json:"stream_options,omitempty"`
	Tools         []ChatTool      `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type ChatMessage struct {
	Role       string      `json:"role"`
	Content    ChatContent `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ChatContent is a string, null, or a list of text/image parts.
type ChatContent struct {
	Plain *string
	Parts []ChatContentPart
}

func ChatText(s string) ChatContent {
	return ChatContent{Plain: &s}
}

// IsNull reports whether the content marshals as JSON null.
func (c ChatContent) IsNull() bool {
	return c.Plain == nil && c.Parts == nil
}

func (c *ChatContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		c.Plain = nil
		c.Parts = nil

		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		c.Plain = &s
		c.Parts = nil

		return nil
	}

	var parts []ChatContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("chat content is neither string nor part list: %w", err)
	}

	c.Plain = nil
	c.Parts = parts

	return nil
}

func (c ChatContent) MarshalJSON() ([]byte, error) {
	if c.Plain != nil {
		return json.Marshal(*c.Plain)
	}

	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}

	return []byte("null"), nil
}

type ChatContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ToolCall struct {
	// Index is present only on streaming deltas, where it identifies the
	// slot that successive argument fragments append to.
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type ChatTool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatResponse doubles as the unary response envelope and the streaming
// chunk envelope; unary choices carry Message, chunks carry Delta.
type ChatResponse struct {
	ID      string       `json:"id,omitempty"`
	Object  string       `json:"object,omitempty"`
	Created int64        `json:"created,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices,omitempty"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
	Error   *ChatError   `json:"error,omitempty"`
}

type ChatChoice struct {
	Index        int                  `json:"index"`
	Message      *ChatResponseMessage `json:"message,omitempty"`
	Delta        *ChatResponseMessage `json:"delta,omitempty"`
	FinishReason *string              `json:"finish_reason"`
}

type ChatResponseMessage struct {
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

// ChatErrorResponse is the OpenAI-shape error envelope.
type ChatErrorResponse struct {
	Error ChatError `json:"error"`
}

func NewChatErrorResponse(errType, message string) ChatErrorResponse {
	return ChatErrorResponse{Error: ChatError{Type: errType, Message: message}}
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
